package dataelement

import (
	"context"
	"errors"

	"github.com/eureka/eureka/internal/domain/systemelement"
	"github.com/eureka/eureka/internal/platform/apperr"
)

const (
	NodeSystem = "system"
	NodeUser   = "user"
)

// TreeNode is one node of the element browser tree.
type TreeNode struct {
	Data     string      `json:"data"`
	Attr     TreeAttr    `json:"attr"`
	Type     string      `json:"type"`
	Children []*TreeNode `json:"children,omitempty"`
}

type TreeAttr struct {
	Key     string `json:"key"`
	DataKey string `json:"data-key"`
}

// Tree returns the user's element key with the elements it is built from.
// System children come first and are not expanded; user children are.
func (s *Service) Tree(ctx context.Context, userID int64, key string) (*TreeNode, error) {
	els, err := s.elements.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*DataElement, len(els))
	for _, el := range els {
		if !el.InSystem {
			byKey[el.Key] = el
		}
	}
	root, ok := byKey[key]
	if !ok {
		return nil, notFound(key)
	}
	return s.userNode(ctx, root, byKey, map[string]bool{})
}

func (s *Service) userNode(ctx context.Context, el *DataElement, byKey map[string]*DataElement, path map[string]bool) (*TreeNode, error) {
	node := &TreeNode{
		Data: el.Name(),
		Attr: TreeAttr{Key: el.Key, DataKey: systemelement.UserPrefix + el.Key},
		Type: NodeUser,
	}
	path[el.Key] = true
	defer delete(path, el.Key)

	var users []*DataElement
	for _, ref := range el.References() {
		if child, ok := byKey[ref]; ok {
			users = append(users, child)
			continue
		}
		name := ref
		sys, err := s.system.Get(ctx, ref)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		if sys != nil {
			name = fromSystem(sys).Name()
		}
		node.Children = append(node.Children, &TreeNode{
			Data: name,
			Attr: TreeAttr{Key: ref, DataKey: ref},
			Type: NodeSystem,
		})
	}
	for _, child := range users {
		if path[child.Key] {
			continue
		}
		cn, err := s.userNode(ctx, child, byKey, path)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, cn)
	}
	return node, nil
}
