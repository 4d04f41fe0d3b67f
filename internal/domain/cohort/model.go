package cohort

import (
	"fmt"
	"time"
)

const (
	NodeLiteral        = "literal"
	NodeBinaryOperator = "binary_operator"

	OpAnd = "AND"
	OpOr  = "OR"
)

// Node is one node of a cohort's boolean expression. A literal names a
// phenotype key. A binary operator combines Left and Right.
type Node struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Op    string `json:"op,omitempty"`
	Left  *Node  `json:"left,omitempty"`
	Right *Node  `json:"right,omitempty"`
}

// Literal returns a literal node for key.
func Literal(key string) *Node {
	return &Node{Type: NodeLiteral, Name: key}
}

// And returns left AND right.
func And(left, right *Node) *Node {
	return &Node{Type: NodeBinaryOperator, Op: OpAnd, Left: left, Right: right}
}

// Or returns left OR right.
func Or(left, right *Node) *Node {
	return &Node{Type: NodeBinaryOperator, Op: OpOr, Left: left, Right: right}
}

// Validate checks that the tree is well formed.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("cohort node is missing")
	}
	switch n.Type {
	case NodeLiteral:
		if n.Name == "" {
			return fmt.Errorf("literal node has no name")
		}
		return nil
	case NodeBinaryOperator:
		if n.Op != OpAnd && n.Op != OpOr {
			return fmt.Errorf("invalid operator %q", n.Op)
		}
		if err := n.Left.Validate(); err != nil {
			return err
		}
		return n.Right.Validate()
	default:
		return fmt.Errorf("invalid node type %q", n.Type)
	}
}

// Evaluate reports whether a key with the given phenotypes is in the
// cohort.
func (n *Node) Evaluate(present map[string]bool) bool {
	if n == nil {
		return false
	}
	switch n.Type {
	case NodeLiteral:
		return present[n.Name]
	case NodeBinaryOperator:
		if n.Op == OpAnd {
			return n.Left.Evaluate(present) && n.Right.Evaluate(present)
		}
		return n.Left.Evaluate(present) || n.Right.Evaluate(present)
	}
	return false
}

// Literals lists the tree's phenotype keys in order of first appearance.
func (n *Node) Literals() []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Type == NodeLiteral {
			if !seen[n.Name] {
				seen[n.Name] = true
				out = append(out, n.Name)
			}
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(n)
	return out
}

// Map returns a copy of the tree with every literal name replaced by fn.
func (n *Node) Map(fn func(string) string) *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Type == NodeLiteral {
		out.Name = fn(n.Name)
		return &out
	}
	out.Left = n.Left.Map(fn)
	out.Right = n.Right.Map(fn)
	return &out
}

type Cohort struct {
	ID      int64     `json:"id"`
	Node    *Node     `json:"node"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}
