// Package ksb is the system knowledge source: proposition definitions
// loaded from a YAML catalog.
package ksb

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/eureka/eureka/internal/platform/engine"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// BackendID is the section id of this backend in source configurations.
const BackendID = "YAMLKnowledgeSourceBackend"

// Property describes one configurable option of the backend.
type Property struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

func Properties() []Property {
	return []Property{
		{Name: "catalog", DisplayName: "Catalog file",
			Description: "YAML file of proposition definitions. The built-in catalog is used when unset."},
	}
}

// KnowledgeSource serves definitions from memory.
type KnowledgeSource struct {
	defs    map[string]*engine.PropositionDefinition
	ids     []string
	parents map[string][]string
}

// Load parses a catalog. Ids must be unique and every inverseIsA child must
// be defined.
func Load(r io.Reader) (*KnowledgeSource, error) {
	var defs []*engine.PropositionDefinition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	ks := &KnowledgeSource{
		defs:    make(map[string]*engine.PropositionDefinition, len(defs)),
		parents: make(map[string][]string),
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("catalog entry without id")
		}
		if _, dup := ks.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate proposition id %s", d.ID)
		}
		ks.defs[d.ID] = d
		ks.ids = append(ks.ids, d.ID)
	}
	for _, d := range defs {
		for _, ref := range d.References() {
			if _, ok := ks.defs[ref]; !ok {
				return nil, fmt.Errorf("proposition %s references undefined %s", d.ID, ref)
			}
		}
		for _, child := range d.InverseIsA {
			ks.parents[child] = append(ks.parents[child], d.ID)
		}
	}
	return ks, nil
}

// Default returns the built-in catalog.
func Default() (*KnowledgeSource, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// Open builds a knowledge source from source configuration options.
func Open(props map[string]string) (*KnowledgeSource, error) {
	for k := range props {
		if k != "catalog" {
			return nil, fmt.Errorf("unknown property %q for knowledge source backend %s", k, BackendID)
		}
	}
	path := props["catalog"]
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (k *KnowledgeSource) ReadPropositionDefinition(_ context.Context, id string) (*engine.PropositionDefinition, error) {
	return k.defs[id], nil
}

// Definitions returns every definition in catalog order.
func (k *KnowledgeSource) Definitions(_ context.Context) ([]*engine.PropositionDefinition, error) {
	out := make([]*engine.PropositionDefinition, 0, len(k.ids))
	for _, id := range k.ids {
		out = append(out, k.defs[id])
	}
	return out, nil
}

// Parents returns the ids whose inverseIsA contains id, sorted.
func (k *KnowledgeSource) Parents(id string) []string {
	out := append([]string(nil), k.parents[id]...)
	sort.Strings(out)
	return out
}

// Roots returns the ids that are nobody's child, in catalog order.
func (k *KnowledgeSource) Roots() []string {
	var out []string
	for _, id := range k.ids {
		if len(k.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}
