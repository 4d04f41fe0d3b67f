package ksb

import (
	"context"
	"sync"

	"github.com/eureka/eureka/internal/platform/engine"
)

// PropositionFinder looks up system propositions and remembers the answers,
// including misses.
type PropositionFinder struct {
	ks    engine.KnowledgeSource
	mu    sync.RWMutex
	cache map[string]*engine.PropositionDefinition
}

func NewPropositionFinder(ks engine.KnowledgeSource) *PropositionFinder {
	return &PropositionFinder{ks: ks, cache: make(map[string]*engine.PropositionDefinition)}
}

// Find returns the definition of key, or nil when the system does not know it.
func (f *PropositionFinder) Find(ctx context.Context, key string) (*engine.PropositionDefinition, error) {
	f.mu.RLock()
	d, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return d, nil
	}
	d, err := f.ks.ReadPropositionDefinition(ctx, key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.cache[key] = d
	f.mu.Unlock()
	return d, nil
}

// FindAll returns the known definitions among keys, in order. Unknown keys
// are skipped.
func (f *PropositionFinder) FindAll(ctx context.Context, keys []string) ([]*engine.PropositionDefinition, error) {
	out := make([]*engine.PropositionDefinition, 0, len(keys))
	for _, k := range keys {
		d, err := f.Find(ctx, k)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}
