package systemelement

import (
	"context"
	"strings"

	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/engine"
)

// Finder looks up system proposition definitions. A nil definition means
// the key is unknown.
type Finder interface {
	Find(ctx context.Context, key string) (*engine.PropositionDefinition, error)
}

type Service struct {
	finder Finder
}

func NewService(finder Finder) *Service {
	return &Service{finder: finder}
}

func (s *Service) Get(ctx context.Context, key string) (*SystemElement, error) {
	d, err := s.finder.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperr.Newf(apperr.ErrNotFound, "No system element found with key %s", key)
	}
	return fromDefinition(d), nil
}

// GetAll returns the known elements among keys. Unknown keys are skipped.
func (s *Service) GetAll(ctx context.Context, keys []string) ([]*SystemElement, error) {
	out := make([]*SystemElement, 0, len(keys))
	for _, k := range keys {
		d, err := s.finder.Find(ctx, k)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, fromDefinition(d))
		}
	}
	return out, nil
}

// IsSystem reports whether key names a system phenotype.
func (s *Service) IsSystem(ctx context.Context, key string) (bool, error) {
	d, err := s.finder.Find(ctx, key)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

// PropositionID maps a phenotype key to the id the engine knows it by.
// System keys are used as is; user keys get UserPrefix.
func (s *Service) PropositionID(ctx context.Context, key string) (string, error) {
	if strings.HasPrefix(key, UserPrefix) {
		return key, nil
	}
	system, err := s.IsSystem(ctx, key)
	if err != nil {
		return "", err
	}
	if system {
		return key, nil
	}
	return UserPrefix + key, nil
}
