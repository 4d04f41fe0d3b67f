package destination

import (
	"context"

	"github.com/eureka/eureka/internal/platform/export"
)

type Repository interface {
	Create(ctx context.Context, d *Destination) error
	// GetCurrent returns the unexpired destination named name.
	GetCurrent(ctx context.Context, name string) (*Destination, error)
	// ListCurrent returns unexpired destinations by name, optionally of one
	// type. limit <= 0 means no limit.
	ListCurrent(ctx context.Context, typ export.Type, limit, offset int) ([]*Destination, int, error)
	Expire(ctx context.Context, id int64) error
}
