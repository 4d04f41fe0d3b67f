package timeunit

import "context"

type Repository interface {
	// List returns every unit ordered by rank.
	List(ctx context.Context) ([]*TimeUnit, error)
	GetByID(ctx context.Context, id int64) (*TimeUnit, error)
}
