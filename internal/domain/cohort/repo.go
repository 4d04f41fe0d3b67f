package cohort

import "context"

type Repository interface {
	Create(ctx context.Context, c *Cohort) error
	GetByID(ctx context.Context, id int64) (*Cohort, error)
	Update(ctx context.Context, c *Cohort) error
	Delete(ctx context.Context, id int64) error
}
