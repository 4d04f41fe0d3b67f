package dataelement

import "context"

type Repository interface {
	Create(ctx context.Context, d *DataElement) error
	Update(ctx context.Context, d *DataElement) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*DataElement, error)
	GetByKey(ctx context.Context, userID int64, key string) (*DataElement, error)
	// ListByUser returns the user's elements ordered by key.
	ListByUser(ctx context.Context, userID int64) ([]*DataElement, error)
}
