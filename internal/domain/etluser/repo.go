package etluser

import "context"

type Repository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// GetOrCreate returns the user named username, inserting it if needed.
	GetOrCreate(ctx context.Context, username string) (*User, error)
}
