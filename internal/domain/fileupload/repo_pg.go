package fileupload

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eureka/eureka/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type uploadRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &uploadRepoPG{pool: pool}
}

func (r *uploadRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const uploadCols = `id, user_id, location, created_at`

func (r *uploadRepoPG) Create(ctx context.Context, f *FileUpload) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO file_uploads (user_id, location) VALUES ($1, $2)
		RETURNING id, created_at`, f.UserID, f.Location).Scan(&f.ID, &f.Timestamp)
}

func (r *uploadRepoPG) Latest(ctx context.Context, userID int64) (*FileUpload, error) {
	var f FileUpload
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+uploadCols+` FROM file_uploads
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, userID).
		Scan(&f.ID, &f.UserID, &f.Location, &f.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
