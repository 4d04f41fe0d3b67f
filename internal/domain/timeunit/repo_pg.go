package timeunit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type timeUnitRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &timeUnitRepoPG{pool: pool}
}

func (r *timeUnitRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const unitCols = `id, name, description, rank`

func (r *timeUnitRepoPG) List(ctx context.Context) ([]*TimeUnit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+unitCols+` FROM time_units ORDER BY rank`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TimeUnit
	for rows.Next() {
		var u TimeUnit
		if err := rows.Scan(&u.ID, &u.Name, &u.Description, &u.Rank); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (r *timeUnitRepoPG) GetByID(ctx context.Context, id int64) (*TimeUnit, error) {
	var u TimeUnit
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+unitCols+` FROM time_units WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Description, &u.Rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.ErrNotFound, "No time unit with id %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
