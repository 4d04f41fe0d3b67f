package cohort

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type cohortRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &cohortRepoPG{pool: pool}
}

func (r *cohortRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *cohortRepoPG) Create(ctx context.Context, c *Cohort) error {
	node, err := json.Marshal(c.Node)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO cohorts (node) VALUES ($1)
		RETURNING id, created_at, updated_at`, node).Scan(&c.ID, &c.Created, &c.Updated)
}

func (r *cohortRepoPG) GetByID(ctx context.Context, id int64) (*Cohort, error) {
	var c Cohort
	var node []byte
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, node, created_at, updated_at FROM cohorts WHERE id = $1`, id).
		Scan(&c.ID, &node, &c.Created, &c.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.ErrNotFound, "cohort %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(node, &c.Node); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *cohortRepoPG) Update(ctx context.Context, c *Cohort) error {
	node, err := json.Marshal(c.Node)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE cohorts SET node = $2, updated_at = NOW() WHERE id = $1
		RETURNING updated_at`, c.ID, node).Scan(&c.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Newf(apperr.ErrNotFound, "cohort %d not found", c.ID)
	}
	return err
}

func (r *cohortRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM cohorts WHERE id = $1`, id)
	return err
}
