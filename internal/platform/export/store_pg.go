package export

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eureka/eureka/internal/platform/db"
	"github.com/eureka/eureka/internal/platform/engine"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var resultColumns = []string{"destination_name", "key_id", "proposition_id", "start_time", "finish_time", "value", "job_id"}

type resultStorePG struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) ResultStore {
	return &resultStorePG{pool: pool}
}

func (r *resultStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *resultStorePG) Clear(ctx context.Context, dest string) error {
	return db.InTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM destination_results WHERE destination_name = $1`, dest); err != nil {
			return err
		}
		_, err := r.conn(ctx).Exec(ctx, `DELETE FROM destination_hierarchy WHERE destination_name = $1`, dest)
		return err
	})
}

func (r *resultStorePG) SaveHierarchy(ctx context.Context, dest string, childrenToParents map[string][]string) error {
	for child, parents := range childrenToParents {
		for _, parent := range parents {
			_, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO destination_hierarchy (destination_name, child_id, parent_id)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, dest, child, parent)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *resultStorePG) Insert(ctx context.Context, dest string, rows []Row) error {
	n, err := r.conn(ctx).CopyFrom(ctx, pgx.Identifier{"destination_results"}, resultColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
			row := rows[i]
			return []interface{}{dest, row.KeyID, row.PropositionID, row.Start, row.Finish, row.Value, row.JobID}, nil
		}))
	if err != nil {
		return err
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copied %d of %d rows", n, len(rows))
	}
	return nil
}

func (r *resultStorePG) Statistics(ctx context.Context, dest string, propIDs []string) (*engine.Statistics, error) {
	filter := ""
	args := []interface{}{dest}
	if len(propIDs) > 0 {
		filter = ` AND proposition_id = ANY($2)`
		args = append(args, propIDs)
	}

	stats := &engine.Statistics{
		Counts:            make(map[string]int),
		ChildrenToParents: make(map[string][]string),
	}
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(DISTINCT key_id) FROM destination_results WHERE destination_name = $1`+filter, args...).
		Scan(&stats.NumberOfKeys)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT proposition_id, COUNT(DISTINCT key_id) FROM destination_results
		WHERE destination_name = $1`+filter+` GROUP BY proposition_id`, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Counts[id] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := r.conn(ctx).Query(ctx, `
		SELECT child_id, parent_id FROM destination_hierarchy
		WHERE destination_name = $1 ORDER BY child_id, parent_id`, dest)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var child, parent string
		if err := hrows.Scan(&child, &parent); err != nil {
			return nil, err
		}
		stats.ChildrenToParents[child] = append(stats.ChildrenToParents[child], parent)
	}
	return stats, hrows.Err()
}
