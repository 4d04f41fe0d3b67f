package destination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/db"
	"github.com/eureka/eureka/internal/platform/export"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type destRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &destRepoPG{pool: pool}
}

func (r *destRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const destCols = `d.id, d.name, COALESCE(d.description, ''), d.type, d.owner_user_id,
	d.read_allowed, d.write_allowed, d.execute_allowed,
	d.get_statistics_supported, d.job_concept_list_supported,
	d.required_concepts, d.phenotype_fields, d.links,
	d.cohort_id, c.node, COALESCE(d.alias_proposition_id, ''), COALESCE(d.db_path, ''),
	d.created_at, d.expired_at`

const destFrom = `destinations d LEFT JOIN cohorts c ON c.id = d.cohort_id`

func (r *destRepoPG) scanDest(row pgx.Row) (*Destination, error) {
	var d Destination
	var typ string
	var fields, links, node []byte
	err := row.Scan(&d.ID, &d.Name, &d.Description, &typ, &d.OwnerUserID,
		&d.Read, &d.Write, &d.Execute,
		&d.GetStatisticsSupported, &d.JobConceptListSupported,
		&d.RequiredConcepts, &fields, &links,
		&d.CohortID, &node, &d.AliasPropositionID, &d.DBPath,
		&d.Created, &d.ExpiredAt)
	if err != nil {
		return nil, err
	}
	d.Type = export.Type(typ)
	if err := json.Unmarshal(fields, &d.PhenotypeFields); err != nil {
		return nil, fmt.Errorf("decode phenotype fields of %s: %w", d.Name, err)
	}
	if err := json.Unmarshal(links, &d.Links); err != nil {
		return nil, fmt.Errorf("decode links of %s: %w", d.Name, err)
	}
	if node != nil {
		if err := json.Unmarshal(node, &d.Cohort); err != nil {
			return nil, fmt.Errorf("decode cohort of %s: %w", d.Name, err)
		}
	}
	return &d, nil
}

func (r *destRepoPG) Create(ctx context.Context, d *Destination) error {
	fields, err := json.Marshal(nonNil(d.PhenotypeFields))
	if err != nil {
		return err
	}
	links, err := json.Marshal(nonNil(d.Links))
	if err != nil {
		return err
	}
	if d.RequiredConcepts == nil {
		d.RequiredConcepts = []string{}
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO destinations (name, description, type, owner_user_id,
			read_allowed, write_allowed, execute_allowed,
			get_statistics_supported, job_concept_list_supported,
			required_concepts, phenotype_fields, links,
			cohort_id, alias_proposition_id, db_path)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), NULLIF($15, ''))
		RETURNING id, created_at`,
		d.Name, d.Description, string(d.Type), d.OwnerUserID,
		d.Read, d.Write, d.Execute,
		d.GetStatisticsSupported, d.JobConceptListSupported,
		d.RequiredConcepts, fields, links,
		d.CohortID, d.AliasPropositionID, d.DBPath).Scan(&d.ID, &d.Created)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Newf(apperr.ErrConflict, "Destination %s already exists", d.Name)
	}
	return err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (r *destRepoPG) GetCurrent(ctx context.Context, name string) (*Destination, error) {
	d, err := r.scanDest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+destCols+` FROM `+destFrom+` WHERE d.name = $1 AND d.expired_at IS NULL`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.ErrNotFound, "Invalid destination name %s", name)
	}
	return d, err
}

func (r *destRepoPG) ListCurrent(ctx context.Context, typ export.Type, limit, offset int) ([]*Destination, int, error) {
	where := `d.expired_at IS NULL`
	var args []interface{}
	if typ != "" {
		args = append(args, string(typ))
		where += ` AND d.type = $1`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM destinations d WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + destCols + ` FROM ` + destFrom + ` WHERE ` + where + ` ORDER BY d.name`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Destination
	for rows.Next() {
		d, err := r.scanDest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (r *destRepoPG) Expire(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE destinations SET expired_at = NOW() WHERE id = $1 AND expired_at IS NULL`, id)
	return err
}
