package dataelement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

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

type elementRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &elementRepoPG{pool: pool}
}

func (r *elementRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// definition is the type-specific part of an element, stored as jsonb.
type definition struct {
	Children            []Child              `json:"children,omitempty"`
	PrimaryDataElement  *DataElementField    `json:"primaryDataElement,omitempty"`
	RelatedDataElements []RelatedDataElement `json:"relatedDataElements,omitempty"`
	AtLeast             int                  `json:"atLeast,omitempty"`
	IsConsecutive       bool                 `json:"isConsecutive,omitempty"`
	DataElement         *DataElementField    `json:"dataElement,omitempty"`
	IsWithin            bool                 `json:"isWithin,omitempty"`
	WithinAtLeast       *int                 `json:"withinAtLeast,omitempty"`
	WithinAtLeastUnits  *int64               `json:"withinAtLeastUnits,omitempty"`
	WithinAtMost        *int                 `json:"withinAtMost,omitempty"`
	WithinAtMostUnits   *int64               `json:"withinAtMostUnits,omitempty"`
	FrequencyType       string               `json:"frequencyType,omitempty"`
	ThresholdsOperator  string               `json:"thresholdsOperator,omitempty"`
	ValueThresholds     []ValueThreshold     `json:"valueThresholds,omitempty"`
}

func definitionOf(d *DataElement) ([]byte, error) {
	return json.Marshal(definition{
		Children:            d.Children,
		PrimaryDataElement:  d.PrimaryDataElement,
		RelatedDataElements: d.RelatedDataElements,
		AtLeast:             d.AtLeast,
		IsConsecutive:       d.IsConsecutive,
		DataElement:         d.DataElement,
		IsWithin:            d.IsWithin,
		WithinAtLeast:       d.WithinAtLeast,
		WithinAtLeastUnits:  d.WithinAtLeastUnits,
		WithinAtMost:        d.WithinAtMost,
		WithinAtMostUnits:   d.WithinAtMostUnits,
		FrequencyType:       d.FrequencyType,
		ThresholdsOperator:  d.ThresholdsOperator,
		ValueThresholds:     d.ValueThresholds,
	})
}

func (def definition) apply(d *DataElement) {
	d.Children = def.Children
	d.PrimaryDataElement = def.PrimaryDataElement
	d.RelatedDataElements = def.RelatedDataElements
	d.AtLeast = def.AtLeast
	d.IsConsecutive = def.IsConsecutive
	d.DataElement = def.DataElement
	d.IsWithin = def.IsWithin
	d.WithinAtLeast = def.WithinAtLeast
	d.WithinAtLeastUnits = def.WithinAtLeastUnits
	d.WithinAtMost = def.WithinAtMost
	d.WithinAtMostUnits = def.WithinAtMostUnits
	d.FrequencyType = def.FrequencyType
	d.ThresholdsOperator = def.ThresholdsOperator
	d.ValueThresholds = def.ValueThresholds
}

const elementCols = `id, user_id, key, COALESCE(display_name, ''), COALESCE(abbrev_display_name, ''),
	COALESCE(description, ''), type, in_system, definition, created_at, last_modified`

func notFound(what string) error {
	return apperr.Newf(apperr.ErrNotFound, "Data element %s not found", what)
}

func duplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *elementRepoPG) scanElement(row pgx.Row) (*DataElement, error) {
	var (
		d                 DataElement
		id, userID        int64
		typ               string
		raw               []byte
		created, modified time.Time
	)
	err := row.Scan(&id, &userID, &d.Key, &d.DisplayName, &d.AbbrevDisplayName,
		&d.Description, &typ, &d.InSystem, &raw, &created, &modified)
	if err != nil {
		return nil, err
	}
	var def definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	def.apply(&d)
	d.ID, d.UserID = &id, &userID
	d.Type = Type(typ)
	d.Created, d.LastModified = &created, &modified
	return &d, nil
}

func (r *elementRepoPG) Create(ctx context.Context, d *DataElement) error {
	def, err := definitionOf(d)
	if err != nil {
		return err
	}
	var id int64
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO data_elements (user_id, key, display_name, abbrev_display_name, description,
			type, in_system, definition, created_at, last_modified)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)
		RETURNING id`,
		*d.UserID, d.Key, d.DisplayName, d.AbbrevDisplayName, d.Description,
		string(d.Type), d.InSystem, def, *d.Created, *d.LastModified).Scan(&id)
	if duplicate(err) {
		return apperr.New(apperr.ErrConflict, "Data element already exists.")
	}
	if err != nil {
		return err
	}
	d.ID = &id
	return nil
}

func (r *elementRepoPG) Update(ctx context.Context, d *DataElement) error {
	def, err := definitionOf(d)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE data_elements SET key = $2, display_name = NULLIF($3, ''), abbrev_display_name = NULLIF($4, ''),
			description = NULLIF($5, ''), type = $6, in_system = $7, definition = $8, last_modified = $9
		WHERE id = $1`,
		*d.ID, d.Key, d.DisplayName, d.AbbrevDisplayName, d.Description,
		string(d.Type), d.InSystem, def, *d.LastModified)
	if duplicate(err) {
		return apperr.New(apperr.ErrConflict, "Data element already exists.")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(d.Key)
	}
	return nil
}

func (r *elementRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM data_elements WHERE id = $1`, id)
	return err
}

func (r *elementRepoPG) GetByID(ctx context.Context, id int64) (*DataElement, error) {
	d, err := r.scanElement(r.conn(ctx).QueryRow(ctx, `SELECT `+elementCols+` FROM data_elements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.ErrNotFound, "No data element with id %d", id)
	}
	return d, err
}

func (r *elementRepoPG) GetByKey(ctx context.Context, userID int64, key string) (*DataElement, error) {
	d, err := r.scanElement(r.conn(ctx).QueryRow(ctx,
		`SELECT `+elementCols+` FROM data_elements WHERE user_id = $1 AND key = $2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}
	return d, err
}

func (r *elementRepoPG) ListByUser(ctx context.Context, userID int64) ([]*DataElement, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+elementCols+` FROM data_elements WHERE user_id = $1 ORDER BY key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DataElement
	for rows.Next() {
		d, err := r.scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
