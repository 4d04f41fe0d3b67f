package job

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eureka/eureka/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type jobRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &jobRepoPG{pool: pool}
}

func (r *jobRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// jobView computes each job's state from its latest event.
const jobView = `(
	SELECT j.id, j.source_config_id, j.destination_name, COALESCE(j.name, '') AS name,
		j.user_id, u.username, j.created_at,
		COALESCE((SELECT e.status FROM job_events e WHERE e.job_id = j.id
			ORDER BY e.created_at DESC, e.id DESC LIMIT 1), '') AS state
	FROM jobs j JOIN users u ON u.id = j.user_id
) jv`

const jobCols = `id, source_config_id, destination_name, name, user_id, username, created_at, state`

const eventCols = `id, job_id, status, COALESCE(message, ''), stack_trace, created_at`

func (r *jobRepoPG) Create(ctx context.Context, j *Job) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO jobs (source_config_id, destination_name, name, user_id)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id, created_at`,
		j.SourceConfigID, j.DestinationID, j.Name, j.UserID).Scan(&j.ID, &j.Created)
}

func (r *jobRepoPG) AddEvent(ctx context.Context, jobID int64, ev *JobEvent) error {
	ev.JobID = jobID
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO job_events (job_id, status, message, stack_trace)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		jobID, string(ev.Status), ev.Message, ev.ExceptionStackTrace).Scan(&ev.ID, &ev.TimeStamp)
}

func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.JobID != nil {
		add("id = $%d", *f.JobID)
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if f.Unfinished {
		conds = append(conds, "state NOT IN ('COMPLETED', 'FAILED')")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *jobRepoPG) List(ctx context.Context, f Filter) ([]*Job, error) {
	where, args := buildWhere(f)
	order := " ORDER BY created_at, id"
	if f.Desc || f.Latest {
		order = " ORDER BY created_at DESC, id DESC"
	}
	if f.Latest {
		order += " LIMIT 1"
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+jobCols+` FROM `+jobView+where+order, args...)
	if err != nil {
		return nil, err
	}
	var jobs []*Job
	byID := make(map[int64]*Job)
	for rows.Next() {
		var j Job
		var state string
		if err := rows.Scan(&j.ID, &j.SourceConfigID, &j.DestinationID, &j.Name,
			&j.UserID, &j.Username, &j.Created, &state); err != nil {
			rows.Close()
			return nil, err
		}
		j.State = Status(state)
		j.JobEvents = []*JobEvent{}
		jobs = append(jobs, &j)
		byID[j.ID] = &j
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	ids := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	erows, err := r.conn(ctx).Query(ctx, `SELECT `+eventCols+` FROM job_events
		WHERE job_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, err
	}
	defer erows.Close()
	for erows.Next() {
		var ev JobEvent
		var status string
		if err := erows.Scan(&ev.ID, &ev.JobID, &status, &ev.Message, &ev.ExceptionStackTrace, &ev.TimeStamp); err != nil {
			return nil, err
		}
		ev.Status = Status(status)
		if j := byID[ev.JobID]; j != nil {
			j.JobEvents = append(j.JobEvents, &ev)
		}
	}
	return jobs, erows.Err()
}
