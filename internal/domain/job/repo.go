package job

import "context"

type Repository interface {
	Create(ctx context.Context, j *Job) error
	// List returns matching jobs with their events in time order.
	List(ctx context.Context, f Filter) ([]*Job, error)
	AddEvent(ctx context.Context, jobID int64, ev *JobEvent) error
}
