package etl

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/platform/metrics"
)

// Jobs is what a Task needs from the job store.
type Jobs interface {
	GetByID(ctx context.Context, id int64) (*job.Job, error)
	EventRecorder
}

// Runner runs one job. *ETL is the production Runner.
type Runner interface {
	Run(ctx context.Context, j *job.Job, req *job.TaskRequest) error
}

type panicError struct {
	value interface{}
	stack []string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// Task runs one queued job and records its lifecycle events.
type Task struct {
	req    *job.TaskRequest
	jobs   Jobs
	runner Runner
	logger zerolog.Logger
	now    func() time.Time
}

func NewTask(req *job.TaskRequest, jobs Jobs, runner Runner, logger zerolog.Logger) *Task {
	return &Task{req: req, jobs: jobs, runner: runner, logger: logger, now: time.Now}
}

func (t *Task) event(ctx context.Context, status job.Status, msg string, trace []string) {
	ev := &job.JobEvent{Status: status, Message: msg, ExceptionStackTrace: trace}
	if err := t.jobs.AddEvent(context.WithoutCancel(ctx), t.req.JobID, ev); err != nil {
		t.logger.Error().Err(err).Int64("job_id", t.req.JobID).Str("status", string(status)).Msg("could not record job event")
	}
}

// Run executes the job: STARTED, then COMPLETED on success or ERROR and
// FAILED on error or panic.
func (t *Task) Run(ctx context.Context) {
	start := t.now()
	log := t.logger.With().Int64("job_id", t.req.JobID).Str("username", t.req.Username).Logger()

	j, err := t.jobs.GetByID(ctx, t.req.JobID)
	if err != nil {
		log.Error().Err(err).Msg("could not create job")
		return
	}

	t.event(ctx, job.StatusStarted, "Processing started", nil)
	log.Info().Str("source_config", j.SourceConfigID).Str("destination", j.DestinationID).Msg("job started")

	if err := t.runSafely(ctx, j); err != nil {
		t.event(ctx, job.StatusError, err.Error(), stackTrace(err))
		t.event(ctx, job.StatusFailed, "Processing failed", nil)
		metrics.RecordJobFinished(string(job.StatusFailed), t.now().Sub(start))
		log.Error().Err(err).Msg("job failed")
		return
	}
	t.event(ctx, job.StatusCompleted, "Processing completed without error", nil)
	metrics.RecordJobFinished(string(job.StatusCompleted), t.now().Sub(start))
	log.Info().Dur("duration", t.now().Sub(start)).Msg("job completed")
}

func (t *Task) runSafely(ctx context.Context, j *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")}
		}
	}()
	return t.runner.Run(ctx, j, t.req)
}
