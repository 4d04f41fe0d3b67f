package etl

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/domain/job"
)

// StaleJobs is what the sweeper needs from the job store.
type StaleJobs interface {
	Search(ctx context.Context, f job.Filter) ([]*job.Job, error)
	EventRecorder
}

// Sweeper periodically fails jobs that stopped making progress, such as
// jobs queued or running when a previous process exited.
type Sweeper struct {
	jobs       StaleJobs
	running    func(id int64) bool
	staleAfter time.Duration
	logger     zerolog.Logger
	cron       *cron.Cron
	now        func() time.Time
}

func NewSweeper(jobs StaleJobs, running func(id int64) bool, staleAfter time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		jobs:       jobs,
		running:    running,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "sweeper").Logger(),
		now:        time.Now,
	}
}

// Start runs Sweep on schedule, a cron spec such as "@every 10m".
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("job sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep appends a FAILED event to every unfinished job older than the stale
// age that is not executing here. It returns the number of jobs abandoned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	before := s.now().Add(-s.staleAfter)
	jobs, err := s.jobs.Search(ctx, job.Filter{Unfinished: true, To: &before})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if s.running != nil && s.running(j.ID) {
			continue
		}
		ev := &job.JobEvent{Status: job.StatusFailed, Message: "Processing abandoned"}
		if err := s.jobs.AddEvent(ctx, j.ID, ev); err != nil {
			return n, err
		}
		s.logger.Warn().Int64("job_id", j.ID).Str("username", j.Username).Time("created", j.Created).Msg("job abandoned")
		n++
	}
	return n, nil
}
