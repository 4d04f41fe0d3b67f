package job

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/eureka/eureka/internal/domain/etluser"
	"github.com/eureka/eureka/internal/domain/sourceconfig"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/db"
	"github.com/eureka/eureka/internal/platform/engine"
)

// ErrQueueFull is returned by a Queue that cannot take another task.
var ErrQueueFull = errors.New("job queue is full")

// Queue runs created jobs in the background.
type Queue interface {
	Submit(ctx context.Context, req *TaskRequest) error
}

// Destinations reports whether a destination name is current.
type Destinations interface {
	IsCurrent(ctx context.Context, name string) (bool, error)
}

// StatsProvider reads statistics from a destination. It returns an
// apperr.ErrNotFound error when the destination does not exist and nil
// statistics for destinations that keep none.
type StatsProvider interface {
	Statistics(ctx context.Context, destination string, propIDs []string) (*engine.Statistics, error)
}

type PromptConverter interface {
	ToConfiguration(prompts *sourceconfig.SourceConfig) (sourceconfig.Prompts, error)
}

// internalError is a 500 with a fixed message and a logged cause.
type internalError struct {
	msg string
	err error
}

func (e *internalError) Error() string { return e.msg }

func (e *internalError) Unwrap() error { return e.err }

type Service struct {
	jobs         Repository
	destinations Destinations
	stats        StatsProvider
	prompts      PromptConverter
	queue        Queue
}

func NewService(jobs Repository, destinations Destinations, stats StatsProvider, prompts PromptConverter, queue Queue) *Service {
	return &Service{jobs: jobs, destinations: destinations, stats: stats, prompts: prompts, queue: queue}
}

func (s *Service) ListForUser(ctx context.Context, userID int64, desc bool) ([]*Job, error) {
	return s.jobs.List(ctx, Filter{UserID: &userID, Desc: desc})
}

// Get returns job id when it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, id int64) (*Job, error) {
	jobs, err := s.jobs.List(ctx, Filter{JobID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	switch len(jobs) {
	case 0:
		return nil, apperr.Newf(apperr.ErrNotFound, "Job %d not found", id)
	case 1:
		return jobs[0], nil
	default:
		return nil, &internalError{msg: fmt.Sprintf("%d jobs returned for job id %d", len(jobs), id)}
	}
}

// GetByID returns a job regardless of owner.
func (s *Service) GetByID(ctx context.Context, id int64) (*Job, error) {
	jobs, err := s.jobs.List(ctx, Filter{JobID: &id})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, apperr.Newf(apperr.ErrNotFound, "Job %d not found", id)
	}
	return jobs[0], nil
}

// Latest returns the user's most recent job as a list of at most one.
func (s *Service) Latest(ctx context.Context, userID int64) ([]*Job, error) {
	return s.jobs.List(ctx, Filter{UserID: &userID, Latest: true})
}

func (s *Service) Search(ctx context.Context, f Filter) ([]*Job, error) {
	return s.jobs.List(ctx, f)
}

func (s *Service) AddEvent(ctx context.Context, jobID int64, ev *JobEvent) error {
	return s.jobs.AddEvent(ctx, jobID, ev)
}

// Stats reads the statistics of the destination job id wrote to.
func (s *Service) Stats(ctx context.Context, userID, id int64, propIDs []string) (*Statistics, error) {
	j, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	st, err := s.stats.Statistics(ctx, j.DestinationID, propIDs)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, &internalError{msg: "Invalid destination id " + j.DestinationID, err: err}
		}
		return nil, &internalError{msg: "Error getting stats", err: err}
	}
	out := &Statistics{Counts: map[string]int{}, ChildrenToParents: map[string][]string{}}
	if st != nil {
		out.NumberOfKeys = st.NumberOfKeys
		if st.Counts != nil {
			out.Counts = st.Counts
		}
		if st.ChildrenToParents != nil {
			out.ChildrenToParents = st.ChildrenToParents
		}
	}
	return out, nil
}

func parseSide(s string, def engine.Side) (engine.Side, error) {
	switch engine.Side(s) {
	case "":
		return def, nil
	case engine.SideStart, engine.SideFinish:
		return engine.Side(s), nil
	}
	return "", apperr.Newf(apperr.ErrInvalid, "Invalid date side %s", s)
}

func dateFilter(spec *JobSpec) (*engine.DateTimeFilter, error) {
	if spec.DateRangePhenotypeKey == "" || (spec.EarliestDate == nil && spec.LatestDate == nil) {
		return nil, nil
	}
	earliestSide, err := parseSide(spec.EarliestDateSide, engine.SideStart)
	if err != nil {
		return nil, err
	}
	latestSide, err := parseSide(spec.LatestDateSide, engine.SideFinish)
	if err != nil {
		return nil, err
	}
	return engine.NewDateTimeFilter([]string{spec.DateRangePhenotypeKey},
		spec.EarliestDate, earliestSide, spec.LatestDate, latestSide), nil
}

// Submit creates a job for user and queues it.
func (s *Service) Submit(ctx context.Context, user *etluser.User, req *JobRequest) (*Job, error) {
	spec := req.JobSpec
	if spec == nil || spec.SourceConfigID == "" {
		return nil, apperr.New(apperr.ErrInvalid, "Sourceconfig must be specified")
	}
	if spec.DestinationID == "" {
		return nil, apperr.New(apperr.ErrInvalid, "Destination must be specified")
	}
	ok, err := s.destinations.IsCurrent(ctx, spec.DestinationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Newf(apperr.ErrInvalid, "Invalid destination %s", spec.DestinationID)
	}
	prompts, err := s.prompts.ToConfiguration(spec.Prompts)
	if err != nil {
		return nil, err
	}
	filter, err := dateFilter(spec)
	if err != nil {
		return nil, err
	}

	j := &Job{
		SourceConfigID: spec.SourceConfigID,
		DestinationID:  spec.DestinationID,
		Name:           spec.Name,
		UserID:         user.ID,
		Username:       user.Username,
		JobEvents:      []*JobEvent{},
	}
	if err := db.InTx(ctx, func(ctx context.Context) error {
		return s.jobs.Create(ctx, j)
	}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	err = s.queue.Submit(ctx, &TaskRequest{
		JobID:                j.ID,
		Username:             user.Username,
		Definitions:          req.UserPropositions,
		PropositionIDsToShow: req.PropositionIDsToShow,
		Filter:               filter,
		UpdateData:           spec.UpdateData,
		Prompts:              prompts,
	})
	if err != nil {
		evErr := errors.Join(
			s.jobs.AddEvent(ctx, j.ID, &JobEvent{Status: StatusError, Message: err.Error()}),
			s.jobs.AddEvent(ctx, j.ID, &JobEvent{Status: StatusFailed, Message: "Processing failed"}),
		)
		if evErr != nil {
			return nil, errors.Join(err, fmt.Errorf("record failure of job %d: %w", j.ID, evErr))
		}
		return nil, err
	}
	return j, nil
}

// ParseID parses a job id path parameter.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperr.Newf(apperr.ErrInvalid, "Invalid job id %s", s)
	}
	return id, nil
}
