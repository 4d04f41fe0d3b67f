// Package etl runs submitted jobs: it builds the engine for a job's source
// configuration, writes to the job's destination and records job events.
package etl

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/domain/sourceconfig"
	"github.com/eureka/eureka/internal/platform/dsb"
	"github.com/eureka/eureka/internal/platform/engine"
	"github.com/eureka/eureka/internal/platform/export"
	"github.com/eureka/eureka/internal/platform/ksb"
	"github.com/eureka/eureka/internal/platform/metrics"
)

// Destinations resolves a current destination name. It returns an
// apperr.ErrNotFound error for unknown names.
type Destinations interface {
	ExportSpec(ctx context.Context, name string) (*export.Spec, error)
}

type SourceConfigs interface {
	Configuration(ctx context.Context, id string) (*sourceconfig.Configuration, error)
}

// EventRecorder appends job events.
type EventRecorder interface {
	AddEvent(ctx context.Context, jobID int64, ev *job.JobEvent) error
}

type ETL struct {
	configs      SourceConfigs
	destinations Destinations
	factory      *export.Factory
	events       EventRecorder
	dataDir      string
	logger       zerolog.Logger
}

func New(configs SourceConfigs, destinations Destinations, factory *export.Factory, events EventRecorder, dataDir string, logger zerolog.Logger) *ETL {
	return &ETL{
		configs:      configs,
		destinations: destinations,
		factory:      factory,
		events:       events,
		dataDir:      dataDir,
		logger:       logger.With().Str("component", "etl").Logger(),
	}
}

func (e *ETL) record(ctx context.Context, jobID int64, status job.Status, msg string, trace []string) {
	ev := &job.JobEvent{Status: status, Message: msg, ExceptionStackTrace: trace}
	if err := e.events.AddEvent(context.WithoutCancel(ctx), jobID, ev); err != nil {
		e.logger.Error().Err(err).Int64("job_id", jobID).Str("status", string(status)).Msg("could not record job event")
	}
}

// newEngine builds the data source and knowledge source of cfg.
func (e *ETL) newEngine(ctx context.Context, cfg *sourceconfig.Configuration) (*engine.Engine, error) {
	props, ok := cfg.DataSourceBackends[dsb.BackendID]
	if !ok || len(cfg.DataSourceBackends) != 1 {
		return nil, fmt.Errorf("source configuration %s must have exactly one %s section", cfg.ID, dsb.BackendID)
	}
	opts, err := dsb.ParseOptions(dsb.BackendID, props)
	if err != nil {
		return nil, err
	}
	opts.DataDir = e.dataDir
	opts.SourceConfigID = cfg.ID
	opts.Logger = e.logger

	ks, err := ksb.Open(cfg.KnowledgeSourceBackends[ksb.BackendID])
	if err != nil {
		return nil, err
	}
	ds, err := dsb.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return engine.New(ds, ks), nil
}

// Run executes j with the options in req.
func (e *ETL) Run(ctx context.Context, j *job.Job, req *job.TaskRequest) error {
	if err := e.run(ctx, j, req); err != nil {
		return fmt.Errorf("ETL failed for job %d: %w", j.ID, err)
	}
	return nil
}

func (e *ETL) run(ctx context.Context, j *job.Job, req *job.TaskRequest) error {
	cfg, err := e.configs.Configuration(ctx, j.SourceConfigID)
	if err != nil {
		return err
	}
	cfg = cfg.Merge(req.Prompts)

	eng, err := e.newEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("Error creating engine for sourceconfig %s for job %d: %w", j.SourceConfigID, j.ID, err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			e.logger.Error().Err(err).Int64("job_id", j.ID).Msg("could not close engine")
		}
	}()

	if err := e.validate(ctx, eng, j.ID); err != nil {
		return err
	}

	spec, err := e.destinations.ExportSpec(ctx, j.DestinationID)
	if err != nil {
		return err
	}
	dest, err := e.factory.GetInstance(spec, req.UpdateData)
	if err != nil {
		return err
	}

	propIDs := req.PropositionIDsToShow
	if !spec.AllowingQueryPropositionIDs {
		if propIDs, err = eng.SupportedPropositionIDs(ctx, dest); err != nil {
			return err
		}
	}
	mode := engine.ModeReplace
	if req.UpdateData {
		mode = engine.ModeUpdate
	}

	eng.AddEventListener(func(ev engine.Event) {
		e.record(ctx, j.ID, job.StatusStarted, fmt.Sprintf("%s %s", ev.Type, ev.Description), nil)
	})
	q := engine.NewQueryBuilder().
		Name(strconv.FormatInt(j.ID, 10)).
		Username(j.Username).
		PropositionIDs(propIDs).
		Definitions(req.Definitions).
		Filter(req.Filter).
		Mode(mode).
		Build()
	return eng.Execute(ctx, q, dest)
}

// validate records each data validation event on the job. Fatal events
// become ERROR events and the rest WARNING events.
func (e *ETL) validate(ctx context.Context, eng *engine.Engine, jobID int64) error {
	events, err := eng.ValidateDataSourceBackendData(ctx)
	var trace []string
	if err != nil {
		trace = stackTrace(err)
	}
	for _, ev := range events {
		status := job.StatusWarning
		if ev.Fatal {
			status = job.StatusError
		}
		metrics.RecordValidationEvent(ev.Fatal)
		e.record(ctx, jobID, status, ev.UserMessage(), trace)
	}
	return err
}

// Statistics reads the statistics of a destination. Destinations that keep
// no results yield nil.
func (e *ETL) Statistics(ctx context.Context, destination string, propIDs []string) (*engine.Statistics, error) {
	spec, err := e.destinations.ExportSpec(ctx, destination)
	if err != nil {
		return nil, err
	}
	dest, err := e.factory.GetInstance(spec, false)
	if err != nil {
		return nil, err
	}
	src, ok := dest.(engine.StatisticsSource)
	if !ok {
		return nil, nil
	}
	return src.Statistics(ctx, propIDs)
}

// stackTrace renders err's chain, outermost first.
func stackTrace(err error) []string {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.stack
	}
	var lines []string
	for ; err != nil; err = errors.Unwrap(err) {
		lines = append(lines, err.Error())
	}
	return lines
}
