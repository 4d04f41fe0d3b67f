package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrUnknownProposition is returned when a query names an id that neither
	// the query nor the knowledge source defines.
	ErrUnknownProposition = errors.New("unknown proposition id")
	// ErrStatisticsUnsupported is returned for destinations that keep no
	// queryable results.
	ErrStatisticsUnsupported = errors.New("destination does not support statistics")
)

// Engine runs queries against one data source and knowledge source.
type Engine struct {
	ds        DataSource
	ks        KnowledgeSource
	listeners []EventListener
	now       func() time.Time
}

func New(ds DataSource, ks KnowledgeSource) *Engine {
	return &Engine{ds: ds, ks: ks, now: time.Now}
}

// AddEventListener registers l for every later Execute call.
func (e *Engine) AddEventListener(l EventListener) {
	e.listeners = append(e.listeners, l)
}

func (e *Engine) fire(t EventType, format string, args ...any) {
	ev := Event{Type: t, Description: fmt.Sprintf(format, args...), Time: e.now()}
	for _, l := range e.listeners {
		l(ev)
	}
}

// ValidateDataSourceBackendData runs the data source's validation.
func (e *Engine) ValidateDataSourceBackendData(ctx context.Context) ([]DataValidationEvent, error) {
	return e.ds.ValidateData(ctx)
}

func (e *Engine) SupportedPropositionIDs(ctx context.Context, dest Destination) ([]string, error) {
	return dest.SupportedPropositionIDs(ctx)
}

// Statistics asks dest for statistics when it keeps any.
func (e *Engine) Statistics(ctx context.Context, dest Destination, propIDs []string) (*Statistics, error) {
	src, ok := dest.(StatisticsSource)
	if !ok {
		return nil, ErrStatisticsUnsupported
	}
	return src.Statistics(ctx, propIDs)
}

// Plan is a validated query with every definition it needs resolved.
type Plan struct {
	Query       *Query
	Definitions map[string]*PropositionDefinition
	// DataSourceIDs are the ids read from the data source.
	DataSourceIDs []string
	// Hierarchy maps child ids to the categorizations that contain them.
	Hierarchy map[string][]string
}

// BuildQuery validates the query's user definitions and resolves the
// definitions reachable from the requested ids.
func (e *Engine) BuildQuery(ctx context.Context, q *Query) (*Plan, error) {
	v := NewValidator(e.ks)
	ok, err := v.Validate(ctx, q.Definitions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ValidationError{Messages: v.Messages()}
	}

	plan := &Plan{
		Query:       q,
		Definitions: make(map[string]*PropositionDefinition),
		Hierarchy:   make(map[string][]string),
	}
	user := make(map[string]*PropositionDefinition, len(q.Definitions))
	for _, d := range q.Definitions {
		user[d.ID] = d
	}

	dataIDs := make(map[string]bool)
	resolved := make(map[string]bool)
	var resolve func(id string) error
	resolve = func(id string) error {
		if resolved[id] {
			return nil
		}
		resolved[id] = true
		def, ok := user[id]
		if !ok && e.ks != nil {
			d, err := e.ks.ReadPropositionDefinition(ctx, id)
			if err != nil {
				return fmt.Errorf("read proposition definition %s: %w", id, err)
			}
			def = d
		}
		if def == nil {
			return fmt.Errorf("%w: %s", ErrUnknownProposition, id)
		}
		plan.Definitions[id] = def
		if def.InDataSource {
			dataIDs[id] = true
		}
		for _, child := range def.InverseIsA {
			plan.Hierarchy[child] = append(plan.Hierarchy[child], id)
		}
		for _, ref := range def.References() {
			if err := resolve(ref); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range q.PropositionIDs {
		if err := resolve(id); err != nil {
			return nil, err
		}
	}

	for id := range dataIDs {
		plan.DataSourceIDs = append(plan.DataSourceIDs, id)
	}
	sort.Strings(plan.DataSourceIDs)
	return plan, nil
}

// Execute derives the query's propositions for every key and writes them to
// dest.
func (e *Engine) Execute(ctx context.Context, q *Query, dest Destination) error {
	e.fire(EventQueryStart, "query %s", q.Name)
	plan, err := e.BuildQuery(ctx, q)
	if err != nil {
		return fmt.Errorf("build query %s: %w", q.Name, err)
	}

	e.fire(EventDataFetchStart, "%d proposition ids", len(plan.DataSourceIDs))
	byKey, err := e.ds.ReadPropositions(ctx, nil, plan.DataSourceIDs)
	if err != nil {
		return fmt.Errorf("read propositions: %w", err)
	}
	e.fire(EventDataFetchStop, "%d keys", len(byKey))

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.fire(EventAbstractionStart, "%d keys", len(keys))
	results := make(map[string][]*Proposition, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := newDeriver(key, plan.Definitions, byKey[key], q.Filters)
		var out []*Proposition
		for _, id := range q.PropositionIDs {
			out = append(out, d.instances(id)...)
		}
		if len(out) > 0 {
			results[key] = out
		}
	}
	e.fire(EventAbstractionStop, "%d keys with results", len(results))

	e.fire(EventOutputStart, "mode %s", q.Mode)
	if err := dest.Start(ctx, q, plan.Hierarchy); err != nil {
		return fmt.Errorf("start destination: %w", err)
	}
	if err := writeAll(ctx, dest, keys, results); err != nil {
		if a, ok := dest.(Aborter); ok {
			a.Abort(context.WithoutCancel(ctx), err)
		}
		return err
	}
	e.fire(EventOutputStop, "%d keys written", len(results))
	e.fire(EventQueryStop, "query %s", q.Name)
	return nil
}

func writeAll(ctx context.Context, dest Destination, keys []string, results map[string][]*Proposition) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		props, ok := results[key]
		if !ok {
			continue
		}
		if err := dest.Write(ctx, key, props); err != nil {
			return fmt.Errorf("write key %s: %w", key, err)
		}
	}
	if err := dest.Finish(ctx); err != nil {
		return fmt.Errorf("finish destination: %w", err)
	}
	return nil
}

// Close releases the data source.
func (e *Engine) Close() error {
	if e.ds == nil {
		return nil
	}
	return e.ds.Close()
}
