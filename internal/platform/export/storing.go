package export

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/platform/engine"
)

const flushSize = 500

// rowsFunc selects what a destination stores for one key.
type rowsFunc func(keyID string, props []*engine.Proposition) []Row

func toRow(keyID string, p *engine.Proposition) Row {
	return Row{KeyID: keyID, PropositionID: p.ID, Start: p.Start, Finish: p.Finish, Value: p.Value}
}

func allRows(keyID string, props []*engine.Proposition) []Row {
	out := make([]Row, 0, len(props))
	for _, p := range props {
		out = append(out, toRow(keyID, p))
	}
	return out
}

// cohortRows keeps the literal facts of keys that are in the cohort.
func cohortRows(m CohortMatcher) rowsFunc {
	literals := make(map[string]bool)
	for _, l := range m.Literals() {
		literals[l] = true
	}
	return func(keyID string, props []*engine.Proposition) []Row {
		present := make(map[string]bool, len(props))
		for _, p := range props {
			present[p.ID] = true
		}
		if !m.Evaluate(present) {
			return nil
		}
		var out []Row
		for _, p := range props {
			if literals[p.ID] {
				out = append(out, toRow(keyID, p))
			}
		}
		return out
	}
}

// aliasRows records each key once under alias.
func aliasRows(alias string) rowsFunc {
	return func(keyID string, props []*engine.Proposition) []Row {
		if len(props) == 0 {
			return nil
		}
		return []Row{{KeyID: keyID, PropositionID: alias}}
	}
}

// storingDestination buffers rows and writes them to a ResultStore.
type storingDestination struct {
	spec       *Spec
	store      ResultStore
	updateData bool
	rows       rowsFunc
	pending    []Row
	keys       int
	jobID      *int64
	logger     zerolog.Logger
}

func (d *storingDestination) SupportedPropositionIDs(_ context.Context) ([]string, error) {
	if d.spec.Type == TypeCohort {
		return d.spec.Cohort.Literals(), nil
	}
	return d.spec.RequiredPropositionIDs, nil
}

func (d *storingDestination) Start(ctx context.Context, q *engine.Query, hierarchy map[string][]string) error {
	if q.Mode == engine.ModeReplace && !d.updateData {
		if err := d.store.Clear(ctx, d.spec.Name); err != nil {
			return fmt.Errorf("clear destination %s: %w", d.spec.Name, err)
		}
	}
	if err := d.store.SaveHierarchy(ctx, d.spec.Name, hierarchy); err != nil {
		return fmt.Errorf("save hierarchy of %s: %w", d.spec.Name, err)
	}
	d.pending = nil
	d.keys = 0
	d.jobID = nil
	if id, err := strconv.ParseInt(q.Name, 10, 64); err == nil {
		d.jobID = &id
	}
	return nil
}

func (d *storingDestination) Write(ctx context.Context, keyID string, props []*engine.Proposition) error {
	rows := d.rows(keyID, props)
	if len(rows) == 0 {
		return nil
	}
	d.keys++
	for i := range rows {
		rows[i].JobID = d.jobID
	}
	d.pending = append(d.pending, rows...)
	if len(d.pending) >= flushSize {
		return d.flush(ctx)
	}
	return nil
}

func (d *storingDestination) flush(ctx context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}
	if err := d.store.Insert(ctx, d.spec.Name, d.pending); err != nil {
		return fmt.Errorf("store results of %s: %w", d.spec.Name, err)
	}
	d.pending = d.pending[:0]
	return nil
}

func (d *storingDestination) Finish(ctx context.Context) error {
	if err := d.flush(ctx); err != nil {
		return err
	}
	d.logger.Info().Int("keys", d.keys).Msg("destination results stored")
	return nil
}

// Abort drops buffered rows. Rows already flushed stay in the store.
func (d *storingDestination) Abort(_ context.Context, cause error) {
	d.logger.Warn().Err(cause).Int("dropped_rows", len(d.pending)).Msg("destination output aborted")
	d.pending = nil
}

func (d *storingDestination) Statistics(ctx context.Context, propIDs []string) (*engine.Statistics, error) {
	return d.store.Statistics(ctx, d.spec.Name, propIDs)
}
