// Package export turns configured destinations into engine destinations.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/platform/engine"
)

type Type string

const (
	TypeCohort              Type = "COHORT"
	TypeI2B2                Type = "I2B2"
	TypePatientSetExtractor Type = "PATIENT_SET_EXTRACTOR"
	TypePatientSetSender    Type = "PATIENT_SET_SENDER"
	TypeTabularFile         Type = "TABULAR_FILE"
	TypeNeo4j               Type = "NEO4J"
)

// ErrUnsupportedDestination is returned for destination types this server
// cannot write to.
var ErrUnsupportedDestination = errors.New("unsupported destination type")

// CohortMatcher decides cohort membership from the proposition ids a key has.
type CohortMatcher interface {
	Evaluate(present map[string]bool) bool
	Literals() []string
}

// Spec is what the factory needs to know about a destination.
type Spec struct {
	Name                   string
	Type                   Type
	Cohort                 CohortMatcher
	AliasPropositionID     string
	RequiredPropositionIDs []string
	// AllowingQueryPropositionIDs lets a job choose the proposition ids to
	// write instead of the destination's supported ids.
	AllowingQueryPropositionIDs bool
}

// Row is one stored fact.
type Row struct {
	KeyID         string
	PropositionID string
	Start         *time.Time
	Finish        *time.Time
	Value         string
	JobID         *int64
}

// ResultStore persists the facts of storing destinations.
type ResultStore interface {
	// Clear removes a destination's rows and hierarchy.
	Clear(ctx context.Context, dest string) error
	SaveHierarchy(ctx context.Context, dest string, childrenToParents map[string][]string) error
	Insert(ctx context.Context, dest string, rows []Row) error
	Statistics(ctx context.Context, dest string, propIDs []string) (*engine.Statistics, error)
}

type Factory struct {
	store     ResultStore
	outputDir string
	logger    zerolog.Logger
}

func NewFactory(store ResultStore, outputDir string, logger zerolog.Logger) *Factory {
	return &Factory{store: store, outputDir: outputDir, logger: logger}
}

// GetInstance returns the engine destination for spec. updateData selects
// UPDATE mode for destinations that would otherwise replace their results.
func (f *Factory) GetInstance(spec *Spec, updateData bool) (engine.Destination, error) {
	switch spec.Type {
	case TypeCohort:
		if spec.Cohort == nil {
			return nil, fmt.Errorf("cohort destination %s has no cohort", spec.Name)
		}
		return f.storing(spec, updateData, cohortRows(spec.Cohort)), nil
	case TypeI2B2:
		return f.storing(spec, updateData, allRows), nil
	case TypePatientSetExtractor:
		if spec.AliasPropositionID == "" {
			return nil, fmt.Errorf("patient set extractor %s has no alias proposition id", spec.Name)
		}
		return f.storing(spec, updateData, aliasRows(spec.AliasPropositionID)), nil
	case TypeTabularFile:
		return newTabular(f.outputDir, spec, updateData), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDestination, spec.Type)
	}
}

func (f *Factory) storing(spec *Spec, updateData bool, rows rowsFunc) *storingDestination {
	return &storingDestination{
		spec:       spec,
		store:      f.store,
		updateData: updateData,
		rows:       rows,
		logger:     f.logger.With().Str("destination", spec.Name).Logger(),
	}
}
