package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DataValidationEvent describes a problem found in uploaded data.
type DataValidationEvent struct {
	Fatal     bool      `json:"fatal"`
	Type      string    `json:"type"`
	Line      int       `json:"line"`
	Message   string    `json:"message"`
	URI       string    `json:"uri"`
	Timestamp time.Time `json:"timestamp"`
}

// UserMessage renders the event for a job log.
func (e DataValidationEvent) UserMessage() string {
	var b strings.Builder
	if e.Type != "" {
		b.WriteString(e.Type)
		if e.Line > 0 {
			fmt.Fprintf(&b, " line %d", e.Line)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.URI != "" {
		fmt.Fprintf(&b, " (%s)", e.URI)
	}
	return b.String()
}

// FailedDataValidationError is returned when validation found fatal events.
type FailedDataValidationError struct {
	Events []DataValidationEvent
	Err    error
}

func (e *FailedDataValidationError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "data validation failed"
}

func (e *FailedDataValidationError) Unwrap() error { return e.Err }

// DataSource reads primitive propositions.
type DataSource interface {
	// ValidateData checks the underlying data. It returns every event found;
	// the error is a *FailedDataValidationError when any event is fatal.
	ValidateData(ctx context.Context) ([]DataValidationEvent, error)
	// ReadPropositions returns the propositions with the given ids grouped by
	// key. A nil keyIDs means all keys.
	ReadPropositions(ctx context.Context, keyIDs []string, propIDs []string) (map[string][]*Proposition, error)
	KeyType() string
	Close() error
}

// KnowledgeSource resolves system proposition definitions.
type KnowledgeSource interface {
	// ReadPropositionDefinition returns nil without error for unknown ids.
	ReadPropositionDefinition(ctx context.Context, id string) (*PropositionDefinition, error)
	Definitions(ctx context.Context) ([]*PropositionDefinition, error)
}

// Destination receives query results.
type Destination interface {
	// SupportedPropositionIDs lists the ids the destination needs when it
	// does not accept a caller-supplied list.
	SupportedPropositionIDs(ctx context.Context) ([]string, error)
	Start(ctx context.Context, q *Query, hierarchy map[string][]string) error
	Write(ctx context.Context, keyID string, props []*Proposition) error
	Finish(ctx context.Context) error
}

// Aborter is implemented by destinations that hold partial output between
// Start and Finish. Abort is called instead of Finish when output stops
// early; it must release what Start acquired.
type Aborter interface {
	Abort(ctx context.Context, cause error)
}

// Statistics summarises what a destination holds.
type Statistics struct {
	NumberOfKeys      int                 `json:"numberOfKeys"`
	Counts            map[string]int      `json:"counts"`
	ChildrenToParents map[string][]string `json:"childrenToParents"`
}

// StatisticsSource is implemented by destinations that can report Statistics.
type StatisticsSource interface {
	Statistics(ctx context.Context, propIDs []string) (*Statistics, error)
}
