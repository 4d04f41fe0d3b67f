package engine

import (
	"time"
)

// QueryMode says whether a destination keeps the results of earlier runs.
type QueryMode string

const (
	ModeUpdate  QueryMode = "UPDATE"
	ModeReplace QueryMode = "REPLACE"
)

// Side selects which end of an interval a date filter looks at.
type Side string

const (
	SideStart  Side = "START"
	SideFinish Side = "FINISH"
)

// DateTimeFilter keeps propositions of the listed ids whose chosen side falls
// inside [Earliest, Latest]. A nil bound is open.
type DateTimeFilter struct {
	PropositionIDs []string   `json:"propositionIds"`
	Earliest       *time.Time `json:"earliest,omitempty"`
	EarliestSide   Side       `json:"earliestSide,omitempty"`
	Latest         *time.Time `json:"latest,omitempty"`
	LatestSide     Side       `json:"latestSide,omitempty"`
}

// NewDateTimeFilter builds a filter at day granularity: the latest bound is
// extended to the end of its day.
func NewDateTimeFilter(ids []string, earliest *time.Time, earliestSide Side, latest *time.Time, latestSide Side) *DateTimeFilter {
	f := &DateTimeFilter{
		PropositionIDs: ids,
		EarliestSide:   earliestSide,
		LatestSide:     latestSide,
	}
	if f.EarliestSide == "" {
		f.EarliestSide = SideStart
	}
	if f.LatestSide == "" {
		f.LatestSide = SideFinish
	}
	if earliest != nil {
		e := Day.Truncate(*earliest)
		f.Earliest = &e
	}
	if latest != nil {
		l := Day.Truncate(*latest).Add(24*time.Hour - time.Nanosecond)
		f.Latest = &l
	}
	return f
}

func (f *DateTimeFilter) appliesTo(id string) bool {
	for _, pid := range f.PropositionIDs {
		if pid == id {
			return true
		}
	}
	return false
}

func (f *DateTimeFilter) sideOf(p *Proposition, side Side) *time.Time {
	if side == SideFinish {
		return p.finishOrStart()
	}
	return p.Start
}

// Allows reports whether p survives the filter.
func (f *DateTimeFilter) Allows(p *Proposition) bool {
	if f == nil || !f.appliesTo(p.ID) {
		return true
	}
	if f.Earliest != nil {
		t := f.sideOf(p, f.EarliestSide)
		if t == nil || t.Before(*f.Earliest) {
			return false
		}
	}
	if f.Latest != nil {
		t := f.sideOf(p, f.LatestSide)
		if t == nil || t.After(*f.Latest) {
			return false
		}
	}
	return true
}

// Query is what the engine executes.
type Query struct {
	Name           string
	Username       string
	PropositionIDs []string
	Definitions    []*PropositionDefinition
	Filters        []*DateTimeFilter
	Mode           QueryMode
}

// QueryBuilder accumulates a query the way the ETL assembles it.
type QueryBuilder struct {
	q Query
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{q: Query{Mode: ModeReplace}}
}

func (b *QueryBuilder) Name(name string) *QueryBuilder {
	b.q.Name = name
	return b
}

func (b *QueryBuilder) Username(username string) *QueryBuilder {
	b.q.Username = username
	return b
}

func (b *QueryBuilder) PropositionIDs(ids []string) *QueryBuilder {
	b.q.PropositionIDs = ids
	return b
}

func (b *QueryBuilder) Definitions(defs []*PropositionDefinition) *QueryBuilder {
	b.q.Definitions = defs
	return b
}

func (b *QueryBuilder) Filter(f *DateTimeFilter) *QueryBuilder {
	if f != nil {
		b.q.Filters = append(b.q.Filters, f)
	}
	return b
}

func (b *QueryBuilder) Mode(mode QueryMode) *QueryBuilder {
	b.q.Mode = mode
	return b
}

// Build returns a copy of the accumulated query.
func (b *QueryBuilder) Build() *Query {
	q := b.q
	return &q
}
