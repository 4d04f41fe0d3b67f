// Package engine derives temporal abstractions from clinical propositions.
// A query names the proposition ids a destination wants; the engine resolves
// their definitions, reads the primitive data from a DataSource, derives the
// abstract propositions key by key and writes them to a Destination.
package engine

import (
	"fmt"
	"strings"
	"time"
)

type DefinitionType string

const (
	TypeEvent                       DefinitionType = "EVENT"
	TypePrimitiveParameter          DefinitionType = "PRIMITIVE_PARAMETER"
	TypeConstant                    DefinitionType = "CONSTANT"
	TypeCategorization              DefinitionType = "CATEGORIZATION"
	TypeLowLevelAbstraction         DefinitionType = "LOW_LEVEL_ABSTRACTION"
	TypeCompoundLowLevelAbstraction DefinitionType = "COMPOUND_LOW_LEVEL_ABSTRACTION"
	TypeSliceAbstraction            DefinitionType = "SLICE_ABSTRACTION"
	TypeHighLevelAbstraction        DefinitionType = "HIGH_LEVEL_ABSTRACTION"
)

// TimeUnit is both a distance unit and a timestamp granularity.
type TimeUnit string

const (
	Second TimeUnit = "SECOND"
	Minute TimeUnit = "MINUTE"
	Hour   TimeUnit = "HOUR"
	Day    TimeUnit = "DAY"
	Week   TimeUnit = "WEEK"
	Month  TimeUnit = "MONTH"
	Year   TimeUnit = "YEAR"
)

// ParseTimeUnit accepts unit names in any case, singular or plural.
func ParseTimeUnit(s string) (TimeUnit, error) {
	u := TimeUnit(strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "S"))
	switch u {
	case Second, Minute, Hour, Day, Week, Month, Year:
		return u, nil
	}
	return "", fmt.Errorf("unknown time unit %q", s)
}

// Duration returns n units. Months count as 30 days and years as 365.
func (u TimeUnit) Duration(n int) time.Duration {
	d := time.Duration(n)
	switch u {
	case Second:
		return d * time.Second
	case Minute:
		return d * time.Minute
	case Hour:
		return d * time.Hour
	case Week:
		return d * 7 * 24 * time.Hour
	case Month:
		return d * 30 * 24 * time.Hour
	case Year:
		return d * 365 * 24 * time.Hour
	default:
		return d * 24 * time.Hour
	}
}

// Truncate rounds t down to the unit's granularity.
func (u TimeUnit) Truncate(t time.Time) time.Time {
	switch u {
	case Second:
		return t.Truncate(time.Second)
	case Minute:
		return t.Truncate(time.Minute)
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case Year:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}

type Comparator string

const (
	EQ  Comparator = "EQ"
	NE  Comparator = "NE"
	LT  Comparator = "LT"
	LTE Comparator = "LTE"
	GT  Comparator = "GT"
	GTE Comparator = "GTE"
)

// Threshold bounds the values of a primitive parameter. Either side may be
// left empty. PropositionID, when set, limits the threshold to one of the
// definition's abstractedFrom ids.
type Threshold struct {
	PropositionID string     `json:"propositionId,omitempty" yaml:"propositionId,omitempty"`
	LowerComp     Comparator `json:"lowerComp,omitempty" yaml:"lowerComp,omitempty"`
	LowerValue    string     `json:"lowerValue,omitempty" yaml:"lowerValue,omitempty"`
	UpperComp     Comparator `json:"upperComp,omitempty" yaml:"upperComp,omitempty"`
	UpperValue    string     `json:"upperValue,omitempty" yaml:"upperValue,omitempty"`
}

// Relation constrains an lhs instance to end before an rhs instance starts,
// within optional distance bounds.
type Relation struct {
	LHS          string   `json:"lhs" yaml:"lhs"`
	RHS          string   `json:"rhs" yaml:"rhs"`
	MinDistance  *int     `json:"minDistance,omitempty" yaml:"minDistance,omitempty"`
	MaxDistance  *int     `json:"maxDistance,omitempty" yaml:"maxDistance,omitempty"`
	DistanceUnit TimeUnit `json:"distanceUnit,omitempty" yaml:"distanceUnit,omitempty"`
}

type ThresholdsOperator string

const (
	MatchAny ThresholdsOperator = "ANY"
	MatchAll ThresholdsOperator = "ALL"
)

type PropositionDefinition struct {
	ID                string         `json:"id" yaml:"id"`
	DisplayName       string         `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	AbbrevDisplayName string         `json:"abbrevDisplayName,omitempty" yaml:"abbrevDisplayName,omitempty"`
	Type              DefinitionType `json:"type" yaml:"type"`
	InDataSource      bool           `json:"inDataSource,omitempty" yaml:"inDataSource,omitempty"`
	InverseIsA        []string       `json:"inverseIsA,omitempty" yaml:"inverseIsA,omitempty"`
	AbstractedFrom    []string       `json:"abstractedFrom,omitempty" yaml:"abstractedFrom,omitempty"`

	// Low-level abstractions.
	Thresholds         []Threshold        `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	ThresholdsOperator ThresholdsOperator `json:"thresholdsOperator,omitempty" yaml:"thresholdsOperator,omitempty"`
	MinValues          int                `json:"minValues,omitempty" yaml:"minValues,omitempty"`
	MinGap             *int               `json:"minGap,omitempty" yaml:"minGap,omitempty"`
	MaxGap             *int               `json:"maxGap,omitempty" yaml:"maxGap,omitempty"`
	GapUnit            TimeUnit           `json:"gapUnit,omitempty" yaml:"gapUnit,omitempty"`

	// Slice abstractions.
	MinIndex   int      `json:"minIndex,omitempty" yaml:"minIndex,omitempty"`
	WithinMin  *int     `json:"withinMin,omitempty" yaml:"withinMin,omitempty"`
	WithinMax  *int     `json:"withinMax,omitempty" yaml:"withinMax,omitempty"`
	WithinUnit TimeUnit `json:"withinUnit,omitempty" yaml:"withinUnit,omitempty"`

	// High-level abstractions.
	Relations []Relation `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// References lists every proposition id this definition is derived from.
func (d *PropositionDefinition) References() []string {
	refs := make([]string, 0, len(d.InverseIsA)+len(d.AbstractedFrom)+2*len(d.Relations))
	refs = append(refs, d.InverseIsA...)
	refs = append(refs, d.AbstractedFrom...)
	for _, r := range d.Relations {
		refs = append(refs, r.LHS, r.RHS)
	}
	return refs
}

// Name returns the most specific human-readable label.
func (d *PropositionDefinition) Name() string {
	if d.AbbrevDisplayName != "" {
		return d.AbbrevDisplayName
	}
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}
