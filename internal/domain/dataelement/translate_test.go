package dataelement

import (
	"context"
	"errors"
	"testing"

	"github.com/eureka/eureka/internal/domain/systemelement"
	"github.com/eureka/eureka/internal/domain/timeunit"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/engine"
)

// -- Fakes --

type fakeSystem map[string]string

func (f fakeSystem) IsSystem(_ context.Context, key string) (bool, error) {
	_, ok := f[key]
	return ok, nil
}

func (f fakeSystem) Get(_ context.Context, key string) (*systemelement.SystemElement, error) {
	name, ok := f[key]
	if !ok {
		return nil, apperr.Newf(apperr.ErrNotFound, "No system element found with key %s", key)
	}
	return &systemelement.SystemElement{Key: key, DisplayName: name, Type: "SYSTEM", InSystem: true}, nil
}

var testSystem = fakeSystem{
	"ICD9:250":  "Diabetes",
	"ICD9:401":  "Hypertension",
	"LAB:GLU":   "Glucose",
	"LAB:A1C":   "HbA1c",
	"Encounter": "Encounter",
}

type fakeUnits map[int64]string

func (f fakeUnits) GetByID(_ context.Context, id int64) (*timeunit.TimeUnit, error) {
	name, ok := f[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "no unit")
	}
	return &timeunit.TimeUnit{ID: id, Name: name}, nil
}

var testUnits = fakeUnits{1: "second", 2: "minute", 3: "hour", 4: "day", 5: "week"}

func int64p(n int64) *int64 { return &n }
func intp(n int) *int       { return &n }

func field(key string) *DataElementField { return &DataElementField{DataElementKey: key} }

func highGlucose() *DataElement {
	return &DataElement{
		Key:  "high_glu",
		Type: TypeValueThreshold,
		ValueThresholds: []ValueThreshold{
			{DataElement: *field("LAB:GLU"), LowerComp: "gt", LowerValue: "140"},
		},
	}
}

func translate(t *testing.T, el *DataElement, user ...*DataElement) []*engine.PropositionDefinition {
	t.Helper()
	defs, err := NewTranslator(testSystem, testUnits, append(user, el)).Translate(context.Background(), el)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return defs
}

func TestTranslate_System(t *testing.T) {
	defs := translate(t, &DataElement{Key: "ICD9:250", Type: TypeSystem, InSystem: true})
	if len(defs) != 0 {
		t.Errorf("expected no definitions, got %d", len(defs))
	}
}

func TestTranslate_Category(t *testing.T) {
	cat := &DataElement{Key: "cardio", Type: TypeCategorization, Children: []Child{
		{Key: "ICD9:401", InSystem: true}, {Key: "high_glu"},
	}}
	defs := translate(t, cat, highGlucose())
	if len(defs) != 1 || defs[0].Type != engine.TypeCategorization {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	want := []string{"ICD9:401", "USER:high_glu"}
	for i, id := range want {
		if defs[0].InverseIsA[i] != id {
			t.Errorf("child %d: expected %s, got %s", i, id, defs[0].InverseIsA[i])
		}
	}
	if defs[0].ID != "USER:cardio" {
		t.Errorf("unexpected id %s", defs[0].ID)
	}
}

func TestTranslate_SingleThreshold(t *testing.T) {
	defs := translate(t, highGlucose())
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	d := defs[0]
	if d.Type != engine.TypeLowLevelAbstraction || d.AbstractedFrom[0] != "LAB:GLU" {
		t.Errorf("unexpected definition %+v", d)
	}
	if d.Thresholds[0].LowerComp != engine.GT || d.Thresholds[0].LowerValue != "140" {
		t.Errorf("unexpected threshold %+v", d.Thresholds[0])
	}
}

func TestTranslate_SeveralThresholds(t *testing.T) {
	el := &DataElement{
		Key:                "poor_control",
		Type:               TypeValueThreshold,
		ThresholdsOperator: "any",
		ValueThresholds: []ValueThreshold{
			{DataElement: *field("LAB:GLU"), LowerComp: "GT", LowerValue: "140"},
			{DataElement: *field("LAB:A1C"), LowerComp: "GTE", LowerValue: "7"},
		},
	}
	defs := translate(t, el)
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	compound := defs[2]
	if compound.Type != engine.TypeCompoundLowLevelAbstraction || compound.ThresholdsOperator != engine.MatchAny {
		t.Errorf("unexpected compound %+v", compound)
	}
	if compound.AbstractedFrom[0] != "USER:poor_control_1" || compound.AbstractedFrom[1] != "USER:poor_control_2" {
		t.Errorf("unexpected parts %v", compound.AbstractedFrom)
	}
}

func TestTranslate_FrequencySlice(t *testing.T) {
	el := &DataElement{
		Key: "twice_diabetes", Type: TypeFrequency, AtLeast: 2, DataElement: field("ICD9:250"),
		IsWithin: true, WithinAtMost: intp(2), WithinAtMostUnits: int64p(5),
	}
	defs := translate(t, el)
	if len(defs) != 1 || defs[0].Type != engine.TypeSliceAbstraction {
		t.Fatalf("expected a slice abstraction, got %+v", defs)
	}
	d := defs[0]
	if d.MinIndex != 2 || d.WithinMax == nil || *d.WithinMax != 2 || d.WithinUnit != engine.Week {
		t.Errorf("unexpected slice %+v", d)
	}
	if d.WithinMin != nil {
		t.Errorf("expected no lower bound, got %d", *d.WithinMin)
	}
}

func TestTranslate_FrequencySliceNotWithin(t *testing.T) {
	el := &DataElement{
		Key: "twice", Type: TypeFrequency, AtLeast: 2, DataElement: field("ICD9:250"),
		WithinAtMost: intp(2), WithinAtMostUnits: int64p(5),
	}
	d := translate(t, el)[0]
	if d.WithinMax != nil || d.WithinUnit != "" {
		t.Errorf("expected within bounds to be ignored, got %+v", d)
	}
}

func TestTranslate_FrequencyOfThreshold(t *testing.T) {
	el := &DataElement{
		Key: "repeated_high", Type: TypeFrequency, AtLeast: 3, DataElement: field("high_glu"),
		IsWithin: true, WithinAtLeast: intp(1), WithinAtLeastUnits: int64p(4), WithinAtMost: intp(12), WithinAtMostUnits: int64p(3),
	}
	defs := translate(t, el, highGlucose())
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	inter, hla := defs[0], defs[1]
	if inter.ID != "USER:repeated_high_FREQUENCY" || inter.Type != engine.TypeLowLevelAbstraction {
		t.Errorf("unexpected intermediate %+v", inter)
	}
	if inter.MinValues != 3 || inter.AbstractedFrom[0] != "LAB:GLU" {
		t.Errorf("unexpected intermediate %+v", inter)
	}
	if inter.Thresholds[0].PropositionID != "LAB:GLU" {
		t.Errorf("expected a scoped threshold, got %+v", inter.Thresholds[0])
	}
	// 1 day and 12 hours share the finer unit.
	if inter.GapUnit != engine.Hour || *inter.MinGap != 24 || *inter.MaxGap != 12 {
		t.Errorf("unexpected gaps %v %v %s", *inter.MinGap, *inter.MaxGap, inter.GapUnit)
	}
	if hla.Type != engine.TypeHighLevelAbstraction || len(hla.Relations) != 1 {
		t.Fatalf("unexpected high-level abstraction %+v", hla)
	}
	if r := hla.Relations[0]; r.LHS != inter.ID || r.RHS != inter.ID {
		t.Errorf("expected the intermediate on both sides, got %+v", r)
	}
}

func TestTranslate_Sequence(t *testing.T) {
	el := &DataElement{
		Key:                "htn_after_dm",
		Type:               TypeSequence,
		PrimaryDataElement: field("ICD9:250"),
		RelatedDataElements: []RelatedDataElement{
			{DataElementField: *field("ICD9:401"), RelationOperator: "after", RelationMaxCount: intp(30), RelationMaxUnits: int64p(4)},
			{DataElementField: *field("high_glu"), RelationOperator: "before", SequentialDataElement: "ICD9:401"},
		},
	}
	defs := translate(t, el, highGlucose())
	rels := defs[0].Relations
	if len(rels) != 2 {
		t.Fatalf("expected 2 relations, got %d", len(rels))
	}
	if rels[0].LHS != "ICD9:250" || rels[0].RHS != "ICD9:401" || *rels[0].MaxDistance != 30 || rels[0].DistanceUnit != engine.Day {
		t.Errorf("unexpected first relation %+v", rels[0])
	}
	if rels[1].LHS != "USER:high_glu" || rels[1].RHS != "ICD9:401" {
		t.Errorf("unexpected second relation %+v", rels[1])
	}
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name string
		el   *DataElement
	}{
		{"unknown type", &DataElement{Key: "x", Type: "BOGUS"}},
		{"unknown reference", &DataElement{Key: "x", Type: TypeCategorization, Children: []Child{{Key: "nope"}}}},
		{"empty category", &DataElement{Key: "x", Type: TypeCategorization}},
		{"bad comparator", &DataElement{Key: "x", Type: TypeValueThreshold, ValueThresholds: []ValueThreshold{
			{DataElement: *field("LAB:GLU"), LowerComp: "about", LowerValue: "1"}}}},
		{"unbounded threshold", &DataElement{Key: "x", Type: TypeValueThreshold, ValueThresholds: []ValueThreshold{
			{DataElement: *field("LAB:GLU")}}}},
		{"zero frequency", &DataElement{Key: "x", Type: TypeFrequency, DataElement: field("ICD9:250")}},
		{"bad unit", &DataElement{Key: "x", Type: TypeFrequency, AtLeast: 1, DataElement: field("ICD9:250"),
			IsWithin: true, WithinAtMost: intp(1), WithinAtMostUnits: int64p(99)}},
		{"bad relation", &DataElement{Key: "x", Type: TypeSequence, PrimaryDataElement: field("ICD9:250"),
			RelatedDataElements: []RelatedDataElement{{DataElementField: *field("ICD9:401"), RelationOperator: "during"}}}},
		{"unknown anchor", &DataElement{Key: "x", Type: TypeSequence, PrimaryDataElement: field("ICD9:250"),
			RelatedDataElements: []RelatedDataElement{{DataElementField: *field("ICD9:401"), RelationOperator: "after", SequentialDataElement: "Encounter"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTranslator(testSystem, testUnits, nil).Translate(context.Background(), tt.el)
			if !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("expected invalid request, got %v", err)
			}
		})
	}
}
