package dataelement

import (
	"context"
	"fmt"
	"strings"

	"github.com/eureka/eureka/internal/domain/systemelement"
	"github.com/eureka/eureka/internal/domain/timeunit"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/engine"
)

const frequencySuffix = "_FREQUENCY"

// SystemKeys reports whether a key names a system phenotype.
type SystemKeys interface {
	IsSystem(ctx context.Context, key string) (bool, error)
}

// TimeUnits looks up time units by id.
type TimeUnits interface {
	GetByID(ctx context.Context, id int64) (*timeunit.TimeUnit, error)
}

// Translator converts a user's data elements to engine proposition
// definitions.
type Translator struct {
	system SystemKeys
	units  TimeUnits
	// user holds the user's elements by key.
	user map[string]*DataElement
}

func NewTranslator(system SystemKeys, units TimeUnits, userElements []*DataElement) *Translator {
	user := make(map[string]*DataElement, len(userElements))
	for _, el := range userElements {
		user[el.Key] = el
	}
	return &Translator{system: system, units: units, user: user}
}

func invalid(format string, args ...interface{}) error {
	return apperr.Newf(apperr.ErrInvalid, format, args...)
}

// PropositionID returns the engine id of key. User elements get the
// USER: prefix; system keys are used as is.
func (t *Translator) PropositionID(ctx context.Context, key string) (string, error) {
	if el, ok := t.user[key]; ok && !el.InSystem {
		return systemelement.UserPrefix + key, nil
	}
	ok, err := t.system.IsSystem(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", invalid("Invalid data element key %s", key)
	}
	return key, nil
}

func (t *Translator) unit(ctx context.Context, id *int64) (engine.TimeUnit, error) {
	if id == nil {
		return "", nil
	}
	u, err := t.units.GetByID(ctx, *id)
	if err != nil {
		return "", invalid("Invalid time unit %d", *id)
	}
	return engine.ParseTimeUnit(u.Name)
}

// bounds converts a min and max, each with its own unit, to one unit. The
// finer unit wins.
func (t *Translator) bounds(ctx context.Context, min *int, minUnit *int64, max *int, maxUnit *int64) (*int, *int, engine.TimeUnit, error) {
	lu, err := t.unit(ctx, minUnit)
	if err != nil {
		return nil, nil, "", err
	}
	uu, err := t.unit(ctx, maxUnit)
	if err != nil {
		return nil, nil, "", err
	}
	if min == nil {
		lu = ""
	}
	if max == nil {
		uu = ""
	}
	switch {
	case lu == "" && uu == "":
		return min, max, "", nil
	case lu == "":
		return min, max, uu, nil
	case uu == "" || lu == uu:
		return min, max, lu, nil
	}
	unit := lu
	if uu.Duration(1) < lu.Duration(1) {
		unit = uu
	}
	return scale(min, lu, unit), scale(max, uu, unit), unit, nil
}

func scale(n *int, from, to engine.TimeUnit) *int {
	if n == nil {
		return nil
	}
	v := int(from.Duration(*n) / to.Duration(1))
	return &v
}

func base(el *DataElement, id string, typ engine.DefinitionType) *engine.PropositionDefinition {
	return &engine.PropositionDefinition{
		ID:                id,
		DisplayName:       el.DisplayName,
		AbbrevDisplayName: el.AbbrevDisplayName,
		Type:              typ,
	}
}

// Translate returns the definitions of el. System elements have none.
func (t *Translator) Translate(ctx context.Context, el *DataElement) ([]*engine.PropositionDefinition, error) {
	if el.InSystem || el.Type == TypeSystem {
		return nil, nil
	}
	if strings.TrimSpace(el.Key) == "" {
		return nil, invalid("Data element key must be specified")
	}
	id := systemelement.UserPrefix + el.Key
	switch el.Type {
	case TypeCategorization:
		return t.category(ctx, el, id)
	case TypeValueThreshold:
		return t.valueThresholds(ctx, el, id)
	case TypeFrequency:
		return t.frequency(ctx, el, id)
	case TypeSequence:
		return t.sequence(ctx, el, id)
	default:
		return nil, invalid("Invalid data element type %s", el.Type)
	}
}

// TranslateAll translates every element in order.
func (t *Translator) TranslateAll(ctx context.Context, els []*DataElement) ([]*engine.PropositionDefinition, error) {
	var out []*engine.PropositionDefinition
	for _, el := range els {
		defs, err := t.Translate(ctx, el)
		if err != nil {
			return nil, err
		}
		out = append(out, defs...)
	}
	return out, nil
}

func (t *Translator) category(ctx context.Context, el *DataElement, id string) ([]*engine.PropositionDefinition, error) {
	if len(el.Children) == 0 {
		return nil, invalid("Category %s must have at least one child", el.Key)
	}
	def := base(el, id, engine.TypeCategorization)
	for _, c := range el.Children {
		cid, err := t.PropositionID(ctx, c.Key)
		if err != nil {
			return nil, err
		}
		def.InverseIsA = append(def.InverseIsA, cid)
	}
	return []*engine.PropositionDefinition{def}, nil
}

func comparator(s string) (engine.Comparator, error) {
	if s == "" {
		return "", nil
	}
	c := engine.Comparator(strings.ToUpper(s))
	switch c {
	case engine.EQ, engine.NE, engine.LT, engine.LTE, engine.GT, engine.GTE:
		return c, nil
	}
	return "", invalid("Invalid comparator %s", s)
}

func thresholdsOperator(s string) (engine.ThresholdsOperator, error) {
	switch strings.ToUpper(s) {
	case "", string(engine.MatchAll):
		return engine.MatchAll, nil
	case string(engine.MatchAny):
		return engine.MatchAny, nil
	}
	return "", invalid("Invalid thresholds operator %s", s)
}

// threshold returns the data element id of vt and its engine threshold.
func (t *Translator) threshold(ctx context.Context, vt ValueThreshold) (string, engine.Threshold, error) {
	pid, err := t.PropositionID(ctx, vt.DataElement.DataElementKey)
	if err != nil {
		return "", engine.Threshold{}, err
	}
	lc, err := comparator(vt.LowerComp)
	if err != nil {
		return "", engine.Threshold{}, err
	}
	uc, err := comparator(vt.UpperComp)
	if err != nil {
		return "", engine.Threshold{}, err
	}
	if lc == "" && uc == "" {
		return "", engine.Threshold{}, invalid("Value threshold on %s has no bounds", vt.DataElement.DataElementKey)
	}
	return pid, engine.Threshold{LowerComp: lc, LowerValue: vt.LowerValue, UpperComp: uc, UpperValue: vt.UpperValue}, nil
}

// valueThresholds emits one low-level abstraction per threshold, joined by
// a compound abstraction when there are several.
func (t *Translator) valueThresholds(ctx context.Context, el *DataElement, id string) ([]*engine.PropositionDefinition, error) {
	if len(el.ValueThresholds) == 0 {
		return nil, invalid("Value threshold %s must have at least one threshold", el.Key)
	}
	op, err := thresholdsOperator(el.ThresholdsOperator)
	if err != nil {
		return nil, err
	}
	if len(el.ValueThresholds) == 1 {
		pid, th, err := t.threshold(ctx, el.ValueThresholds[0])
		if err != nil {
			return nil, err
		}
		def := base(el, id, engine.TypeLowLevelAbstraction)
		def.AbstractedFrom = []string{pid}
		def.Thresholds = []engine.Threshold{th}
		return []*engine.PropositionDefinition{def}, nil
	}

	compound := base(el, id, engine.TypeCompoundLowLevelAbstraction)
	compound.ThresholdsOperator = op
	out := make([]*engine.PropositionDefinition, 0, len(el.ValueThresholds)+1)
	for i, vt := range el.ValueThresholds {
		pid, th, err := t.threshold(ctx, vt)
		if err != nil {
			return nil, err
		}
		part := &engine.PropositionDefinition{
			ID:             fmt.Sprintf("%s_%d", id, i+1),
			Type:           engine.TypeLowLevelAbstraction,
			AbstractedFrom: []string{pid},
			Thresholds:     []engine.Threshold{th},
		}
		compound.AbstractedFrom = append(compound.AbstractedFrom, part.ID)
		out = append(out, part)
	}
	return append(out, compound), nil
}

func (t *Translator) frequency(ctx context.Context, el *DataElement, id string) ([]*engine.PropositionDefinition, error) {
	if el.DataElement == nil || el.DataElement.DataElementKey == "" {
		return nil, invalid("Frequency %s must reference a data element", el.Key)
	}
	if el.AtLeast < 1 {
		return nil, invalid("Frequency %s must count at least one occurrence", el.Key)
	}
	var min, max *int
	var unit engine.TimeUnit
	if el.IsWithin {
		var err error
		min, max, unit, err = t.bounds(ctx, el.WithinAtLeast, el.WithinAtLeastUnits, el.WithinAtMost, el.WithinAtMostUnits)
		if err != nil {
			return nil, err
		}
	}

	ref := el.DataElement.DataElementKey
	if vt, ok := t.user[ref]; ok && !vt.InSystem && vt.Type == TypeValueThreshold {
		return t.frequencyOfThresholds(ctx, el, id, vt, min, max, unit)
	}

	pid, err := t.PropositionID(ctx, ref)
	if err != nil {
		return nil, err
	}
	def := base(el, id, engine.TypeSliceAbstraction)
	def.AbstractedFrom = []string{pid}
	def.MinIndex = el.AtLeast
	def.WithinMin, def.WithinMax, def.WithinUnit = min, max, unit
	return []*engine.PropositionDefinition{def}, nil
}

// frequencyOfThresholds counts values inside vt's thresholds with an
// intermediate low-level abstraction, wrapped in a high-level abstraction
// that relates the intermediate to itself.
func (t *Translator) frequencyOfThresholds(ctx context.Context, el *DataElement, id string, vt *DataElement, min, max *int, unit engine.TimeUnit) ([]*engine.PropositionDefinition, error) {
	if len(vt.ValueThresholds) == 0 {
		return nil, invalid("Value threshold %s must have at least one threshold", vt.Key)
	}
	op, err := thresholdsOperator(vt.ThresholdsOperator)
	if err != nil {
		return nil, err
	}
	inter := &engine.PropositionDefinition{
		ID:                 id + frequencySuffix,
		DisplayName:        vt.Name() + frequencySuffix,
		Type:               engine.TypeLowLevelAbstraction,
		ThresholdsOperator: op,
		MinValues:          el.AtLeast,
		MinGap:             min,
		MaxGap:             max,
		GapUnit:            unit,
	}
	seen := make(map[string]bool)
	for _, v := range vt.ValueThresholds {
		pid, th, err := t.threshold(ctx, v)
		if err != nil {
			return nil, err
		}
		th.PropositionID = pid
		inter.Thresholds = append(inter.Thresholds, th)
		if !seen[pid] {
			seen[pid] = true
			inter.AbstractedFrom = append(inter.AbstractedFrom, pid)
		}
	}
	hla := base(el, id, engine.TypeHighLevelAbstraction)
	hla.Relations = []engine.Relation{{LHS: inter.ID, RHS: inter.ID}}
	return []*engine.PropositionDefinition{inter, hla}, nil
}

// sequence relates each related element to the primary element or to an
// earlier related element.
func (t *Translator) sequence(ctx context.Context, el *DataElement, id string) ([]*engine.PropositionDefinition, error) {
	if el.PrimaryDataElement == nil || el.PrimaryDataElement.DataElementKey == "" {
		return nil, invalid("Sequence %s must have a primary data element", el.Key)
	}
	primaryKey := el.PrimaryDataElement.DataElementKey
	primary, err := t.PropositionID(ctx, primaryKey)
	if err != nil {
		return nil, err
	}
	ids := map[string]string{primaryKey: primary}
	def := base(el, id, engine.TypeHighLevelAbstraction)
	if len(el.RelatedDataElements) == 0 {
		def.Relations = []engine.Relation{{LHS: primary, RHS: primary}}
		return []*engine.PropositionDefinition{def}, nil
	}
	for _, r := range el.RelatedDataElements {
		key := r.DataElementField.DataElementKey
		rid, err := t.PropositionID(ctx, key)
		if err != nil {
			return nil, err
		}
		anchorKey := r.SequentialDataElement
		if anchorKey == "" {
			anchorKey = primaryKey
		}
		anchor, ok := ids[anchorKey]
		if !ok {
			return nil, invalid("Sequence %s relates %s to %s, which is not an earlier element", el.Key, key, anchorKey)
		}
		min, max, unit, err := t.bounds(ctx, r.RelationMinCount, r.RelationMinUnits, r.RelationMaxCount, r.RelationMaxUnits)
		if err != nil {
			return nil, err
		}
		rel := engine.Relation{MinDistance: min, MaxDistance: max, DistanceUnit: unit}
		switch strings.ToLower(r.RelationOperator) {
		case RelationBefore:
			rel.LHS, rel.RHS = rid, anchor
		case RelationAfter:
			rel.LHS, rel.RHS = anchor, rid
		default:
			return nil, invalid("Invalid relation operator %s", r.RelationOperator)
		}
		def.Relations = append(def.Relations, rel)
		ids[key] = rid
	}
	return []*engine.PropositionDefinition{def}, nil
}
