package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// deriver computes the instances of every proposition id for one key.
// Results are memoized; definitions are assumed acyclic.
type deriver struct {
	keyID    string
	defs     map[string]*PropositionDefinition
	raw      map[string][]*Proposition
	filters  []*DateTimeFilter
	cache    map[string][]*Proposition
	visiting map[string]bool
	seq      int
}

func newDeriver(keyID string, defs map[string]*PropositionDefinition, raw []*Proposition, filters []*DateTimeFilter) *deriver {
	byID := make(map[string][]*Proposition)
	for _, p := range raw {
		byID[p.ID] = append(byID[p.ID], p)
	}
	return &deriver{
		keyID:    keyID,
		defs:     defs,
		raw:      byID,
		filters:  filters,
		cache:    make(map[string][]*Proposition),
		visiting: make(map[string]bool),
	}
}

func (d *deriver) nextUniqueID(id string) string {
	d.seq++
	return fmt.Sprintf("%s^%s^%d", id, d.keyID, d.seq)
}

func (d *deriver) instances(id string) []*Proposition {
	if cached, ok := d.cache[id]; ok {
		return cached
	}
	if d.visiting[id] {
		return nil
	}
	d.visiting[id] = true
	defer delete(d.visiting, id)

	var out []*Proposition
	def := d.defs[id]
	switch {
	case def == nil:
		out = append(out, d.raw[id]...)
	case def.Type == TypeLowLevelAbstraction:
		out = d.lowLevel(def)
	case def.Type == TypeCompoundLowLevelAbstraction:
		out = d.compound(def)
	case def.Type == TypeSliceAbstraction:
		out = d.slice(def)
	case def.Type == TypeHighLevelAbstraction:
		out = d.highLevel(def)
	default:
		if def.InDataSource {
			out = append(out, d.raw[id]...)
		}
		for _, child := range def.InverseIsA {
			for _, p := range d.instances(child) {
				out = append(out, p.relabel(id, d.nextUniqueID(id)))
			}
		}
	}

	kept := out[:0]
	for _, p := range out {
		if d.allowed(p) {
			kept = append(kept, p)
		}
	}
	sortByStart(kept)
	d.cache[id] = kept
	return kept
}

func (d *deriver) allowed(p *Proposition) bool {
	for _, f := range d.filters {
		if !f.Allows(p) {
			return false
		}
	}
	return true
}

func (d *deriver) union(ids []string) []*Proposition {
	var out []*Proposition
	for _, id := range ids {
		out = append(out, d.instances(id)...)
	}
	sortByStart(out)
	return out
}

func (d *deriver) span(id string, first, last *Proposition) *Proposition {
	return &Proposition{
		ID:       id,
		KeyID:    d.keyID,
		UniqueID: d.nextUniqueID(id),
		Start:    first.Start,
		Finish:   last.finishOrStart(),
	}
}

// lowLevel groups consecutive matching values into runs. A value outside the
// thresholds or a gap outside the gap bounds closes the current run.
func (d *deriver) lowLevel(def *PropositionDefinition) []*Proposition {
	minValues := def.MinValues
	if minValues < 1 {
		minValues = 1
	}
	var out []*Proposition
	var run []*Proposition
	flush := func() {
		if len(run) >= minValues {
			p := d.span(def.ID, run[0], run[len(run)-1])
			p.Value = run[len(run)-1].Value
			out = append(out, p)
		}
		run = nil
	}
	for _, p := range d.union(def.AbstractedFrom) {
		if !matchesThresholds(p, def.Thresholds, def.ThresholdsOperator) {
			flush()
			continue
		}
		if len(run) > 0 && !withinBounds(gapBetween(run[len(run)-1], p), def.MinGap, def.MaxGap, def.GapUnit) {
			flush()
		}
		run = append(run, p)
	}
	flush()
	return out
}

func (d *deriver) compound(def *PropositionDefinition) []*Proposition {
	if def.ThresholdsOperator == MatchAll {
		var first, last *Proposition
		for _, child := range def.AbstractedFrom {
			insts := d.instances(child)
			if len(insts) == 0 {
				return nil
			}
			if first == nil || before(insts[0].Start, first.Start) {
				first = insts[0]
			}
			for _, p := range insts {
				if last == nil || before(last.finishOrStart(), p.finishOrStart()) {
					last = p
				}
			}
		}
		if first == nil {
			return nil
		}
		return []*Proposition{d.span(def.ID, first, last)}
	}
	var out []*Proposition
	for _, p := range d.union(def.AbstractedFrom) {
		out = append(out, p.relabel(def.ID, d.nextUniqueID(def.ID)))
	}
	return out
}

// slice emits one proposition per window of MinIndex occurrences whose span
// lies inside the within bounds. Windows do not overlap.
func (d *deriver) slice(def *PropositionDefinition) []*Proposition {
	n := def.MinIndex
	if n < 1 {
		n = 1
	}
	insts := d.union(def.AbstractedFrom)
	var out []*Proposition
	for i := 0; i+n <= len(insts); {
		first, last := insts[i], insts[i+n-1]
		if withinBounds(gapBetween(first, last), def.WithinMin, def.WithinMax, def.WithinUnit) {
			out = append(out, d.span(def.ID, first, last))
			i += n
			continue
		}
		i++
	}
	return out
}

// highLevel pairs lhs and rhs instances of each relation. The pairs of the
// first relation become the derived intervals; every other relation only
// needs to be satisfied once.
func (d *deriver) highLevel(def *PropositionDefinition) []*Proposition {
	if len(def.Relations) == 0 {
		return nil
	}
	for _, r := range def.Relations[1:] {
		if len(d.pairs(r)) == 0 {
			return nil
		}
	}
	var out []*Proposition
	seen := make(map[string]bool)
	for _, pair := range d.pairs(def.Relations[0]) {
		p := d.span(def.ID, pair[0], pair[1])
		k := timeKey(p.Start) + "|" + timeKey(p.Finish)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out
}

func (d *deriver) pairs(r Relation) [][2]*Proposition {
	lhs := d.instances(r.LHS)
	unbounded := r.MinDistance == nil && r.MaxDistance == nil
	if r.LHS == r.RHS && unbounded {
		out := make([][2]*Proposition, 0, len(lhs))
		for _, p := range lhs {
			out = append(out, [2]*Proposition{p, p})
		}
		return out
	}
	rhs := d.instances(r.RHS)
	var out [][2]*Proposition
	for _, l := range lhs {
		for _, rp := range rhs {
			if l == rp {
				continue
			}
			dist, ok := distance(l, rp)
			if !ok || dist < 0 {
				continue
			}
			if withinBounds(dist, r.MinDistance, r.MaxDistance, r.DistanceUnit) {
				out = append(out, [2]*Proposition{l, rp})
			}
		}
	}
	return out
}

func distance(l, r *Proposition) (time.Duration, bool) {
	end := l.finishOrStart()
	if end == nil || r.Start == nil {
		return 0, false
	}
	return r.Start.Sub(*end), true
}

func gapBetween(a, b *Proposition) time.Duration {
	d, ok := distance(a, b)
	if !ok {
		return 0
	}
	if d < 0 {
		return 0
	}
	return d
}

func withinBounds(d time.Duration, min, max *int, unit TimeUnit) bool {
	if unit == "" {
		unit = Day
	}
	if min != nil && d < unit.Duration(*min) {
		return false
	}
	if max != nil && d > unit.Duration(*max) {
		return false
	}
	return true
}

// matchesThresholds applies the thresholds that concern p. A threshold
// with a PropositionID only concerns instances of that proposition.
func matchesThresholds(p *Proposition, thresholds []Threshold, op ThresholdsOperator) bool {
	if len(thresholds) == 0 {
		return p.Value != ""
	}
	applied := 0
	for _, t := range thresholds {
		if t.PropositionID != "" && t.PropositionID != p.ID {
			continue
		}
		applied++
		ok := t.matches(p.Value)
		if op == MatchAny && ok {
			return true
		}
		if op != MatchAny && !ok {
			return false
		}
	}
	return op != MatchAny && applied > 0
}

func (t Threshold) matches(value string) bool {
	if t.LowerComp != "" && !compare(value, t.LowerComp, t.LowerValue) {
		return false
	}
	if t.UpperComp != "" && !compare(value, t.UpperComp, t.UpperValue) {
		return false
	}
	return true
}

// compare evaluates "value comp bound". Numbers compare numerically; other
// values support only EQ and NE.
func compare(value string, comp Comparator, bound string) bool {
	v, verr := strconv.ParseFloat(strings.TrimSpace(value), 64)
	b, berr := strconv.ParseFloat(strings.TrimSpace(bound), 64)
	if verr != nil || berr != nil {
		switch comp {
		case EQ:
			return value == bound
		case NE:
			return value != bound
		}
		return false
	}
	switch comp {
	case EQ:
		return v == b
	case NE:
		return v != b
	case LT:
		return v < b
	case LTE:
		return v <= b
	case GT:
		return v > b
	case GTE:
		return v >= b
	}
	return false
}

func before(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}

func sortByStart(ps []*Proposition) {
	sort.SliceStable(ps, func(i, j int) bool {
		return before(ps[i].Start, ps[j].Start)
	})
}

func timeKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
