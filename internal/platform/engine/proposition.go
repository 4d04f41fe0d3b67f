package engine

import (
	"strconv"
	"time"
)

// Proposition is one fact about a key (a patient): an event or parameter
// observed in the data, a constant attribute, or a derived abstraction.
type Proposition struct {
	ID         string              `json:"id"`
	KeyID      string              `json:"keyId"`
	UniqueID   string              `json:"uniqueId"`
	Start      *time.Time          `json:"start,omitempty"`
	Finish     *time.Time          `json:"finish,omitempty"`
	Value      string              `json:"value,omitempty"`
	Properties map[string]string   `json:"properties,omitempty"`
	References map[string][]string `json:"references,omitempty"`
}

// NumericValue parses Value as a number.
func (p *Proposition) NumericValue() (float64, bool) {
	f, err := strconv.ParseFloat(p.Value, 64)
	return f, err == nil
}

// relabel copies p under another proposition id, keeping its interval.
func (p *Proposition) relabel(id, uniqueID string) *Proposition {
	return &Proposition{
		ID:       id,
		KeyID:    p.KeyID,
		UniqueID: uniqueID,
		Start:    p.Start,
		Finish:   p.Finish,
		Value:    p.Value,
	}
}

func (p *Proposition) finishOrStart() *time.Time {
	if p.Finish != nil {
		return p.Finish
	}
	return p.Start
}
