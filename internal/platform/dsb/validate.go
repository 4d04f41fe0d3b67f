package dsb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/eureka/eureka/internal/platform/engine"
)

// DataValidator checks one data file's rows for consistency. Structural
// problems are fatal; unknown codes and non-numeric results are warnings.
type DataValidator struct {
	uri    string
	codes  map[string]*Mappings
	events []engine.DataValidationEvent
	failed bool
	now    func() time.Time
}

// NewDataValidator validates data from uri. codes maps sheet names to the
// mappings their ENTITY_ID column is translated with.
func NewDataValidator(uri string, codes map[string]*Mappings) *DataValidator {
	return &DataValidator{uri: uri, codes: codes, now: time.Now}
}

func (v *DataValidator) Events() []engine.DataValidationEvent { return v.events }

func (v *DataValidator) Failed() bool { return v.failed }

func (v *DataValidator) add(fatal bool, sheet string, line int, format string, args ...any) {
	v.events = append(v.events, engine.DataValidationEvent{
		Fatal:     fatal,
		Type:      sheet,
		Line:      line,
		Message:   fmt.Sprintf(format, args...),
		URI:       v.uri,
		Timestamp: v.now(),
	})
	if fatal {
		v.failed = true
	}
}

func (v *DataValidator) problems(sheet string, line int, problems []string) {
	for _, p := range problems {
		v.add(true, sheet, line, "%s", p)
	}
}

// keySet records keys in first-seen order and reports duplicates.
func (v *DataValidator) keySet(sheet string, col string) func(line int, key string) bool {
	seen := make(map[string]int)
	return func(line int, key string) bool {
		if key == "" {
			v.add(true, sheet, line, "missing %s", col)
			return false
		}
		if first, ok := seen[key]; ok {
			v.add(true, sheet, line, "duplicate %s %s (first seen on line %d)", col, key, first)
			return false
		}
		seen[key] = line
		return true
	}
}

// Validate reads every sheet of p and records events.
func (v *DataValidator) Validate(p DataProvider) error {
	patients, err := p.Patients()
	if err != nil {
		return err
	}
	providers, err := p.Providers()
	if err != nil {
		return err
	}
	encounters, err := p.Encounters()
	if err != nil {
		return err
	}

	patientKeys := make(map[string]bool)
	check := v.keySet(SheetPatients, "PATIENT_KEY")
	for _, pt := range patients {
		if check(pt.Line, pt.Key) {
			patientKeys[pt.Key] = true
		}
		v.problems(SheetPatients, pt.Line, pt.Problems)
	}

	providerKeys := make(map[string]bool)
	check = v.keySet(SheetProviders, "PROVIDER_KEY")
	for _, pr := range providers {
		if check(pr.Line, pr.Key) {
			providerKeys[pr.Key] = true
		}
	}

	encounterKeys := make(map[string]bool)
	check = v.keySet(SheetEncounters, "ENCOUNTER_KEY")
	for _, e := range encounters {
		if check(e.Line, e.Key) {
			encounterKeys[e.Key] = true
		}
		v.problems(SheetEncounters, e.Line, e.Problems)
		switch {
		case e.PatientKey == "":
			v.add(true, SheetEncounters, e.Line, "missing PATIENT_KEY")
		case !patientKeys[e.PatientKey]:
			v.add(true, SheetEncounters, e.Line, "unknown patient %s", e.PatientKey)
		}
		if e.ProviderKey != "" && !providerKeys[e.ProviderKey] {
			v.add(true, SheetEncounters, e.Line, "unknown provider %s", e.ProviderKey)
		}
		if e.Start == nil && len(e.Problems) == 0 {
			v.add(true, SheetEncounters, e.Line, "missing TS_START")
		}
		if e.Start != nil && e.End != nil && e.Start.After(*e.End) {
			v.add(true, SheetEncounters, e.Line, "TS_START %s is after TS_END %s",
				e.Start.Format(timestampLayout), e.End.Format(timestampLayout))
		}
	}

	coded := []struct {
		sheet string
		read  func() ([]CodedEvent, error)
	}{
		{SheetCPT, p.CPTCodes},
		{SheetICD9Diagnoses, p.ICD9Diagnoses},
		{SheetICD9Procedures, p.ICD9Procedures},
		{SheetMedications, p.Medications},
	}
	for _, c := range coded {
		events, err := c.read()
		if err != nil {
			return err
		}
		check := v.keySet(c.sheet, "EVENT_KEY")
		for _, ev := range events {
			check(ev.Line, ev.Key)
			v.event(c.sheet, ev.Line, ev.EncounterKey, ev.Timestamp, ev.EntityID, ev.Problems, encounterKeys)
		}
	}

	observed := []struct {
		sheet string
		read  func() ([]Observation, error)
	}{
		{SheetLabs, p.Labs},
		{SheetVitals, p.Vitals},
	}
	for _, o := range observed {
		obs, err := o.read()
		if err != nil {
			return err
		}
		check := v.keySet(o.sheet, "EVENT_KEY")
		for _, ob := range obs {
			check(ob.Line, ob.Key)
			v.event(o.sheet, ob.Line, ob.EncounterKey, ob.Timestamp, ob.EntityID, ob.Problems, encounterKeys)
			if ob.Result != "" {
				if _, err := strconv.ParseFloat(ob.Result, 64); err != nil {
					v.add(false, o.sheet, ob.Line, "non-numeric result %q", ob.Result)
				}
			}
		}
	}
	return nil
}

func (v *DataValidator) event(sheet string, line int, encounterKey string, ts *time.Time, entityID string, problems []string, encounters map[string]bool) {
	v.problems(sheet, line, problems)
	switch {
	case encounterKey == "":
		v.add(true, sheet, line, "missing ENCOUNTER_KEY")
	case !encounters[encounterKey]:
		v.add(true, sheet, line, "unknown encounter %s", encounterKey)
	}
	if ts == nil && len(problems) == 0 {
		v.add(true, sheet, line, "missing TS_OBX")
	}
	if entityID == "" {
		v.add(true, sheet, line, "missing ENTITY_ID")
		return
	}
	if m := v.codes[sheet]; m != nil {
		if _, ok := m.Target(entityID); !ok {
			v.add(false, sheet, line, "code %s is not mapped and will be ignored", entityID)
		}
	}
}
