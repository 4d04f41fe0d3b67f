package dsb

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// XlsxDataProvider reads the sheets of an uploaded workbook. Each sheet has
// a header row naming its columns; column order is free.
type XlsxDataProvider struct {
	path string
	file *excelize.File
}

// OpenXlsx opens the workbook at path and checks that every sheet exists.
func OpenXlsx(path string) (*XlsxDataProvider, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %s: %w", path, err)
	}
	present := make(map[string]bool)
	for _, s := range f.GetSheetList() {
		present[strings.ToLower(s)] = true
	}
	for _, s := range []string{SheetPatients, SheetEncounters, SheetProviders, SheetCPT, SheetICD9Diagnoses,
		SheetICD9Procedures, SheetMedications, SheetLabs, SheetVitals} {
		if !present[s] {
			f.Close()
			return nil, fmt.Errorf("spreadsheet %s: missing sheet %q", path, s)
		}
	}
	return &XlsxDataProvider{path: path, file: f}, nil
}

func (x *XlsxDataProvider) Name() string { return filepath.Base(x.path) }

func (x *XlsxDataProvider) URI() string { return "file://" + filepath.ToSlash(x.path) }

func (x *XlsxDataProvider) Close() error {
	return x.file.Close()
}

// sheetRow is one data row with cells addressable by header name.
type sheetRow struct {
	line  int
	cells map[string]string
}

func (r sheetRow) get(col string) string {
	return strings.TrimSpace(r.cells[col])
}

// time parses a timestamp cell. Unparseable values are appended to
// problems and yield nil.
func (r sheetRow) time(col string, problems *[]string) *time.Time {
	t, err := parseTimestamp(r.get(col))
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: %v", col, err))
		return nil
	}
	return t
}

func (x *XlsxDataProvider) rows(sheet string) ([]sheetRow, error) {
	name := sheet
	for _, s := range x.file.GetSheetList() {
		if strings.EqualFold(s, sheet) {
			name = s
			break
		}
	}
	raw, err := x.file.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s of %s: %w", sheet, x.Name(), err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	header := make([]string, len(raw[0]))
	for i, h := range raw[0] {
		header[i] = strings.ToUpper(strings.TrimSpace(h))
	}
	var out []sheetRow
	for i, cells := range raw[1:] {
		row := sheetRow{line: i + 2, cells: make(map[string]string, len(header))}
		empty := true
		for j, v := range cells {
			if j < len(header) && header[j] != "" {
				row.cells[header[j]] = v
				if strings.TrimSpace(v) != "" {
					empty = false
				}
			}
		}
		if !empty {
			out = append(out, row)
		}
	}
	return out, nil
}

func (x *XlsxDataProvider) Patients() ([]Patient, error) {
	rows, err := x.rows(SheetPatients)
	if err != nil {
		return nil, err
	}
	out := make([]Patient, 0, len(rows))
	for _, r := range rows {
		p := Patient{
			Line:          r.line,
			Key:           r.get("PATIENT_KEY"),
			FirstName:     r.get("FIRST_NAME"),
			LastName:      r.get("LAST_NAME"),
			Language:      r.get("LANGUAGE"),
			MaritalStatus: r.get("MARITAL_STATUS"),
			Race:          r.get("RACE"),
			Gender:        r.get("GENDER"),
		}
		p.DOB = r.time("DOB", &p.Problems)
		out = append(out, p)
	}
	return out, nil
}

func (x *XlsxDataProvider) Encounters() ([]Encounter, error) {
	rows, err := x.rows(SheetEncounters)
	if err != nil {
		return nil, err
	}
	out := make([]Encounter, 0, len(rows))
	for _, r := range rows {
		e := Encounter{
			Line:                 r.line,
			Key:                  r.get("ENCOUNTER_KEY"),
			PatientKey:           r.get("PATIENT_KEY"),
			ProviderKey:          r.get("PROVIDER_KEY"),
			Type:                 r.get("ENCOUNTER_TYPE"),
			DischargeDisposition: r.get("DISCHARGE_DISP"),
		}
		e.Start = r.time("TS_START", &e.Problems)
		e.End = r.time("TS_END", &e.Problems)
		out = append(out, e)
	}
	return out, nil
}

func (x *XlsxDataProvider) Providers() ([]Provider, error) {
	rows, err := x.rows(SheetProviders)
	if err != nil {
		return nil, err
	}
	out := make([]Provider, 0, len(rows))
	for _, r := range rows {
		out = append(out, Provider{
			Line:      r.line,
			Key:       r.get("PROVIDER_KEY"),
			FirstName: r.get("FIRST_NAME"),
			LastName:  r.get("LAST_NAME"),
		})
	}
	return out, nil
}

func (x *XlsxDataProvider) codedEvents(sheet string) ([]CodedEvent, error) {
	rows, err := x.rows(sheet)
	if err != nil {
		return nil, err
	}
	out := make([]CodedEvent, 0, len(rows))
	for _, r := range rows {
		ev := CodedEvent{
			Line:         r.line,
			Key:          r.get("EVENT_KEY"),
			EncounterKey: r.get("ENCOUNTER_KEY"),
			EntityID:     r.get("ENTITY_ID"),
			Rank:         r.get("RANK"),
		}
		ev.Timestamp = r.time("TS_OBX", &ev.Problems)
		out = append(out, ev)
	}
	return out, nil
}

func (x *XlsxDataProvider) CPTCodes() ([]CodedEvent, error) { return x.codedEvents(SheetCPT) }

func (x *XlsxDataProvider) ICD9Diagnoses() ([]CodedEvent, error) {
	return x.codedEvents(SheetICD9Diagnoses)
}

func (x *XlsxDataProvider) ICD9Procedures() ([]CodedEvent, error) {
	return x.codedEvents(SheetICD9Procedures)
}

func (x *XlsxDataProvider) Medications() ([]CodedEvent, error) {
	return x.codedEvents(SheetMedications)
}

func (x *XlsxDataProvider) observations(sheet string) ([]Observation, error) {
	rows, err := x.rows(sheet)
	if err != nil {
		return nil, err
	}
	out := make([]Observation, 0, len(rows))
	for _, r := range rows {
		o := Observation{
			Line:         r.line,
			Key:          r.get("EVENT_KEY"),
			EncounterKey: r.get("ENCOUNTER_KEY"),
			EntityID:     r.get("ENTITY_ID"),
			Result:       r.get("RESULT_STR"),
			Units:        r.get("UNITS"),
			Flag:         r.get("FLAG"),
		}
		o.Timestamp = r.time("TS_OBX", &o.Problems)
		out = append(out, o)
	}
	return out, nil
}

func (x *XlsxDataProvider) Labs() ([]Observation, error) { return x.observations(SheetLabs) }

func (x *XlsxDataProvider) Vitals() ([]Observation, error) { return x.observations(SheetVitals) }

var timestampLayouts = []string{
	timestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	dateLayout,
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"1/2/06 15:04",
	"1/2/06",
}

// parseTimestamp accepts text timestamps and Excel serial dates. Empty
// cells yield nil.
func parseTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t, nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(f, false)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", s, err)
		}
		t = t.Round(time.Second)
		return &t, nil
	}
	return nil, fmt.Errorf("invalid timestamp %q", s)
}

func formatTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timestampLayout)
}
