package dsb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/eureka/eureka/internal/platform/engine"
)

type workbook map[string][][]any

func sampleWorkbook() workbook {
	return workbook{
		SheetPatients: {
			{"PATIENT_KEY", "FIRST_NAME", "LAST_NAME", "DOB", "LANGUAGE", "MARITAL_STATUS", "RACE", "GENDER"},
			{"P1", "Ada", "King", "1950-01-01", "EN", "M", "W", "F"},
			{"P2", "Bo", "Hill", "1960-05-05", "ES", "S", "H", "M"},
		},
		SheetProviders: {
			{"PROVIDER_KEY", "FIRST_NAME", "LAST_NAME"},
			{"D1", "Ann", "Lee"},
		},
		SheetEncounters: {
			{"ENCOUNTER_KEY", "PATIENT_KEY", "PROVIDER_KEY", "TS_START", "TS_END", "ENCOUNTER_TYPE", "DISCHARGE_DISP"},
			{"E1", "P1", "D1", "2011-03-01 08:00:00", "2011-03-03 10:00:00", "IP", "HOME"},
			{"E2", "P2", "D1", "2011-04-01 09:00:00", "2011-04-01 11:00:00", "OP", ""},
		},
		SheetICD9Diagnoses: {
			{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID", "RANK"},
			{"X1", "E1", "2011-03-01 09:00:00", "250.00", "1"},
			{"X2", "E2", "2011-04-01 09:30:00", "401.9", "1"},
		},
		SheetICD9Procedures: {{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID"}},
		SheetCPT: {
			{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID"},
			{"C1", "E2", "2011-04-01 09:15:00", "99213"},
		},
		SheetMedications: {{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID"}},
		SheetLabs: {
			{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID", "RESULT_STR", "UNITS", "FLAG"},
			{"L1", "E1", "2011-03-01 10:30:00", "GLU", "150", "mg/dL", "H"},
			{"L2", "E1", "2011-03-02 10:30:00", "GLU", "160", "mg/dL", "H"},
			{"L3", "E2", "2011-04-01 10:00:00", "HBA1C", "7.5", "%", ""},
		},
		SheetVitals: {
			{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID", "RESULT_STR", "UNITS", "FLAG"},
			{"V1", "E1", "2011-03-01 08:30:00", "SBP", "140", "mmHg", ""},
		},
	}
}

func writeWorkbook(t *testing.T, path string, wb workbook) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for sheet, rows := range wb {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", sheet))
			first = false
		} else {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			r := row
			require.NoError(t, f.SetSheetRow(sheet, cell, &r))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func openBackend(t *testing.T, wb workbook) *Backend {
	t.Helper()
	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "sc1", "data.xlsx"), wb)
	b, err := Open(context.Background(), Options{
		Name:           "test-dsb",
		DatabaseName:   "test",
		Filename:       "data.xlsx",
		DataDir:        dir,
		SourceConfigID: "sc1",
		RootFullNames:  DefaultRootFullNames(),
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func byID(props []*engine.Proposition, id string) []*engine.Proposition {
	var out []*engine.Proposition
	for _, p := range props {
		if p.ID == id {
			out = append(out, p)
		}
	}
	return out
}

func TestBackend_ValidSpreadsheet(t *testing.T) {
	b := openBackend(t, sampleWorkbook())

	events, err := b.ValidateData(context.Background())
	require.NoError(t, err)
	for _, ev := range events {
		assert.False(t, ev.Fatal, ev.UserMessage())
	}
	assert.Equal(t, "Patient", b.KeyType())
}

func TestBackend_ReadPropositions(t *testing.T) {
	b := openBackend(t, sampleWorkbook())

	byKey, err := b.ReadPropositions(context.Background(), nil,
		[]string{"LAB:Glucose", "Encounter", "PatientDetails", "ICD9:250.00", "Provider"})
	require.NoError(t, err)
	require.Contains(t, byKey, "P1")
	require.Contains(t, byKey, "P2")

	p1 := byKey["P1"]
	glucose := byID(p1, "LAB:Glucose")
	require.Len(t, glucose, 2)
	assert.Equal(t, "150", glucose[0].Value)
	assert.Equal(t, "mg/dL", glucose[0].Properties["unitOfMeasure"])
	assert.Equal(t, []string{"Encounters^E1"}, glucose[0].References["encounter"])
	assert.Equal(t, 30, glucose[0].Start.Minute())

	details := byID(p1, "PatientDetails")
	require.Len(t, details, 1)
	assert.Equal(t, "Female", details[0].Properties["gender"])
	assert.Equal(t, "English", details[0].Properties["language"])
	assert.Equal(t, "NotHispanicOrLatino", details[0].Properties["ethnicity"])
	assert.Equal(t, "1950-01-01", details[0].Properties["dateOfBirth"])
	assert.Equal(t, []string{"Encounters^E1"}, details[0].References["encounters"])

	enc := byID(p1, "Encounter")
	require.Len(t, enc, 1)
	assert.Equal(t, 0, enc[0].Start.Hour(), "encounters are truncated to days")
	assert.Equal(t, "Inpatient", enc[0].Properties["type"])
	assert.Equal(t, []string{"Providers^D1"}, enc[0].References["provider"])
	assert.Contains(t, enc[0].References[DefaultRootFullName], "Labs^L1")
	assert.Contains(t, enc[0].References[DefaultRootFullName], "Diagnosis Codes^X1")

	assert.Len(t, byID(p1, "ICD9:250.00"), 1)
	assert.Len(t, byID(p1, "Provider"), 1)
	assert.Empty(t, byID(byKey["P2"], "LAB:Glucose"))
	assert.Empty(t, byID(byKey["P2"], "ICD9:250.00"))
}

func TestBackend_ReadPropositions_KeyFilter(t *testing.T) {
	b := openBackend(t, sampleWorkbook())
	byKey, err := b.ReadPropositions(context.Background(), []string{"P2"}, []string{"Encounter", "CPT:99213"})
	require.NoError(t, err)
	assert.NotContains(t, byKey, "P1")
	assert.Len(t, byID(byKey["P2"], "CPT:99213"), 1)
}

func TestBackend_InvalidSpreadsheet(t *testing.T) {
	wb := sampleWorkbook()
	wb[SheetPatients] = append(wb[SheetPatients], []any{"P1", "Dup", "Licate", "1970-01-01", "EN", "S", "W", "M"})
	wb[SheetLabs] = append(wb[SheetLabs],
		[]any{"L4", "E9", "2011-03-01 10:30:00", "GLU", "150", "mg/dL", ""},
		[]any{"L5", "E1", "2011-03-01 11:30:00", "ZZZ", "high", "", ""},
	)
	wb[SheetEncounters] = append(wb[SheetEncounters],
		[]any{"E3", "P2", "", "2011-05-02 00:00:00", "2011-05-01 00:00:00", "OP", ""})
	b := openBackend(t, wb)

	events, err := b.ValidateData(context.Background())
	require.Error(t, err)
	var failed *engine.FailedDataValidationError
	require.True(t, errors.As(err, &failed))
	assert.Contains(t, err.Error(), "Invalid spreadsheet data.xlsx in data source backend test-dsb")

	var fatal, warnings []string
	for _, ev := range events {
		if ev.Fatal {
			fatal = append(fatal, ev.Message)
		} else {
			warnings = append(warnings, ev.Message)
		}
	}
	assert.Contains(t, fatal, "duplicate PATIENT_KEY P1 (first seen on line 2)")
	assert.Contains(t, fatal, "unknown encounter E9")
	assert.Contains(t, fatal, "TS_START 2011-05-02 00:00:00 is after TS_END 2011-05-01 00:00:00")
	assert.Contains(t, warnings, "code ZZZ is not mapped and will be ignored")
	assert.Contains(t, warnings, `non-numeric result "high"`)
}

func TestOpen_RequiresDatabaseName(t *testing.T) {
	_, err := Open(context.Background(), Options{Name: "dsb1"})
	require.Error(t, err)
	assert.Equal(t, "No database name specified for data source backend 'dsb1'", err.Error())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), Options{
		Name: "dsb1", DatabaseName: "db", Filename: "nope.xlsx", DataDir: t.TempDir(), SourceConfigID: "sc",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpen_UnreadableSpreadsheetIsMarkedFailed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sc", "broken.xlsx")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not a workbook"), 0o644))

	_, err := Open(context.Background(), Options{
		Name: "dsb1", DatabaseName: "db", Filename: "broken.xlsx", DataDir: dir, SourceConfigID: "sc",
	})
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "sc", "broken.failed"))
	assert.NoError(t, statErr)
}

func TestOpen_RejectsNamesOutsideDataDir(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "uploads")
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "sc"), 0o755))
	secret := filepath.Join(root, "secrets.db")
	require.NoError(t, os.WriteFile(secret, []byte("not a workbook"), 0o600))

	for _, name := range []string{"../../secrets.db", secret, "sc/../../../secrets.db"} {
		_, err := Open(context.Background(), Options{
			Name: "dsb1", DatabaseName: "db", Filename: name, DataDir: dataDir, SourceConfigID: "sc",
		})
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrNonLocalFilename), "%s: %v", name, err)
	}
	_, err := Open(context.Background(), Options{
		Name: "dsb1", DatabaseName: "db", Filename: "secrets.db", DataDir: dataDir, SourceConfigID: "..",
	})
	assert.True(t, errors.Is(err, ErrNonLocalFilename), "%v", err)

	_, statErr := os.Stat(secret)
	assert.NoError(t, statErr, "the file outside the data directory must be left alone")
	_, statErr = os.Stat(filepath.Join(root, "secrets.failed"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestCheckFilename(t *testing.T) {
	for _, ok := range []string{"upload.xlsx", "batch", "batch/a.xlsx"} {
		assert.NoError(t, CheckFilename(ok), ok)
	}
	for _, bad := range []string{"", "..", "../x.xlsx", "/etc/passwd", "a/../../x"} {
		assert.ErrorIs(t, CheckFilename(bad), ErrNonLocalFilename, bad)
	}
	_, err := ParseOptions("dsb", map[string]string{"filename": "../x.xlsx"})
	assert.ErrorIs(t, err, ErrNonLocalFilename)
}

func TestOpen_DirectoryOfSpreadsheets(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "sc", "batch", "a.xlsx"), sampleWorkbook())
	b, err := Open(context.Background(), Options{
		Name: "dsb1", DatabaseName: "db", Filename: "batch", DataDir: dir, SourceConfigID: "sc",
		RootFullNames: DefaultRootFullNames(),
	})
	require.NoError(t, err)
	defer b.Close()
	assert.Len(t, b.providers, 1)
}

func TestClose_DropsTablesAndClosesSpreadsheets(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "sc", "data.xlsx"), sampleWorkbook())
	b, err := Open(context.Background(), Options{
		Name: "dsb1", DatabaseName: "db", Filename: "data.xlsx", DataDir: dir, SourceConfigID: "sc",
		RootFullNames: DefaultRootFullNames(),
	})
	require.NoError(t, err)
	_, err = b.ReadPropositions(context.Background(), nil, []string{"Encounter"})
	require.NoError(t, err)
	require.NoError(t, b.Close())
}
