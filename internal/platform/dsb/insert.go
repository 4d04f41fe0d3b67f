package dsb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DataInserter copies a provider's rows into the EUREKA schema, one
// transaction per sheet.
type DataInserter struct {
	db *sql.DB
}

func NewDataInserter(db *sql.DB) *DataInserter {
	return &DataInserter{db: db}
}

func insertSQL(table string, cols ...string) string {
	return fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)",
		SchemaName, table, strings.Join(cols, ", "), placeholders(len(cols)))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// insertRows runs query once per row inside a single transaction.
func (d *DataInserter) insertRows(ctx context.Context, table, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert into %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert into %s: %w", table, err)
	}
	return nil
}

func (d *DataInserter) InsertPatients(ctx context.Context, rows []Patient) error {
	q := insertSQL("PATIENT", "PATIENT_KEY", "FIRST_NAME", "LAST_NAME", "DOB", "LANGUAGE", "MARITAL_STATUS", "RACE", "GENDER")
	return d.insertRows(ctx, "PATIENT", q, len(rows), func(i int) []any {
		r := rows[i]
		var dob any
		if r.DOB != nil {
			dob = r.DOB.Format(dateLayout)
		}
		return []any{r.Key, nullable(r.FirstName), nullable(r.LastName), dob,
			nullable(r.Language), nullable(r.MaritalStatus), nullable(r.Race), nullable(r.Gender)}
	})
}

func (d *DataInserter) InsertEncounters(ctx context.Context, rows []Encounter) error {
	q := insertSQL("ENCOUNTER", "ENCOUNTER_KEY", "PATIENT_KEY", "PROVIDER_KEY", "TS_START", "TS_END", "ENCOUNTER_TYPE", "DISCHARGE_DISP")
	return d.insertRows(ctx, "ENCOUNTER", q, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.Key, r.PatientKey, nullable(r.ProviderKey), formatTimestamp(r.Start), formatTimestamp(r.End),
			nullable(r.Type), nullable(r.DischargeDisposition)}
	})
}

func (d *DataInserter) InsertProviders(ctx context.Context, rows []Provider) error {
	q := insertSQL("PROVIDER", "PROVIDER_KEY", "FIRST_NAME", "LAST_NAME")
	return d.insertRows(ctx, "PROVIDER", q, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.Key, nullable(r.FirstName), nullable(r.LastName)}
	})
}

func (d *DataInserter) insertCoded(ctx context.Context, table string, rows []CodedEvent) error {
	q := insertSQL(table, "EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID")
	return d.insertRows(ctx, table, q, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.Key, r.EncounterKey, formatTimestamp(r.Timestamp), r.EntityID}
	})
}

func (d *DataInserter) InsertCPTCodes(ctx context.Context, rows []CodedEvent) error {
	return d.insertCoded(ctx, "CPT_EVENT", rows)
}

func (d *DataInserter) InsertICD9Diagnoses(ctx context.Context, rows []CodedEvent) error {
	q := insertSQL("ICD9D_EVENT", "EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID", "RANK")
	return d.insertRows(ctx, "ICD9D_EVENT", q, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.Key, r.EncounterKey, formatTimestamp(r.Timestamp), r.EntityID, nullable(r.Rank)}
	})
}

func (d *DataInserter) InsertICD9Procedures(ctx context.Context, rows []CodedEvent) error {
	return d.insertCoded(ctx, "ICD9P_EVENT", rows)
}

func (d *DataInserter) InsertMedications(ctx context.Context, rows []CodedEvent) error {
	return d.insertCoded(ctx, "MEDS_EVENT", rows)
}

func (d *DataInserter) insertObservations(ctx context.Context, table string, rows []Observation) error {
	q := insertSQL(table, "EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID", "RESULT_STR", "UNITS", "FLAG")
	return d.insertRows(ctx, table, q, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.Key, r.EncounterKey, formatTimestamp(r.Timestamp), r.EntityID,
			nullable(r.Result), nullable(r.Units), nullable(r.Flag)}
	})
}

func (d *DataInserter) InsertLabs(ctx context.Context, rows []Observation) error {
	return d.insertObservations(ctx, "LABS_EVENT", rows)
}

func (d *DataInserter) InsertVitals(ctx context.Context, rows []Observation) error {
	return d.insertObservations(ctx, "VITALS_EVENT", rows)
}

// InsertAll copies every sheet of p.
func (d *DataInserter) InsertAll(ctx context.Context, p DataProvider) error {
	patients, err := p.Patients()
	if err != nil {
		return err
	}
	if err := d.InsertPatients(ctx, patients); err != nil {
		return err
	}
	encounters, err := p.Encounters()
	if err != nil {
		return err
	}
	if err := d.InsertEncounters(ctx, encounters); err != nil {
		return err
	}
	providers, err := p.Providers()
	if err != nil {
		return err
	}
	if err := d.InsertProviders(ctx, providers); err != nil {
		return err
	}
	for _, step := range []struct {
		read   func() ([]CodedEvent, error)
		insert func(context.Context, []CodedEvent) error
	}{
		{p.CPTCodes, d.InsertCPTCodes},
		{p.ICD9Diagnoses, d.InsertICD9Diagnoses},
		{p.ICD9Procedures, d.InsertICD9Procedures},
		{p.Medications, d.InsertMedications},
	} {
		rows, err := step.read()
		if err != nil {
			return err
		}
		if err := step.insert(ctx, rows); err != nil {
			return err
		}
	}
	for _, step := range []struct {
		read   func() ([]Observation, error)
		insert func(context.Context, []Observation) error
	}{
		{p.Labs, d.InsertLabs},
		{p.Vitals, d.InsertVitals},
	} {
		rows, err := step.read()
		if err != nil {
			return err
		}
		if err := step.insert(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}
