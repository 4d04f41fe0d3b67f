package dsb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockInserter(t *testing.T) (*DataInserter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDataInserter(db), mock
}

func TestInsertProviders_OneTransaction(t *testing.T) {
	ins, mock := newMockInserter(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO EUREKA.PROVIDER (PROVIDER_KEY, FIRST_NAME, LAST_NAME) VALUES (?, ?, ?)")
	prep.ExpectExec().WithArgs("D1", "Ann", "Lee").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("D2", nil, nil).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := ins.InsertProviders(context.Background(), []Provider{
		{Key: "D1", FirstName: "Ann", LastName: "Lee"},
		{Key: "D2"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEncounters_FormatsTimestamps(t *testing.T) {
	ins, mock := newMockInserter(t)
	start := time.Date(2011, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO EUREKA.ENCOUNTER (ENCOUNTER_KEY, PATIENT_KEY, PROVIDER_KEY, TS_START, TS_END, ENCOUNTER_TYPE, DISCHARGE_DISP) VALUES (?, ?, ?, ?, ?, ?, ?)")
	prep.ExpectExec().WithArgs("E1", "P1", "D1", "2011-03-01 08:00:00", nil, "IP", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := ins.InsertEncounters(context.Background(), []Encounter{
		{Key: "E1", PatientKey: "P1", ProviderKey: "D1", Start: &start, Type: "IP"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLabs_RollsBackOnError(t *testing.T) {
	ins, mock := newMockInserter(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO EUREKA.LABS_EVENT (EVENT_KEY, ENCOUNTER_KEY, TS_OBX, ENTITY_ID, RESULT_STR, UNITS, FLAG) VALUES (?, ?, ?, ?, ?, ?, ?)")
	prep.ExpectExec().WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := ins.InsertLabs(context.Background(), []Observation{{Key: "L1", EncounterKey: "E1", EntityID: "GLU"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert into LABS_EVENT")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_EmptySheetSkipsTransaction(t *testing.T) {
	ins, mock := newMockInserter(t)
	require.NoError(t, ins.InsertVitals(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
