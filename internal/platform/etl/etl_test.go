package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/domain/sourceconfig"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/dsb"
	"github.com/eureka/eureka/internal/platform/engine"
	"github.com/eureka/eureka/internal/platform/export"
)

// -- Fakes --

type fakeJobs struct {
	mu     sync.Mutex
	jobs   map[int64]*job.Job
	events map[int64][]*job.JobEvent
}

func newFakeJobs(jobs ...*job.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[int64]*job.Job), events: make(map[int64][]*job.JobEvent)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) GetByID(_ context.Context, id int64) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "no job")
	}
	return j, nil
}

func (f *fakeJobs) AddEvent(_ context.Context, jobID int64, ev *job.JobEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[jobID] = append(f.events[jobID], ev)
	if j, ok := f.jobs[jobID]; ok {
		j.State = ev.Status
	}
	return nil
}

func (f *fakeJobs) Search(_ context.Context, flt job.Filter) ([]*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*job.Job
	for _, j := range f.jobs {
		if flt.Unfinished && j.State.Terminal() {
			continue
		}
		if flt.To != nil && j.Created.After(*flt.To) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) statuses(id int64) []job.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []job.Status
	for _, ev := range f.events[id] {
		out = append(out, ev.Status)
	}
	return out
}

type runnerFunc func(ctx context.Context, j *job.Job, req *job.TaskRequest) error

func (f runnerFunc) Run(ctx context.Context, j *job.Job, req *job.TaskRequest) error {
	return f(ctx, j, req)
}

// -- Task --

func TestTask_Success(t *testing.T) {
	jobs := newFakeJobs(&job.Job{ID: 1})
	task := NewTask(&job.TaskRequest{JobID: 1}, jobs, runnerFunc(func(context.Context, *job.Job, *job.TaskRequest) error {
		return nil
	}), zerolog.Nop())
	task.Run(context.Background())

	assert.Equal(t, []job.Status{job.StatusStarted, job.StatusCompleted}, jobs.statuses(1))
	assert.Equal(t, "Processing completed without error", jobs.events[1][1].Message)
}

func TestTask_Failure(t *testing.T) {
	jobs := newFakeJobs(&job.Job{ID: 1})
	task := NewTask(&job.TaskRequest{JobID: 1}, jobs, runnerFunc(func(context.Context, *job.Job, *job.TaskRequest) error {
		return errors.New("disk on fire")
	}), zerolog.Nop())
	task.Run(context.Background())

	assert.Equal(t, []job.Status{job.StatusStarted, job.StatusError, job.StatusFailed}, jobs.statuses(1))
	assert.Equal(t, "disk on fire", jobs.events[1][1].Message)
	assert.Equal(t, "Processing failed", jobs.events[1][2].Message)
}

func TestTask_Panic(t *testing.T) {
	jobs := newFakeJobs(&job.Job{ID: 1})
	task := NewTask(&job.TaskRequest{JobID: 1}, jobs, runnerFunc(func(context.Context, *job.Job, *job.TaskRequest) error {
		panic("nil map")
	}), zerolog.Nop())
	task.Run(context.Background())

	require.Equal(t, []job.Status{job.StatusStarted, job.StatusError, job.StatusFailed}, jobs.statuses(1))
	errEv := jobs.events[1][1]
	assert.Equal(t, "panic: nil map", errEv.Message)
	assert.NotEmpty(t, errEv.ExceptionStackTrace)
	assert.Contains(t, errEv.ExceptionStackTrace[0], "goroutine")
}

func TestTask_MissingJob(t *testing.T) {
	jobs := newFakeJobs()
	called := false
	task := NewTask(&job.TaskRequest{JobID: 9}, jobs, runnerFunc(func(context.Context, *job.Job, *job.TaskRequest) error {
		called = true
		return nil
	}), zerolog.Nop())
	task.Run(context.Background())
	assert.False(t, called)
	assert.Empty(t, jobs.statuses(9))
}

func TestStackTrace_Chain(t *testing.T) {
	assert.Equal(t, []string{"outer"}, stackTrace(errors.New("outer")))
	assert.Equal(t, []string{"bad", "invalid request"}, stackTrace(apperr.New(apperr.ErrInvalid, "bad")))

	chain := stackTrace(wrapErr("ETL failed for job 1", wrapErr("open", errors.New("no such file"))))
	assert.Equal(t, []string{"ETL failed for job 1: open: no such file", "open: no such file", "no such file"}, chain)
}

func wrapErr(msg string, err error) error {
	return &wrapped{msg: msg, err: err}
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

// -- TaskManager --

func TestTaskManager_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan int64, 4)
	var ids []*job.Job
	for i := int64(1); i <= 3; i++ {
		ids = append(ids, &job.Job{ID: i})
	}
	jobs := newFakeJobs(ids...)
	m := NewTaskManager(jobs, runnerFunc(func(_ context.Context, j *job.Job, _ *job.TaskRequest) error {
		started <- j.ID
		<-release
		return nil
	}), 1, 1, zerolog.Nop())
	m.Start()

	require.NoError(t, m.Submit(context.Background(), &job.TaskRequest{JobID: 1}))
	select {
	case id := <-started:
		assert.Equal(t, int64(1), id)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not start")
	}
	assert.True(t, m.IsRunning(1))
	assert.Equal(t, []int64{1}, m.Running())

	require.NoError(t, m.Submit(context.Background(), &job.TaskRequest{JobID: 2}))
	assert.ErrorIs(t, m.Submit(context.Background(), &job.TaskRequest{JobID: 3}), job.ErrQueueFull)

	close(release)
	require.Eventually(t, func() bool {
		return len(jobs.statuses(2)) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, m.IsRunning(1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Error(t, m.Submit(context.Background(), &job.TaskRequest{JobID: 3}))
}

func TestTaskManager_ShutdownCancelsOnTimeout(t *testing.T) {
	jobs := newFakeJobs(&job.Job{ID: 1})
	started := make(chan struct{})
	m := NewTaskManager(jobs, runnerFunc(func(ctx context.Context, _ *job.Job, _ *job.TaskRequest) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), 1, 1, zerolog.Nop())
	m.Start()
	require.NoError(t, m.Submit(context.Background(), &job.TaskRequest{JobID: 1}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, []job.Status{job.StatusStarted, job.StatusError, job.StatusFailed}, jobs.statuses(1))
}

// -- Sweeper --

func TestSweeper_AbandonsStaleJobs(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	jobs := newFakeJobs(
		&job.Job{ID: 1, Created: now.Add(-10 * time.Hour), State: job.StatusStarted},
		&job.Job{ID: 2, Created: now.Add(-10 * time.Hour), State: job.StatusCompleted},
		&job.Job{ID: 3, Created: now.Add(-time.Hour), State: job.StatusStarted},
		&job.Job{ID: 4, Created: now.Add(-10 * time.Hour)},
		&job.Job{ID: 5, Created: now.Add(-10 * time.Hour), State: job.StatusWarning},
	)
	s := NewSweeper(jobs, func(id int64) bool { return id == 5 }, 6*time.Hour, zerolog.Nop())
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []int64{1, 4} {
		require.Len(t, jobs.events[id], 1)
		assert.Equal(t, "Processing abandoned", jobs.events[id][0].Message)
		assert.Equal(t, job.StatusFailed, jobs.events[id][0].Status)
	}
	for _, id := range []int64{2, 3, 5} {
		assert.Empty(t, jobs.events[id])
	}
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	s := NewSweeper(newFakeJobs(), nil, time.Hour, zerolog.Nop())
	assert.Error(t, s.Start("not a schedule"))
	s.Stop()
}

// -- ETL --

type fakeConfigs map[string]*sourceconfig.Configuration

func (f fakeConfigs) Configuration(_ context.Context, id string) (*sourceconfig.Configuration, error) {
	c, ok := f[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "Invalid source configuration "+id)
	}
	return c, nil
}

type fakeDestinations map[string]*export.Spec

func (f fakeDestinations) ExportSpec(_ context.Context, name string) (*export.Spec, error) {
	s, ok := f[name]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "no destination")
	}
	return s, nil
}

func writeWorkbook(t *testing.T, path string, sheets map[string][][]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for sheet, rows := range sheets {
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

func spreadsheet(encounterPatient string) map[string][][]any {
	coded := []any{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID"}
	obs := []any{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID", "RESULT_STR", "UNITS", "FLAG"}
	return map[string][][]any{
		dsb.SheetPatients: {
			{"PATIENT_KEY", "FIRST_NAME", "LAST_NAME", "DOB", "LANGUAGE", "MARITAL_STATUS", "RACE", "GENDER"},
			{"P1", "Ada", "King", "1950-01-01", "EN", "M", "W", "F"},
		},
		dsb.SheetProviders: {{"PROVIDER_KEY", "FIRST_NAME", "LAST_NAME"}, {"D1", "Ann", "Lee"}},
		dsb.SheetEncounters: {
			{"ENCOUNTER_KEY", "PATIENT_KEY", "PROVIDER_KEY", "TS_START", "TS_END", "ENCOUNTER_TYPE", "DISCHARGE_DISP"},
			{"E1", encounterPatient, "D1", "2011-03-01 08:00:00", "2011-03-03 10:00:00", "IP", "HOME"},
		},
		dsb.SheetICD9Diagnoses: {
			{"EVENT_KEY", "ENCOUNTER_KEY", "TS_OBX", "ENTITY_ID", "RANK"},
			{"X1", "E1", "2011-03-01 09:00:00", "250.00", "1"},
		},
		dsb.SheetICD9Procedures: {coded},
		dsb.SheetCPT:            {coded},
		dsb.SheetMedications:    {coded},
		dsb.SheetLabs:           {obs},
		dsb.SheetVitals:         {obs},
	}
}

func newTestETL(t *testing.T, sheets map[string][][]any, dest *export.Spec) (*ETL, *fakeJobs, string) {
	t.Helper()
	dataDir := t.TempDir()
	outDir := t.TempDir()
	writeWorkbook(t, filepath.Join(dataDir, "spreadsheet", "upload.xlsx"), sheets)

	configs := fakeConfigs{"spreadsheet": {
		ID:                      "spreadsheet",
		DataSourceBackends:      map[string]map[string]string{dsb.BackendID: {"databaseName": "etltest"}},
		KnowledgeSourceBackends: map[string]map[string]string{},
	}}
	jobs := newFakeJobs(&job.Job{ID: 7, SourceConfigID: "spreadsheet", DestinationID: dest.Name, Username: "alice"})
	factory := export.NewFactory(nil, outDir, zerolog.Nop())
	e := New(configs, fakeDestinations{dest.Name: dest}, factory, jobs, dataDir, zerolog.Nop())
	return e, jobs, outDir
}

func TestETL_RunWritesTabularFile(t *testing.T) {
	dest := &export.Spec{Name: "diag", Type: export.TypeTabularFile, RequiredPropositionIDs: []string{"ICD9:250.00"}}
	e, jobs, outDir := newTestETL(t, spreadsheet("P1"), dest)

	j, _ := jobs.GetByID(context.Background(), 7)
	err := e.Run(context.Background(), j, &job.TaskRequest{
		JobID:   7,
		Prompts: sourceconfig.Prompts{dsb.BackendID: {"filename": "upload.xlsx"}},
	})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(outDir, "diag.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "P1\tICD9:250.00\t2011-03-01T09:00:00Z"), lines[1])

	var messages []string
	for _, ev := range jobs.events[7] {
		assert.Equal(t, job.StatusStarted, ev.Status)
		messages = append(messages, ev.Message)
	}
	require.NotEmpty(t, messages)
	assert.True(t, strings.HasPrefix(messages[0], string(engine.EventQueryStart)), messages[0])
	assert.True(t, strings.HasPrefix(messages[len(messages)-1], string(engine.EventQueryStop)), messages[len(messages)-1])
}

func TestETL_RunFailsValidation(t *testing.T) {
	dest := &export.Spec{Name: "diag", Type: export.TypeTabularFile, RequiredPropositionIDs: []string{"ICD9:250.00"}}
	e, jobs, _ := newTestETL(t, spreadsheet("NOBODY"), dest)

	j, _ := jobs.GetByID(context.Background(), 7)
	err := e.Run(context.Background(), j, &job.TaskRequest{
		JobID:   7,
		Prompts: sourceconfig.Prompts{dsb.BackendID: {"filename": "upload.xlsx"}},
	})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "ETL failed for job 7"), err.Error())
	var failed *engine.FailedDataValidationError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, jobs.statuses(7), job.StatusError)

	var errorEvents int
	for _, ev := range jobs.events[7] {
		if ev.Status != job.StatusError {
			continue
		}
		errorEvents++
		require.NotEmpty(t, ev.ExceptionStackTrace, "validation failure without a trace: %s", ev.Message)
		assert.Contains(t, ev.ExceptionStackTrace, failed.Error())
	}
	assert.Positive(t, errorEvents)
}

func TestETL_RunQueryPropositionsInUpdateMode(t *testing.T) {
	dest := &export.Spec{
		Name:                        "diag",
		Type:                        export.TypeTabularFile,
		RequiredPropositionIDs:      []string{"ENCOUNTER"},
		AllowingQueryPropositionIDs: true,
	}
	e, jobs, outDir := newTestETL(t, spreadsheet("P1"), dest)
	j, _ := jobs.GetByID(context.Background(), 7)
	req := &job.TaskRequest{
		JobID:                7,
		PropositionIDsToShow: []string{"ICD9:250.00"},
		UpdateData:           true,
		Prompts:              sourceconfig.Prompts{dsb.BackendID: {"filename": "upload.xlsx"}},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, e.Run(context.Background(), j, req))
	}

	b, err := os.ReadFile(filepath.Join(outDir, "diag.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3, "one header and one row per run")
	assert.Equal(t, "key\tproposition\tstart\tfinish\tvalue", lines[0])
	for _, line := range lines[1:] {
		assert.True(t, strings.HasPrefix(line, "P1\tICD9:250.00\t"), line)
	}
}

func TestETL_UnknownSourceConfig(t *testing.T) {
	dest := &export.Spec{Name: "diag", Type: export.TypeTabularFile}
	e, _, _ := newTestETL(t, spreadsheet("P1"), dest)
	err := e.Run(context.Background(), &job.Job{ID: 8, SourceConfigID: "nope"}, &job.TaskRequest{JobID: 8})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestETL_EngineCreationError(t *testing.T) {
	dest := &export.Spec{Name: "diag", Type: export.TypeTabularFile}
	e, jobs, _ := newTestETL(t, spreadsheet("P1"), dest)
	e.configs = fakeConfigs{"spreadsheet": {ID: "spreadsheet", DataSourceBackends: map[string]map[string]string{dsb.BackendID: {}}}}
	j, _ := jobs.GetByID(context.Background(), 7)
	err := e.Run(context.Background(), j, &job.TaskRequest{JobID: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error creating engine for sourceconfig spreadsheet for job 7")
}

func TestETL_Statistics(t *testing.T) {
	dest := &export.Spec{Name: "diag", Type: export.TypeTabularFile}
	e, _, _ := newTestETL(t, spreadsheet("P1"), dest)

	st, err := e.Statistics(context.Background(), "diag", nil)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = e.Statistics(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
