package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eureka/eureka/internal/platform/engine"
)

type fakeStore struct {
	cleared   []string
	hierarchy map[string][]string
	rows      []Row
}

func (f *fakeStore) Clear(_ context.Context, dest string) error {
	f.cleared = append(f.cleared, dest)
	f.rows = nil
	return nil
}

func (f *fakeStore) SaveHierarchy(_ context.Context, _ string, h map[string][]string) error {
	f.hierarchy = h
	return nil
}

func (f *fakeStore) Insert(_ context.Context, _ string, rows []Row) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeStore) Statistics(_ context.Context, _ string, _ []string) (*engine.Statistics, error) {
	keys := make(map[string]bool)
	counts := make(map[string]int)
	for _, r := range f.rows {
		keys[r.KeyID] = true
		counts[r.PropositionID]++
	}
	return &engine.Statistics{NumberOfKeys: len(keys), Counts: counts, ChildrenToParents: f.hierarchy}, nil
}

// andMatcher requires every literal.
type andMatcher []string

func (m andMatcher) Evaluate(present map[string]bool) bool {
	for _, l := range m {
		if !present[l] {
			return false
		}
	}
	return true
}

func (m andMatcher) Literals() []string { return m }

func prop(id string, day int) *engine.Proposition {
	t := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
	return &engine.Proposition{ID: id, Start: &t, Finish: &t}
}

func newFactory(t *testing.T, store ResultStore) *Factory {
	t.Helper()
	return NewFactory(store, t.TempDir(), zerolog.Nop())
}

func run(t *testing.T, dest engine.Destination, q *engine.Query, data map[string][]*engine.Proposition, keys ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, dest.Start(ctx, q, map[string][]string{"ICD9:250.00": {"ICD9:Diagnoses"}}))
	for _, k := range keys {
		require.NoError(t, dest.Write(ctx, k, data[k]))
	}
	require.NoError(t, dest.Finish(ctx))
}

func TestCohortDestination_StoresMatchingKeys(t *testing.T) {
	store := &fakeStore{}
	spec := &Spec{Name: "diabetics", Type: TypeCohort, Cohort: andMatcher{"ICD9:250.00", "LAB:HbA1c"}}
	dest, err := newFactory(t, store).GetInstance(spec, false)
	require.NoError(t, err)

	ids, err := dest.SupportedPropositionIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ICD9:250.00", "LAB:HbA1c"}, ids)

	data := map[string][]*engine.Proposition{
		"P1": {prop("ICD9:250.00", 1), prop("LAB:HbA1c", 2), prop("Encounter", 1)},
		"P2": {prop("ICD9:250.00", 3)},
	}
	run(t, dest, engine.NewQueryBuilder().Name("42").Build(), data, "P1", "P2")

	assert.Equal(t, []string{"diabetics"}, store.cleared)
	require.Len(t, store.rows, 2)
	for _, r := range store.rows {
		assert.Equal(t, "P1", r.KeyID)
		require.NotNil(t, r.JobID)
		assert.Equal(t, int64(42), *r.JobID)
	}

	stats, err := dest.(engine.StatisticsSource).Statistics(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NumberOfKeys)
	assert.Equal(t, []string{"ICD9:Diagnoses"}, stats.ChildrenToParents["ICD9:250.00"])
}

func TestCohortDestination_RequiresCohort(t *testing.T) {
	_, err := newFactory(t, &fakeStore{}).GetInstance(&Spec{Name: "c", Type: TypeCohort}, false)
	assert.Error(t, err)
}

func TestI2B2Destination_StoresEverything(t *testing.T) {
	store := &fakeStore{}
	dest, err := newFactory(t, store).GetInstance(&Spec{Name: "i2b2", Type: TypeI2B2}, false)
	require.NoError(t, err)

	data := map[string][]*engine.Proposition{
		"P1": {prop("A", 1), prop("B", 2)},
		"P2": {prop("A", 3)},
	}
	run(t, dest, engine.NewQueryBuilder().Build(), data, "P1", "P2")
	assert.Len(t, store.rows, 3)
	assert.Nil(t, store.rows[0].JobID)
}

func TestStoringDestination_UpdateKeepsRows(t *testing.T) {
	store := &fakeStore{rows: []Row{{KeyID: "old", PropositionID: "A"}}}
	dest, err := newFactory(t, store).GetInstance(&Spec{Name: "i2b2", Type: TypeI2B2}, true)
	require.NoError(t, err)

	run(t, dest, engine.NewQueryBuilder().Build(), map[string][]*engine.Proposition{"P1": {prop("A", 1)}}, "P1")
	assert.Empty(t, store.cleared)
	assert.Len(t, store.rows, 2)
}

func TestPatientSetExtractor_OneRowPerKey(t *testing.T) {
	store := &fakeStore{}
	spec := &Spec{Name: "set", Type: TypePatientSetExtractor, AliasPropositionID: "MySet", RequiredPropositionIDs: []string{"A"}}
	dest, err := newFactory(t, store).GetInstance(spec, false)
	require.NoError(t, err)

	data := map[string][]*engine.Proposition{"P1": {prop("A", 1), prop("A", 2)}, "P2": nil}
	run(t, dest, engine.NewQueryBuilder().Build(), data, "P1", "P2")
	require.Len(t, store.rows, 1)
	assert.Equal(t, Row{KeyID: "P1", PropositionID: "MySet"}, store.rows[0])
}

func TestPatientSetExtractor_RequiresAlias(t *testing.T) {
	_, err := newFactory(t, &fakeStore{}).GetInstance(&Spec{Name: "s", Type: TypePatientSetExtractor}, false)
	assert.Error(t, err)
}

func TestUnsupportedDestinations(t *testing.T) {
	f := newFactory(t, &fakeStore{})
	for _, typ := range []Type{TypePatientSetSender, TypeNeo4j, Type("OTHER")} {
		_, err := f.GetInstance(&Spec{Name: "x", Type: typ}, false)
		assert.True(t, errors.Is(err, ErrUnsupportedDestination), "type %s", typ)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestTabularDestination_ReplaceThenUpdate(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(&fakeStore{}, dir, zerolog.Nop())
	spec := &Spec{Name: "labs", Type: TypeTabularFile, RequiredPropositionIDs: []string{"LAB:HbA1c"}}
	data := map[string][]*engine.Proposition{"P1": {{ID: "LAB:HbA1c", Value: "7.1"}}}

	dest, err := f.GetInstance(spec, false)
	require.NoError(t, err)
	run(t, dest, engine.NewQueryBuilder().Build(), data, "P1")
	run(t, dest, engine.NewQueryBuilder().Build(), data, "P1")

	path := filepath.Join(dir, "labs.tsv")
	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "key\tproposition\tstart\tfinish\tvalue", lines[0])
	assert.Equal(t, "P1\tLAB:HbA1c\t\t\t7.1", lines[1])

	dest, err = f.GetInstance(spec, true)
	require.NoError(t, err)
	run(t, dest, engine.NewQueryBuilder().Build(), data, "P1")
	assert.Len(t, readLines(t, path), 3)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestTabularDestination_AbortKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(&fakeStore{}, dir, zerolog.Nop())
	spec := &Spec{Name: "labs", Type: TypeTabularFile}
	data := map[string][]*engine.Proposition{"P1": {{ID: "LAB:HbA1c", Value: "7.1"}}}

	dest, err := f.GetInstance(spec, false)
	require.NoError(t, err)
	run(t, dest, engine.NewQueryBuilder().Build(), data, "P1")

	ctx := context.Background()
	require.NoError(t, dest.Start(ctx, engine.NewQueryBuilder().Build(), nil))
	require.NoError(t, dest.Write(ctx, "P2", data["P1"]))
	aborter, ok := dest.(engine.Aborter)
	require.True(t, ok)
	aborter.Abort(ctx, errors.New("cancelled"))

	lines := readLines(t, filepath.Join(dir, "labs.tsv"))
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "P1\t"), lines[1])
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestTabularDestination_SanitizesName(t *testing.T) {
	d := newTabular("/out", &Spec{Name: "../etc/x"}, false)
	assert.Equal(t, filepath.Join("/out", "__etc_x.tsv"), d.Path())
}
