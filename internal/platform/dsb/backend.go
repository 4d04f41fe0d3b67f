// Package dsb is the spreadsheet data source backend. Uploaded workbooks
// are loaded into an in-memory sqlite database whose EUREKA schema mirrors
// the sheets; propositions are read back through SQL generated from entity
// specs.
package dsb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/platform/engine"
)

//go:embed eureka-dsb-schema.sql
var schemaSQL string

// BackendID is the section id of this backend in source configurations.
const BackendID = "EurekaDataSourceBackend"

// Options configure a Backend. Property names match source configuration
// option keys.
type Options struct {
	// Name identifies the backend in error messages.
	Name           string
	DatabaseName   string
	Filename       string
	SampleURL      string
	DataDir        string
	SourceConfigID string
	RootFullNames  RootFullNames
	Mappings       *MappingsFactory
	Logger         zerolog.Logger
}

// Property describes one configurable option of the backend.
type Property struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Properties lists the options a source configuration may set.
func Properties() []Property {
	return []Property{
		{Name: "databaseName"},
		{Name: "sampleUrl", DisplayName: "Download Sample",
			Description: "Use this sample spreadsheet to guide you in creating a spreadsheet containing your own data."},
		{Name: "filename", DisplayName: "Excel Spreadsheet",
			Description: "An Excel spreadsheet as described in the provided sample (see Download Sample).", Required: true},
		{Name: "labsRootFullName"},
		{Name: "vitalsRootFullName"},
		{Name: "diagnosisCodesRootFullName"},
		{Name: "medicationOrdersRootFullName"},
		{Name: "icd9ProcedureCodesRootFullName"},
		{Name: "cptProcedureCodesRootFullName"},
	}
}

// ParseOptions applies source configuration properties to a default
// Options. Unknown property names are rejected.
func ParseOptions(name string, props map[string]string) (Options, error) {
	opts := Options{Name: name, RootFullNames: DefaultRootFullNames()}
	for k, v := range props {
		switch k {
		case "databaseName":
			opts.DatabaseName = v
		case "filename":
			if err := CheckFilename(v); err != nil {
				return opts, fmt.Errorf("data source backend %s: %w", name, err)
			}
			opts.Filename = v
		case "sampleUrl":
			opts.SampleURL = v
		case "labsRootFullName":
			opts.RootFullNames.Labs = rootOrDefault(v)
		case "vitalsRootFullName":
			opts.RootFullNames.Vitals = rootOrDefault(v)
		case "diagnosisCodesRootFullName":
			opts.RootFullNames.DiagnosisCodes = rootOrDefault(v)
		case "medicationOrdersRootFullName":
			opts.RootFullNames.MedicationOrders = rootOrDefault(v)
		case "icd9ProcedureCodesRootFullName":
			opts.RootFullNames.ICD9ProcedureCodes = rootOrDefault(v)
		case "cptProcedureCodesRootFullName":
			opts.RootFullNames.CPTProcedureCodes = rootOrDefault(v)
		default:
			return opts, fmt.Errorf("unknown property %q for data source backend %s", k, name)
		}
	}
	return opts, nil
}

// ErrNonLocalFilename rejects upload names that would leave the data
// directory.
var ErrNonLocalFilename = errors.New("filename must be a relative path inside the data directory")

// CheckFilename accepts names relative to a source configuration's upload
// directory. Absolute paths and names reaching outside it via ".." are
// rejected.
func CheckFilename(name string) error {
	if name == "" || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q", ErrNonLocalFilename, name)
	}
	return nil
}

// Backend is an engine.DataSource over uploaded spreadsheets.
type Backend struct {
	opts      Options
	db        *sql.DB
	providers []DataProvider
	specs     []*EntitySpec
	codes     map[string]*Mappings
	logger    zerolog.Logger

	populateMu sync.Mutex
	populated  bool
}

// Open creates the backend's database and opens every uploaded spreadsheet.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.DatabaseName == "" {
		return nil, fmt.Errorf("No database name specified for data source backend '%s'", opts.Name)
	}
	if opts.Mappings == nil {
		opts.Mappings = DefaultMappingsFactory()
	}
	specs, err := EntitySpecs(opts.Mappings, opts.RootFullNames)
	if err != nil {
		return nil, fmt.Errorf("Error initializing data source backend %s: %w", opts.Name, err)
	}
	codes, err := codeMappings(opts.Mappings)
	if err != nil {
		return nil, fmt.Errorf("Error initializing data source backend %s: %w", opts.Name, err)
	}

	db, err := openDatabase(ctx, opts.DatabaseName)
	if err != nil {
		return nil, fmt.Errorf("Unable to create data schema (data source backend '%s'): %w", opts.Name, err)
	}

	b := &Backend{
		opts:   opts,
		db:     db,
		specs:  specs,
		codes:  codes,
		logger: opts.Logger.With().Str("component", "dsb").Str("backend", opts.Name).Logger(),
	}

	files, err := b.uploadedFiles()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Error initializing data source backend %s: %w", opts.Name, err)
	}
	for _, f := range files {
		b.logger.Info().Str("file", f).Msg("reading spreadsheet")
		p, err := OpenXlsx(f)
		if err != nil {
			failed := strings.TrimSuffix(f, filepath.Ext(f)) + ".failed"
			if rerr := os.Rename(f, failed); rerr != nil {
				b.logger.Warn().Err(rerr).Str("file", f).Msg("could not mark spreadsheet as failed")
			}
			for _, opened := range b.providers {
				opened.Close()
			}
			db.Close()
			return nil, fmt.Errorf("Error initializing data source backend %s: %w", opts.Name, err)
		}
		b.providers = append(b.providers, p)
	}
	return b, nil
}

func openDatabase(ctx context.Context, name string) (*sql.DB, error) {
	id := uuid.NewString()
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", name, id))
	if err != nil {
		return nil, err
	}
	// ATTACH is per connection; one connection keeps the schema visible.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE 'file:%s-eureka-%s?mode=memory&cache=shared' AS %s", name, id, SchemaName)); err != nil {
		db.Close()
		return nil, fmt.Errorf("attach schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("run schema script: %w", err)
	}
	return db, nil
}

// uploadedFiles resolves <dataDir>/<sourceConfigID>/<filename>. A directory
// yields every workbook inside it.
func (b *Backend) uploadedFiles() ([]string, error) {
	if b.opts.Filename == "" {
		return nil, nil
	}
	if err := CheckFilename(b.opts.Filename); err != nil {
		return nil, err
	}
	if b.opts.SourceConfigID != "" && !filepath.IsLocal(b.opts.SourceConfigID) {
		return nil, fmt.Errorf("%w: source configuration %q", ErrNonLocalFilename, b.opts.SourceConfigID)
	}
	path := filepath.Join(b.opts.DataDir, b.opts.SourceConfigID, b.opts.Filename)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	files, err := filepath.Glob(filepath.Join(path, "*.xlsx"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func codeMappings(mf *MappingsFactory) (map[string]*Mappings, error) {
	files := map[string]string{
		SheetCPT:            "cpt_procedure_08172011.txt",
		SheetICD9Diagnoses:  "icd9_diagnosis_08172011.txt",
		SheetICD9Procedures: "icd9_procedure_08172011.txt",
		SheetMedications:    "meds_08182011.txt",
		SheetLabs:           "labs_08172011.txt",
		SheetVitals:         "vitals_result_types_08172011.txt",
	}
	out := make(map[string]*Mappings, len(files))
	for sheet, f := range files {
		m, err := mf.Get(f)
		if err != nil {
			return nil, err
		}
		out[sheet] = m
	}
	return out, nil
}

func (b *Backend) KeyType() string { return KeyType }

func (b *Backend) KeyTypeDisplayName() string { return KeyTypeDisplayName }

// PropositionIDs lists every proposition id the backend can produce.
func (b *Backend) PropositionIDs() []string {
	var out []string
	for _, s := range b.specs {
		out = append(out, s.PropositionIDs...)
	}
	return out
}

// ValidateData validates every spreadsheet.
func (b *Backend) ValidateData(ctx context.Context) ([]engine.DataValidationEvent, error) {
	var events []engine.DataValidationEvent
	failed := false
	for _, p := range b.providers {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		v := NewDataValidator(p.URI(), b.codes)
		if err := v.Validate(p); err != nil {
			return events, &engine.FailedDataValidationError{Events: events, Err: err}
		}
		events = append(events, v.Events()...)
		if v.Failed() {
			failed = true
		}
	}
	if failed {
		return events, &engine.FailedDataValidationError{
			Events: events,
			Err:    fmt.Errorf("Invalid spreadsheet %s in data source backend %s", b.opts.Filename, b.opts.Name),
		}
	}
	return events, nil
}

func (b *Backend) populate(ctx context.Context) error {
	b.populateMu.Lock()
	defer b.populateMu.Unlock()
	if b.populated {
		return nil
	}
	ins := NewDataInserter(b.db)
	for _, p := range b.providers {
		start := time.Now()
		if err := ins.InsertAll(ctx, p); err != nil {
			return fmt.Errorf("Error reading spreadsheets in %s in data source backend %s: %w", b.opts.Filename, b.opts.Name, err)
		}
		b.logger.Debug().Str("file", p.Name()).Dur("elapsed", time.Since(start)).Msg("spreadsheet loaded")
	}
	b.populated = true
	return nil
}

// ReadPropositions loads the spreadsheets on first use, then reads the
// requested propositions grouped by patient key.
func (b *Backend) ReadPropositions(ctx context.Context, keyIDs []string, propIDs []string) (map[string][]*engine.Proposition, error) {
	if err := b.populate(ctx); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(propIDs))
	for _, id := range propIDs {
		wanted[id] = true
	}
	out := make(map[string][]*engine.Proposition)
	for _, spec := range b.specs {
		var requested []string
		for _, id := range spec.PropositionIDs {
			if wanted[id] {
				requested = append(requested, id)
			}
		}
		if len(requested) == 0 {
			continue
		}
		var codes []string
		if spec.CodeSpec != nil {
			codes = []string{}
			for _, id := range requested {
				codes = append(codes, spec.CodeSpec.Mappings.Sources(id)...)
			}
			if len(codes) == 0 {
				continue
			}
		}
		props, err := b.readEntity(ctx, spec, codes, keyIDs)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", spec.Name, err)
		}
		for _, p := range props {
			out[p.KeyID] = append(out[p.KeyID], p)
		}
	}
	return out, nil
}

func uniqueID(entity string, parts []string) string {
	return entity + "^" + strings.Join(parts, ",")
}

func (b *Backend) readEntity(ctx context.Context, spec *EntitySpec, codes, keyIDs []string) ([]*engine.Proposition, error) {
	q, err := buildEntityQuery(spec, codes, keyIDs)
	if err != nil {
		return nil, err
	}
	props, err := b.scanEntity(ctx, spec, q)
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, nil
	}

	byUID := make(map[string][]*engine.Proposition, len(props))
	for _, p := range props {
		byUID[p.UniqueID] = append(byUID[p.UniqueID], p)
	}
	for _, ref := range spec.References {
		if ref.Type == ReferenceOne && len(ref.Columns) == 1 && ref.Columns[0].Join == nil {
			continue
		}
		if err := b.readReferences(ctx, spec, ref, keyIDs, byUID); err != nil {
			return nil, err
		}
	}
	return props, nil
}

// scanEntity runs q and releases the connection before returning, so the
// reference queries that follow can use it.
func (b *Backend) scanEntity(ctx context.Context, spec *EntitySpec, q *entityQuery) ([]*engine.Proposition, error) {
	rows, err := b.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []*engine.Proposition
	for rows.Next() {
		vals := make([]sql.NullString, q.width())
		dest := make([]any, len(vals))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		p, ok, err := b.toProposition(spec, q, vals)
		if err != nil {
			return nil, err
		}
		if ok {
			props = append(props, p)
		}
	}
	return props, rows.Err()
}

func (b *Backend) toProposition(spec *EntitySpec, q *entityQuery, vals []sql.NullString) (*engine.Proposition, bool, error) {
	i := 0
	next := func() sql.NullString {
		v := vals[i]
		i++
		return v
	}
	p := &engine.Proposition{KeyID: next().String}
	parts := make([]string, q.NumUnique)
	for j := range parts {
		parts[j] = next().String
	}
	p.UniqueID = uniqueID(spec.Name, parts)

	parse := func(v sql.NullString) (*time.Time, error) {
		if !v.Valid || v.String == "" {
			return nil, nil
		}
		t, err := time.ParseInLocation(timestampLayout, v.String, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", spec.Name, p.UniqueID, err)
		}
		if spec.Granularity != "" {
			t = spec.Granularity.Truncate(t)
		}
		return &t, nil
	}
	var err error
	if q.HasStart {
		if p.Start, err = parse(next()); err != nil {
			return nil, false, err
		}
	}
	if q.HasFinish {
		if p.Finish, err = parse(next()); err != nil {
			return nil, false, err
		}
	}
	if q.HasCode {
		code := next()
		target, ok := spec.CodeSpec.Mappings.Target(code.String)
		if !ok {
			if spec.CodeSpec.DropUnmapped {
				return nil, false, nil
			}
			target = code.String
		}
		p.ID = target
	} else {
		p.ID = spec.PropositionIDs[0]
	}
	if q.HasValue {
		p.Value = next().String
	}
	for _, ps := range q.Properties {
		v := next()
		if !v.Valid {
			continue
		}
		val := v.String
		if m := ps.Column.Last().Mappings; m != nil {
			t, ok := m.Target(val)
			if !ok && ps.Column.Last().DropUnmapped {
				continue
			}
			if ok {
				val = t
			}
		}
		if p.Properties == nil {
			p.Properties = make(map[string]string)
		}
		p.Properties[ps.Name] = val
	}
	for _, r := range q.OneRefs {
		v := next()
		if !v.Valid || v.String == "" {
			continue
		}
		if p.References == nil {
			p.References = make(map[string][]string)
		}
		p.References[r.Name] = append(p.References[r.Name], uniqueID(r.EntityName, []string{v.String}))
	}
	return p, true, nil
}

func (b *Backend) readReferences(ctx context.Context, spec *EntitySpec, ref *ReferenceSpec, keyIDs []string, byUID map[string][]*engine.Proposition) error {
	q, err := buildReferenceQuery(spec, ref, keyIDs)
	if err != nil {
		return err
	}
	rows, err := b.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return fmt.Errorf("reference %s: %w", ref.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		vals := make([]sql.NullString, q.NumUnique+1)
		dest := make([]any, len(vals))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		target := vals[q.NumUnique]
		if !target.Valid {
			continue
		}
		parts := make([]string, q.NumUnique)
		for i := range parts {
			parts[i] = vals[i].String
		}
		for _, p := range byUID[uniqueID(spec.Name, parts)] {
			if p.References == nil {
				p.References = make(map[string][]string)
			}
			p.References[ref.Name] = append(p.References[ref.Name], uniqueID(ref.EntityName, []string{target.String}))
		}
	}
	return rows.Err()
}

// Close drops the database and closes every spreadsheet. The first failure
// is reported.
func (b *Backend) Close() error {
	var first error
	if err := b.dropAll(context.Background()); err != nil {
		first = fmt.Errorf("Error in data source backend %s: could not drop the database: %w", b.opts.Name, err)
	}
	for _, p := range b.providers {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("Error in data source backend %s: could not close Excel spreadsheet %s: %w", b.opts.Name, p.Name(), err)
		}
	}
	return first
}

func (b *Backend) dropAll(ctx context.Context) error {
	defer b.db.Close()
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%%'", SchemaName))
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	var errs []error
	for _, t := range tables {
		if _, err := b.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s."%s"`, SchemaName, t)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
