package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eureka/eureka/internal/platform/engine"
)

var tabularHeader = []string{"key", "proposition", "start", "finish", "value"}

// tabularDestination writes one TSV row per proposition. In REPLACE mode
// the file is rebuilt under a temporary name and renamed on Finish; in
// UPDATE mode rows are appended.
type tabularDestination struct {
	dir        string
	spec       *Spec
	updateData bool

	file    *os.File
	tmpPath string
	w       *csv.Writer
}

func newTabular(dir string, spec *Spec, updateData bool) *tabularDestination {
	return &tabularDestination{dir: dir, spec: spec, updateData: updateData}
}

// Path is where the destination's file lives.
func (d *tabularDestination) Path() string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(d.spec.Name)
	return filepath.Join(d.dir, name+".tsv")
}

func (d *tabularDestination) SupportedPropositionIDs(_ context.Context) ([]string, error) {
	return d.spec.RequiredPropositionIDs, nil
}

func (d *tabularDestination) Start(_ context.Context, q *engine.Query, _ map[string][]string) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	path := d.Path()
	writeHeader := true
	d.tmpPath = ""
	var err error
	if q.Mode == engine.ModeUpdate || d.updateData {
		if info, statErr := os.Stat(path); statErr == nil && info.Size() > 0 {
			writeHeader = false
		}
		d.file, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	} else {
		d.tmpPath = fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
		d.file, err = os.Create(d.tmpPath)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	d.w = csv.NewWriter(d.file)
	d.w.Comma = '\t'
	if writeHeader {
		if err := d.w.Write(tabularHeader); err != nil {
			d.discard()
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (d *tabularDestination) Write(_ context.Context, keyID string, props []*engine.Proposition) error {
	for _, p := range props {
		if err := d.w.Write([]string{keyID, p.ID, formatTime(p.Start), formatTime(p.Finish), p.Value}); err != nil {
			return err
		}
	}
	return nil
}

func (d *tabularDestination) Finish(_ context.Context) error {
	d.w.Flush()
	if err := d.w.Error(); err != nil {
		d.discard()
		return fmt.Errorf("write %s: %w", d.Path(), err)
	}
	if err := d.file.Close(); err != nil {
		d.removeTmp()
		return fmt.Errorf("close %s: %w", d.Path(), err)
	}
	if d.tmpPath != "" {
		if err := os.Rename(d.tmpPath, d.Path()); err != nil {
			d.removeTmp()
			return fmt.Errorf("replace %s: %w", d.Path(), err)
		}
		d.tmpPath = ""
	}
	return nil
}

// Abort drops a REPLACE run's temporary file and leaves the previous
// output in place. Rows already appended in UPDATE mode are kept.
func (d *tabularDestination) Abort(_ context.Context, _ error) {
	if d.file == nil {
		return
	}
	if d.tmpPath == "" {
		d.w.Flush()
	}
	d.discard()
}

func (d *tabularDestination) discard() {
	d.file.Close()
	d.removeTmp()
}

func (d *tabularDestination) removeTmp() {
	if d.tmpPath != "" {
		os.Remove(d.tmpPath)
		d.tmpPath = ""
	}
}
