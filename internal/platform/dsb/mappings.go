package dsb

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
)

//go:embed mappings/*.txt
var mappingFiles embed.FS

// Mappings translates source values found in the data to target values:
// proposition ids for code columns, nominal values for properties.
type Mappings struct {
	Name    string
	targets map[string]string
	sources map[string][]string
}

// ParseMappings reads tab-delimited "source<TAB>target" lines. Blank lines
// and lines starting with # are skipped.
func ParseMappings(name string, content string) (*Mappings, error) {
	m := &Mappings{Name: name, targets: make(map[string]string), sources: make(map[string][]string)}
	sc := bufio.NewScanner(strings.NewReader(content))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.SplitN(text, "\t", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("mappings %s line %d: expected source<TAB>target", name, line)
		}
		src, tgt := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		m.targets[src] = tgt
		m.sources[tgt] = append(m.sources[tgt], src)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mappings %s: %w", name, err)
	}
	return m, nil
}

func (m *Mappings) Target(source string) (string, bool) {
	t, ok := m.targets[source]
	return t, ok
}

// Sources returns every source value mapped to target.
func (m *Mappings) Sources(target string) []string {
	return m.sources[target]
}

// Targets returns the distinct targets, sorted.
func (m *Mappings) Targets() []string {
	out := make([]string, 0, len(m.sources))
	for t := range m.sources {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MappingsFactory loads and caches named mapping files.
type MappingsFactory struct {
	fsys  fs.FS
	dir   string
	mu    sync.Mutex
	cache map[string]*Mappings
}

// NewMappingsFactory reads mapping files from dir inside fsys.
func NewMappingsFactory(fsys fs.FS, dir string) *MappingsFactory {
	return &MappingsFactory{fsys: fsys, dir: dir, cache: make(map[string]*Mappings)}
}

// DefaultMappingsFactory serves the embedded mapping files.
func DefaultMappingsFactory() *MappingsFactory {
	return NewMappingsFactory(mappingFiles, "mappings")
}

func (f *MappingsFactory) Get(name string) (*Mappings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.cache[name]; ok {
		return m, nil
	}
	data, err := fs.ReadFile(f.fsys, f.dir+"/"+name)
	if err != nil {
		return nil, fmt.Errorf("read mappings %s: %w", name, err)
	}
	m, err := ParseMappings(name, string(data))
	if err != nil {
		return nil, err
	}
	f.cache[name] = m
	return m, nil
}
