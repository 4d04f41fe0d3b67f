package sourceconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/dsb"
	"github.com/eureka/eureka/internal/platform/ksb"
)

type Kind string

const (
	KindDataSource      Kind = "dataSourceBackend"
	KindKnowledgeSource Kind = "knowledgeSourceBackend"
	KindAlgorithmSource Kind = "algorithmSourceBackend"
	KindTermSource      Kind = "termSourceBackend"
)

type PropertySpec struct {
	Name        string
	DisplayName string
	Description string
	Required    bool
}

// Registry lists the backends this server can build, per kind.
type Registry struct {
	specs map[Kind]map[string][]PropertySpec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[Kind]map[string][]PropertySpec)}
}

func (r *Registry) Register(kind Kind, id string, props []PropertySpec) {
	if r.specs[kind] == nil {
		r.specs[kind] = make(map[string][]PropertySpec)
	}
	r.specs[kind][id] = props
}

// DefaultRegistry knows the spreadsheet data source backend and the YAML
// knowledge source backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	var dsProps []PropertySpec
	for _, p := range dsb.Properties() {
		dsProps = append(dsProps, PropertySpec{Name: p.Name, DisplayName: p.DisplayName, Description: p.Description, Required: p.Required})
	}
	r.Register(KindDataSource, dsb.BackendID, dsProps)
	var ksProps []PropertySpec
	for _, p := range ksb.Properties() {
		ksProps = append(ksProps, PropertySpec{Name: p.Name, DisplayName: p.DisplayName, Description: p.Description, Required: p.Required})
	}
	r.Register(KindKnowledgeSource, ksb.BackendID, ksProps)
	return r
}

func (r *Registry) lookup(kind Kind, id string) ([]PropertySpec, bool) {
	props, ok := r.specs[kind][id]
	return props, ok
}

func (sc *SourceConfig) sections() map[Kind][]Section {
	return map[Kind][]Section{
		KindDataSource:      sc.DataSourceBackends,
		KindKnowledgeSource: sc.KnowledgeSourceBackends,
		KindAlgorithmSource: sc.AlgorithmSourceBackends,
		KindTermSource:      sc.TermSourceBackends,
	}
}

// Validate checks every section id of sc against the registry.
func (r *Registry) Validate(sc *SourceConfig) error {
	var invalid []string
	for _, kind := range []Kind{KindDataSource, KindKnowledgeSource, KindAlgorithmSource, KindTermSource} {
		for _, s := range sc.sections()[kind] {
			if _, ok := r.lookup(kind, s.ID); !ok {
				invalid = append(invalid, s.ID)
			}
		}
	}
	switch len(invalid) {
	case 0:
		return nil
	case 1:
		return apperr.Newf(apperr.ErrInvalid, "Invalid section id '%s' in source configuration '%s'", invalid[0], sc.ID)
	default:
		return apperr.Newf(apperr.ErrInvalid, "Invalid section ids %s in source configuration '%s'", quotedList(invalid), sc.ID)
	}
}

// quotedList renders 'a', 'b' and 'c'.
func quotedList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	if len(quoted) == 1 {
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " and " + quoted[len(quoted)-1]
}

// Describe fills in option metadata from the registry and lists every
// known property, including ones the file leaves unset.
func (r *Registry) Describe(sc *SourceConfig) *SourceConfig {
	out := *sc
	describe := func(kind Kind, sections []Section) []Section {
		res := make([]Section, 0, len(sections))
		for _, s := range sections {
			props, _ := r.lookup(kind, s.ID)
			values := s.options()
			ds := Section{ID: s.ID, DisplayName: s.DisplayName}
			seen := make(map[string]bool)
			for _, p := range props {
				seen[p.Name] = true
				ds.Options = append(ds.Options, Option{
					Name: p.Name, Value: values[p.Name],
					DisplayName: p.DisplayName, Description: p.Description, Required: p.Required,
				})
			}
			var extra []string
			for name := range values {
				if !seen[name] {
					extra = append(extra, name)
				}
			}
			sort.Strings(extra)
			for _, name := range extra {
				ds.Options = append(ds.Options, Option{Name: name, Value: values[name]})
			}
			res = append(res, ds)
		}
		return res
	}
	out.DataSourceBackends = describe(KindDataSource, sc.DataSourceBackends)
	out.KnowledgeSourceBackends = describe(KindKnowledgeSource, sc.KnowledgeSourceBackends)
	return &out
}

// ToConfiguration converts the data source sections of a prompt source
// configuration into Prompts. Empty values are ignored.
func (r *Registry) ToConfiguration(prompts *SourceConfig) (Prompts, error) {
	out := make(Prompts)
	if prompts == nil {
		return out, nil
	}
	for _, s := range prompts.DataSourceBackends {
		props, ok := r.lookup(KindDataSource, s.ID)
		if !ok {
			return nil, apperr.Newf(apperr.ErrInvalid, "Invalid section id '%s'", s.ID)
		}
		known := make(map[string]bool, len(props))
		for _, p := range props {
			known[p.Name] = true
		}
		for _, o := range s.Options {
			if !known[o.Name] {
				return nil, apperr.Newf(apperr.ErrInvalid, "Invalid property '%s' in section '%s'", o.Name, s.ID)
			}
			if o.Value == "" {
				continue
			}
			if out[s.ID] == nil {
				out[s.ID] = make(map[string]string)
			}
			out[s.ID][o.Name] = o.Value
		}
	}
	return out, nil
}

// configuration flattens a validated source configuration.
func configuration(sc *SourceConfig) *Configuration {
	c := &Configuration{
		ID:                      sc.ID,
		DataSourceBackends:      make(map[string]map[string]string),
		KnowledgeSourceBackends: make(map[string]map[string]string),
	}
	for _, s := range sc.DataSourceBackends {
		c.DataSourceBackends[s.ID] = s.options()
	}
	for _, s := range sc.KnowledgeSourceBackends {
		c.KnowledgeSourceBackends[s.ID] = s.options()
	}
	return c
}

func notFound(id string) error {
	return apperr.New(apperr.ErrNotFound, fmt.Sprintf("Invalid source configuration %s", id))
}
