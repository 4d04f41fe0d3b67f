package sourceconfig

// Option is one backend property. Value comes from the configuration file;
// the descriptive fields come from the backend's property list.
type Option struct {
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value,omitempty" yaml:"value"`
	DisplayName string `json:"displayName,omitempty" yaml:"-"`
	Description string `json:"description,omitempty" yaml:"-"`
	Required    bool   `json:"required,omitempty" yaml:"-"`
}

type Section struct {
	ID          string   `json:"id" yaml:"id"`
	DisplayName string   `json:"displayName,omitempty" yaml:"displayName"`
	Options     []Option `json:"options" yaml:"options"`
}

func (s Section) options() map[string]string {
	out := make(map[string]string, len(s.Options))
	for _, o := range s.Options {
		out[o.Name] = o.Value
	}
	return out
}

// SourceConfig names the backends an ETL job runs against.
type SourceConfig struct {
	ID                      string    `json:"id" yaml:"id"`
	DisplayName             string    `json:"displayName,omitempty" yaml:"displayName"`
	OwnerUsername           string    `json:"ownerUsername,omitempty" yaml:"ownerUsername"`
	Read                    bool      `json:"read" yaml:"read"`
	Write                   bool      `json:"write" yaml:"write"`
	Execute                 bool      `json:"execute" yaml:"execute"`
	DataSourceBackends      []Section `json:"dataSourceBackends" yaml:"dataSourceBackends"`
	KnowledgeSourceBackends []Section `json:"knowledgeSourceBackends,omitempty" yaml:"knowledgeSourceBackends"`
	AlgorithmSourceBackends []Section `json:"algorithmSourceBackends,omitempty" yaml:"algorithmSourceBackends"`
	TermSourceBackends      []Section `json:"termSourceBackends,omitempty" yaml:"termSourceBackends"`
}

// VisibleTo reports whether username may see the configuration. Unowned
// configurations are shared.
func (sc *SourceConfig) VisibleTo(username string) bool {
	return sc.OwnerUsername == "" || sc.OwnerUsername == username
}

// Prompts are per-job option overrides keyed by data source section id.
type Prompts map[string]map[string]string

// Configuration is a loaded source configuration in the form the ETL uses:
// option values keyed by section id.
type Configuration struct {
	ID                      string
	DataSourceBackends      map[string]map[string]string
	KnowledgeSourceBackends map[string]map[string]string
}

// Merge overlays prompts onto the data source sections and returns the
// result. c is left unchanged.
func (c *Configuration) Merge(prompts Prompts) *Configuration {
	out := &Configuration{
		ID:                      c.ID,
		DataSourceBackends:      make(map[string]map[string]string, len(c.DataSourceBackends)),
		KnowledgeSourceBackends: c.KnowledgeSourceBackends,
	}
	for id, opts := range c.DataSourceBackends {
		merged := make(map[string]string, len(opts))
		for k, v := range opts {
			merged[k] = v
		}
		for k, v := range prompts[id] {
			merged[k] = v
		}
		out.DataSourceBackends[id] = merged
	}
	return out
}
