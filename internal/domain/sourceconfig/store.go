package sourceconfig

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store serves the source configuration files of one directory. Files that
// fail to parse or validate are logged and left out.
type Store struct {
	dir      string
	registry *Registry
	logger   zerolog.Logger

	mu      sync.RWMutex
	configs map[string]*SourceConfig
}

func NewStore(dir string, registry *Registry, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		dir:      dir,
		registry: registry,
		logger:   logger.With().Str("component", "sourceconfig").Logger(),
		configs:  make(map[string]*SourceConfig),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func isConfigFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Parse reads one configuration file. The id defaults to the file name.
func Parse(path string) (*SourceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc SourceConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sc.ID == "" {
		sc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &sc, nil
}

// Reload rereads the directory. A missing directory yields no configurations.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read source configuration directory: %w", err)
	}
	configs := make(map[string]*SourceConfig)
	for _, e := range entries {
		if e.IsDir() || !isConfigFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		sc, err := Parse(path)
		if err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("skipping source configuration")
			continue
		}
		if err := s.registry.Validate(sc); err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("skipping source configuration")
			continue
		}
		if _, dup := configs[sc.ID]; dup {
			s.logger.Error().Str("id", sc.ID).Str("file", path).Msg("duplicate source configuration id")
			continue
		}
		configs[sc.ID] = sc
	}

	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
	s.logger.Info().Int("count", len(configs)).Str("dir", s.dir).Msg("source configurations loaded")
	return nil
}

// Watch reloads the store whenever a configuration file in its directory
// changes, until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !isConfigFile(event.Name) {
					continue
				}
				s.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("source configuration changed")
				if err := s.Reload(); err != nil {
					s.logger.Error().Err(err).Msg("reload source configurations")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Error().Err(err).Msg("source configuration watcher")
			}
		}
	}()
	return nil
}

// List returns the configurations visible to username, sorted by id.
func (s *Store) List(_ context.Context, username string) ([]*SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SourceConfig, 0, len(s.configs))
	for _, sc := range s.configs {
		if sc.VisibleTo(username) {
			out = append(out, s.registry.Describe(sc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Get(_ context.Context, username, id string) (*SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.configs[id]
	if !ok || !sc.VisibleTo(username) {
		return nil, notFound(id)
	}
	return s.registry.Describe(sc), nil
}

// Configuration returns the option values of configuration id.
func (s *Store) Configuration(_ context.Context, id string) (*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.configs[id]
	if !ok {
		return nil, notFound(id)
	}
	return configuration(sc), nil
}

// ToConfiguration converts prompts using the store's registry.
func (s *Store) ToConfiguration(prompts *SourceConfig) (Prompts, error) {
	return s.registry.ToConfiguration(prompts)
}
