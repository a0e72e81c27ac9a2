package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/searchmeter/internal/keybinds"
	"github.com/studiowebux/searchmeter/internal/logging"
	"github.com/studiowebux/searchmeter/internal/pacing"
	"github.com/studiowebux/searchmeter/internal/solr"
	"github.com/studiowebux/searchmeter/internal/source"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
	"github.com/studiowebux/searchmeter/internal/types"
)

var validate = validator.New()

// File is the on-disk configuration of a stress test
type File struct {
	Name string `yaml:"name" json:"name"`

	Solr     solr.Config      `yaml:"solr" json:"solr"`
	Query    QueryExecutor    `yaml:"query" json:"query"`
	Update   UpdateExecutor   `yaml:"update" json:"update"`
	Optimize OptimizeExecutor `yaml:"optimize" json:"optimize"`

	DrainTimeout time.Duration             `yaml:"drain_timeout" json:"drain_timeout" validate:"gte=0"`
	Classify     stresstest.ClassifyPolicy `yaml:"classify" json:"classify"`

	// Statistics replaces the default statistic set when non-empty
	Statistics []statistics.Descriptor `yaml:"statistics" json:"statistics" validate:"-"`
	PluginsDir string                  `yaml:"plugins_dir" json:"plugins_dir"`

	Logging  logging.Config `yaml:"logging" json:"logging"`
	Monitor  Monitor        `yaml:"monitor" json:"monitor"`
	Database Database       `yaml:"database" json:"database"`

	// path is the file this configuration was loaded from, empty for defaults
	path string
}

// QueryExecutor configures the query executor and its query log
type QueryExecutor struct {
	stresstest.ExecutorConfig `yaml:",inline" validate:"-"`
	// QueryFile is a query log, one query per line
	QueryFile string `yaml:"query_file" json:"query_file"`
	// Queries are inline query lines, used when no file is given
	Queries []string     `yaml:"queries" json:"queries"`
	Order   source.Order `yaml:"order" json:"order" validate:"omitempty,oneof=sequential random"`
	Repeat  bool         `yaml:"repeat" json:"repeat"`
}

// UpdateExecutor configures the update executor and its documents
type UpdateExecutor struct {
	stresstest.ExecutorConfig `yaml:",inline" validate:"-"`
	// DocumentFile holds JSON-lines documents
	DocumentFile string     `yaml:"document_file" json:"document_file"`
	Synthetic    *Synthetic `yaml:"synthetic" json:"synthetic"`
	BatchSize    int        `yaml:"batch_size" json:"batch_size" validate:"gte=0"`
	Repeat       bool       `yaml:"repeat" json:"repeat"`
}

// Synthetic configures generated update documents
type Synthetic struct {
	Fields     []source.FieldSpec `yaml:"fields" json:"fields" validate:"dive"`
	Vocabulary []string           `yaml:"vocabulary" json:"vocabulary"`
}

// OptimizeExecutor configures the optimize executor
type OptimizeExecutor struct {
	stresstest.ExecutorConfig `yaml:",inline" validate:"-"`
	Action                    string `yaml:"action" json:"action" validate:"omitempty,oneof=optimize commit"`
}

// Monitor configures the HTTP monitor and the dashboard refresh
type Monitor struct {
	Listen          string        `yaml:"listen" json:"listen" validate:"omitempty,hostname_port"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" validate:"gte=0"`
	// ControlRate limits start/stop/restart requests per second and client, 0 disables it
	ControlRate float64 `yaml:"control_rate" json:"control_rate" validate:"gte=0"`
	// Keys rebinds dashboard actions, e.g. {start: [enter]}
	Keys map[string][]string `yaml:"keys" json:"keys"`
}

// Database configures run persistence
type Database struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns the configuration used when no file is given
func Default() *File {
	return &File{
		Name: "searchmeter",
		Solr: solr.Config{
			BaseURL:   "http://localhost:8983/solr/collection1",
			Timeout:   solr.DefaultRequestTimeout,
			QTimePath: solr.DefaultQTimePath,
			HitsPath:  solr.DefaultHitsPath,
		},
		Query: QueryExecutor{
			ExecutorConfig: stresstest.ExecutorConfig{
				Enabled: true,
				Workers: 1,
				Pacing:  pacing.Config{Mode: pacing.ModeFixed, Delay: time.Second},
			},
			Queries: []string{"*:*"},
			Order:   source.Sequential,
			Repeat:  true,
		},
		Update: UpdateExecutor{
			ExecutorConfig: stresstest.ExecutorConfig{
				Enabled: false,
				Workers: 1,
				Pacing:  pacing.Config{Mode: pacing.ModeFixed, Delay: time.Second},
			},
			BatchSize: 10,
			Repeat:    true,
		},
		Optimize: OptimizeExecutor{
			ExecutorConfig: stresstest.ExecutorConfig{
				Enabled: false,
				Workers: 1,
				Pacing:  pacing.Config{Mode: pacing.ModeFixed, Delay: time.Minute},
			},
			Action: types.ActionOptimize,
		},
		DrainTimeout: stresstest.DefaultDrainTimeout,
		Classify:     stresstest.DefaultClassifyPolicy(),
		PluginsDir:   DefaultPluginsDir,
		Logging:      logging.Default(),
		Monitor: Monitor{
			Listen:          "127.0.0.1:8765",
			RefreshInterval: time.Second,
			ControlRate:     5,
		},
		Database: Database{Enabled: true},
	}
}

// Load reads a configuration file on top of the defaults, applies SEARCHMETER_* environment
// overrides (a .env file in the working directory is honored) and validates the result.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*File, error) {
	// Attempt to load .env file but proceed if not found
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := Parse(path, data, cfg); err != nil {
			return nil, err
		}
		cfg.path = path
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data into cfg. JSON and JSON-with-comments are accepted for .json and .jsonc
// files, YAML otherwise. Fields absent from data keep their current value.
func Parse(name string, data []byte, cfg *File) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc":
		// JSON is valid YAML, so durations like "1s" decode the same way in both formats
		data = jsonc.ToJSON(data)
		if !json.Valid(data) {
			return fmt.Errorf("failed to parse %s: invalid JSON", name)
		}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// Validate checks the whole configuration
func (f *File) Validate() error {
	var errs []error
	if err := validate.Struct(f); err != nil {
		errs = append(errs, err)
	}
	for kind, ec := range f.executorConfigs() {
		if err := ec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	if f.Query.Enabled && f.Query.QueryFile == "" && len(f.Query.Queries) == 0 {
		errs = append(errs, errors.New("query: query_file or queries is required"))
	}
	if f.Update.Enabled && f.Update.DocumentFile == "" && f.Update.Synthetic == nil {
		errs = append(errs, errors.New("update: document_file or synthetic is required"))
	}
	if _, err := f.KeyBindings(); err != nil {
		errs = append(errs, fmt.Errorf("monitor.keys: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// KeyBindings returns the dashboard bindings with the configured overrides applied
func (f *File) KeyBindings() (*keybinds.Registry, error) {
	r := keybinds.Defaults()
	if len(f.Monitor.Keys) == 0 {
		return r, nil
	}
	if err := r.Apply(f.Monitor.Keys); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the file the configuration was loaded from
func (f *File) Path() string {
	return f.path
}

// ResolvedPluginsDir returns the plugin directory relative to the configuration file
func (f *File) ResolvedPluginsDir() string {
	return ResolveRelative(f.path, f.PluginsDir)
}

// TotalWorkers sums the workers of the enabled executors
func (f *File) TotalWorkers() int {
	total := 0
	for _, ec := range f.executorConfigs() {
		if ec.Enabled {
			total += ec.Workers
		}
	}
	return total
}

func (f *File) executorConfigs() map[types.Kind]stresstest.ExecutorConfig {
	return map[types.Kind]stresstest.ExecutorConfig{
		types.KindQuery:    f.Query.ExecutorConfig,
		types.KindUpdate:   f.Update.ExecutorConfig,
		types.KindOptimize: f.Optimize.ExecutorConfig,
	}
}
