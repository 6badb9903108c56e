package registry

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DirectKey identifies the built-in in-process engine when it runs as an
// adapter.
const DirectKey = "crosscheck/builtin"

// Duration parses YAML durations written in Go syntax ("30s", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Adapter describes one implementation under test and how to reach it.
// Exactly one of Image, Command, or Direct must be set: Image names a
// container to run, Command an argv to spawn locally, and Direct the
// built-in engine.
type Adapter struct {
	Image   string    `yaml:"image,omitempty"`
	Command []string  `yaml:"command,omitempty"`
	Direct  bool      `yaml:"direct,omitempty"`
	Timeout *Duration `yaml:"timeout,omitempty"`
}

// Key returns the identity under which the adapter's results aggregate.
// Containerized adapters use their image name, command adapters their
// argv, and the built-in engine DirectKey.
func (a Adapter) Key() string {
	switch {
	case a.Image != "":
		return a.Image
	case len(a.Command) > 0:
		return strings.Join(a.Command, " ")
	case a.Direct:
		return DirectKey
	}
	return ""
}

// TimeoutOr returns the adapter's timeout override, or fallback when the
// config did not set one.
func (a Adapter) TimeoutOr(fallback time.Duration) time.Duration {
	if a.Timeout != nil {
		return time.Duration(*a.Timeout)
	}
	return fallback
}

// ParseAdapter turns a command-line adapter spec into an Adapter. The
// literal "direct" selects the built-in engine; anything else names a
// container image.
func ParseAdapter(spec string) Adapter {
	if spec == "direct" {
		return Adapter{Direct: true}
	}
	return Adapter{Image: spec}
}

func (a Adapter) validate() error {
	var set int
	if a.Image != "" {
		set++
	}
	if len(a.Command) > 0 {
		set++
	}
	if a.Direct {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of image, command, or direct must be set")
	}
	return nil
}

// Registry manages the adapters configured for a run.
type Registry struct {
	config   Config
	adapters []Adapter
	mu       sync.RWMutex
}

// Config contains registry configuration.
type Config struct {
	Log               *slog.Logger
	AdapterConfigFile string
}

// NewRegistry loads and validates the adapter config file.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.AdapterConfigFile == "" {
		return nil, fmt.Errorf("adapter config file is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	r := &Registry{config: cfg}
	if err := r.loadAdapters(cfg.AdapterConfigFile); err != nil {
		return nil, fmt.Errorf("failed to load adapters: %w", err)
	}

	cfg.Log.Debug("registry loaded", "adapters", len(r.adapters))
	return r, nil
}

// FromAdapters builds a registry from an explicit adapter list, applying
// the same validation as a config file.
func FromAdapters(log *slog.Logger, adapters []Adapter) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{config: Config{Log: log}}
	if err := r.setAdapters(adapters); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadAdapters(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return r.setAdapters(cfg.Adapters)
}

func (r *Registry) setAdapters(adapters []Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(adapters) == 0 {
		return fmt.Errorf("config declares no adapters")
	}

	seen := make(map[string]bool, len(adapters))
	for i, adapter := range adapters {
		if err := adapter.validate(); err != nil {
			return fmt.Errorf("adapter %d: %w", i+1, err)
		}
		key := adapter.Key()
		if seen[key] {
			return fmt.Errorf("duplicate adapter %q", key)
		}
		seen[key] = true
	}

	r.adapters = adapters
	return nil
}

// Adapters returns all configured adapters.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters
}

// Keys returns the aggregation key of every configured adapter, in config
// order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, len(r.adapters))
	for i, adapter := range r.adapters {
		keys[i] = adapter.Key()
	}
	return keys
}

// GetConfig returns the registry configuration.
func (r *Registry) GetConfig() Config {
	return r.config
}

type adapterConfig struct {
	Adapters []Adapter `yaml:"adapters"`
}

// loadConfig loads an adapter config from a file.
func loadConfig(path string) (*adapterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg adapterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}
