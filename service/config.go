// Package service hosts the serve-mode HTTP surfaces: a report API with
// healthz and badge routes, plus an optional Prometheus metrics server.
package service

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ReportsHost = "0.0.0.0"
	ReportsPort = 8000

	MetricsHost = "0.0.0.0"
	MetricsPort = 7300

	defaultReadTimeout = 10 * time.Second
)

type TOMLDuration time.Duration

func (t *TOMLDuration) UnmarshalText(b []byte) error {
	d, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}

	*t = TOMLDuration(d)
	return nil
}

type ReportsConfig struct {
	Host        string       `toml:"host"`
	Port        int          `toml:"port"`
	ReportFile  string       `toml:"report_file"`
	BadgeDir    string       `toml:"badge_dir"`
	ReadTimeout TOMLDuration `toml:"read_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type Config struct {
	Reports ReportsConfig `toml:"reports"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ReadConfig loads and validates a serve config file, filling defaults for
// anything the file leaves unset.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := new(Config)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Reports.Host == "" {
		c.Reports.Host = ReportsHost
	}
	if c.Reports.Port == 0 {
		c.Reports.Port = ReportsPort
	}
	if c.Reports.ReadTimeout == 0 {
		c.Reports.ReadTimeout = TOMLDuration(defaultReadTimeout)
	}
	if c.Metrics.Host == "" {
		c.Metrics.Host = MetricsHost
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = MetricsPort
	}
}

func (c *Config) Validate() error {
	if c.Reports.ReportFile == "" {
		return fmt.Errorf("reports.report_file is required")
	}
	if c.Reports.BadgeDir == "" {
		return fmt.Errorf("reports.badge_dir is required")
	}
	return nil
}
