package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dashlink/dashlink/internal/adapters/opcbus"
	"github.com/dashlink/dashlink/internal/ports"
)

type Config struct {
	Bus          BusConfig          `yaml:"bus"`
	Policy       ports.Policy       `yaml:"policy"`
	Recorder     RecorderConfig     `yaml:"recorder"`
	History      HistoryConfig      `yaml:"history"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Log          LogConfig          `yaml:"log"`
}

type BusConfig struct {
	// Backend selects the telemetry transport: "memory" keeps values
	// in-process (tests, sims), "opcua" bridges them to a server.
	Backend string        `yaml:"backend"`
	OPCUA   opcbus.Config `yaml:"opcua"`
}

type RecorderConfig struct {
	// Dir receives the framed value archives; empty disables archiving.
	Dir string `yaml:"dir"`
}

type HistoryConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type HousekeepingConfig struct {
	Enabled    bool          `yaml:"enabled"`
	KeepFiles  int           `yaml:"keep_files"`
	Interval   time.Duration `yaml:"interval"`
	IdleChecks int           `yaml:"idle_checks"`
	FreeRatio  float64       `yaml:"free_ratio"`
}

type LogConfig struct {
	// File routes the process log through a rotating file; empty keeps
	// stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Bus.Backend == "" {
		c.Bus.Backend = "memory"
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 5_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "drop_oldest"
	}
	if c.History.Table == "" {
		c.History.Table = "telemetry"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Housekeeping.KeepFiles == 0 {
		c.Housekeeping.KeepFiles = 10
	}
	if c.Housekeeping.Interval == 0 {
		c.Housekeeping.Interval = 30 * time.Second
	}
	if c.Housekeeping.IdleChecks == 0 {
		c.Housekeeping.IdleChecks = 3
	}
	if c.Housekeeping.FreeRatio == 0 {
		c.Housekeeping.FreeRatio = 0.20
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}

	if c.Bus.Backend == "opcua" {
		c.Bus.OPCUA.ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	switch c.Bus.Backend {
	case "memory":
	case "opcua":
		if err := c.Bus.OPCUA.Validate(); err != nil {
			return fmt.Errorf("bus.opcua: %w", err)
		}
	default:
		return fmt.Errorf("bus.backend must be memory or opcua, got %q", c.Bus.Backend)
	}

	switch c.Policy.OnQueueFull {
	case "drop_oldest", "drop_new":
	default:
		return fmt.Errorf("policy.on_queue_full must be drop_oldest or drop_new, got %q", c.Policy.OnQueueFull)
	}

	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}
