package dashlink

import (
	"github.com/dashlink/dashlink/internal/adapters/opcbus"
	"github.com/dashlink/dashlink/internal/app/config"
)

// Config re-exports the root configuration struct so embedding projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// BusConfig selects and configures the telemetry transport.
	BusConfig = config.BusConfig
	// OPCUAConfig holds session and address-space mapping details.
	OPCUAConfig = opcbus.Config
	// RecorderConfig configures the on-disk value archive.
	RecorderConfig = config.RecorderConfig
	// HistoryConfig configures the SQL history sink.
	HistoryConfig = config.HistoryConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// HousekeepingConfig configures archive retention and the idle
	// memory guard.
	HousekeepingConfig = config.HousekeepingConfig
	// LogConfig configures process log rotation.
	LogConfig = config.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
