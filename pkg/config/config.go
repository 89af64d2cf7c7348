// Package config provides the configuration model for Rowbot hosts.
//
// The configuration is organized into sections:
//   - Pipeline: block defaults (batch size, workers, queue capacity, fault threshold)
//   - Runner: scheduling limits and default cluster/tag filters
//   - Logging: zap logger settings
//   - Metrics: Prometheus endpoint
//   - Tracing: OpenTelemetry exporter
//   - Connections: named destinations and sources
//
// Example usage:
//
//	cfg, err := config.Load("rowbot.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	db := cfg.Connections["warehouse"]
package config

import (
	"fmt"

	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// Supported connection drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
	DriverKafka    = "kafka"
)

// Config is the root configuration of a Rowbot host.
type Config struct {
	// Name identifies the host in logs and traces
	Name string `mapstructure:"name" yaml:"name"`

	Pipeline    PipelineConfig              `mapstructure:"pipeline" yaml:"pipeline"`
	Runner      RunnerConfig                `mapstructure:"runner" yaml:"runner"`
	Logging     logger.Config               `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig               `mapstructure:"metrics" yaml:"metrics"`
	Tracing     TracingConfig               `mapstructure:"tracing" yaml:"tracing"`
	Connections map[string]ConnectionConfig `mapstructure:"connections" yaml:"connections"`
}

// PipelineConfig holds the defaults applied to every block unless a block
// overrides them.
type PipelineConfig struct {
	// BatchSize is the number of rows per extracted page
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// WorkerCount is the number of workers per block
	WorkerCount int `mapstructure:"worker_count" yaml:"worker_count"`
	// ChannelBoundedCapacity is the capacity of the queue between blocks
	ChannelBoundedCapacity int `mapstructure:"channel_bounded_capacity" yaml:"channel_bounded_capacity"`
	// MaxExceptions is the number of failures a worker tolerates before stopping
	MaxExceptions int `mapstructure:"max_exceptions" yaml:"max_exceptions"`
}

// RunnerConfig controls the cluster scheduler.
type RunnerConfig struct {
	// MaxParallelism caps concurrent pipelines per wave (0 = unlimited)
	MaxParallelism int      `mapstructure:"max_parallelism" yaml:"max_parallelism"`
	Clusters       []string `mapstructure:"clusters" yaml:"clusters"`
	Tags           []string `mapstructure:"tags" yaml:"tags"`
	// Schedule is a cron expression used by the schedule command
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
	Path          string `mapstructure:"path" yaml:"path"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	// Exporter selects the span exporter: stdout or none
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
}

// ConnectionConfig describes one named source or destination.
type ConnectionConfig struct {
	Driver   string            `mapstructure:"driver" yaml:"driver"`
	DSN      string            `mapstructure:"dsn" yaml:"dsn"`
	Database string            `mapstructure:"database" yaml:"database,omitempty"`
	Options  map[string]string `mapstructure:"options" yaml:"options,omitempty"`
}

// NewDefaultConfig returns a configuration with the engine defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Name: "rowbot",
		Pipeline: PipelineConfig{
			BatchSize:              1000,
			WorkerCount:            1,
			ChannelBoundedCapacity: 1,
			MaxExceptions:          3,
		},
		Runner: RunnerConfig{
			MaxParallelism: 0,
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "rowbot",
			SampleRate:  1.0,
			Exporter:    "stdout",
		},
		Connections: make(map[string]ConnectionConfig),
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive")
	}
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("pipeline.worker_count must be positive")
	}
	if c.Pipeline.ChannelBoundedCapacity <= 0 {
		return fmt.Errorf("pipeline.channel_bounded_capacity must be positive")
	}
	if c.Pipeline.MaxExceptions < 0 {
		return fmt.Errorf("pipeline.max_exceptions cannot be negative")
	}
	if c.Runner.MaxParallelism < 0 {
		return fmt.Errorf("runner.max_parallelism cannot be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	for name, conn := range c.Connections {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("connections.%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks that the driver is known and a DSN is present where one is
// needed.
func (c ConnectionConfig) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite, DriverMySQL, DriverPostgres, DriverMongoDB, DriverKafka:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for driver %s", c.Driver)
		}
		return nil
	case "":
		return fmt.Errorf("driver is required")
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
}

// Connection returns the named connection or an error naming it.
func (c *Config) Connection(name string) (ConnectionConfig, error) {
	conn, ok := c.Connections[name]
	if !ok {
		return ConnectionConfig{}, fmt.Errorf("connection %q is not configured", name)
	}
	return conn, nil
}
