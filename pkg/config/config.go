package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/dfsio/parfs/pkg/dfs"
)

// Config represents the complete parfs configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PARFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Engine Configuration Pattern:
// The Engine.Type field selects the storage engine implementation, and only
// the matching type-specific section is decoded (see factories.go). Each
// engine defines its own option set.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Session identifies the shared namespace to establish
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Transfer tunes the chunked transfer engine
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Engine selects the storage engine and its type-specific options
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Bench configures the local benchmark harness
	Bench BenchConfig `mapstructure:"bench" yaml:"bench"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// SessionConfig identifies the shared namespace.
type SessionConfig struct {
	// Pool is the storage pool identifier
	Pool string `mapstructure:"pool" yaml:"pool" validate:"required"`

	// ServiceLocator addresses the pool's service replicas
	ServiceLocator string `mapstructure:"service_locator" yaml:"service_locator" validate:"required"`

	// Group is the server process group name (optional)
	Group string `mapstructure:"group" yaml:"group"`

	// Container is the container identifier within the pool
	Container string `mapstructure:"container" yaml:"container" validate:"required"`

	// Destroy requests container destruction at teardown
	Destroy bool `mapstructure:"destroy" yaml:"destroy"`
}

// TransferConfig tunes the chunked transfer engine.
type TransferConfig struct {
	// MaxRetries bounds short-transfer retries; 0 selects the default
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`

	// SingleAttempt makes any short transfer fatal instead of retried
	SingleAttempt bool `mapstructure:"single_attempt" yaml:"single_attempt"`
}

// EngineConfig selects the storage engine implementation.
//
// Only the section matching Type is used.
type EngineConfig struct {
	// Type specifies which engine implementation to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger s3"`

	// Badger contains BadgerDB-specific options
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 contains S3-specific options
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// BenchConfig configures the local benchmark harness.
type BenchConfig struct {
	// Workers is the size of the in-process collective group
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gt=0"`

	// File is the benchmark target path within the namespace
	File string `mapstructure:"file" yaml:"file" validate:"required"`

	// BlockSize is the per-worker transfer size in bytes
	BlockSize int `mapstructure:"block_size" yaml:"block_size" validate:"gt=0"`

	// PerProcessFile gives each worker its own target file
	PerProcessFile bool `mapstructure:"per_process_file" yaml:"per_process_file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the address the /metrics endpoint binds to
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// DFSConfig converts the loaded configuration into the session layer's
// config type.
func (c *Config) DFSConfig() dfs.Config {
	return dfs.Config{
		Pool:           c.Session.Pool,
		ServiceLocator: c.Session.ServiceLocator,
		Group:          c.Session.Group,
		Container:      c.Session.Container,
		Destroy:        c.Session.Destroy,
		MaxRetries:     c.Transfer.MaxRetries,
		SingleAttempt:  c.Transfer.SingleAttempt,
	}
}

// Load reads configuration from the given file path (optional), the
// PARFS_* environment, and defaults, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PARFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// An explicitly named config file must be readable; without one we run
	// on env and defaults alone.
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
