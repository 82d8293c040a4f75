package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/dfsio/parfs/pkg/dfs"
)

// setDefaults registers default values with viper so they survive partial
// config files and env-only runs.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")

	v.SetDefault("session.pool", "")
	v.SetDefault("session.service_locator", "")
	v.SetDefault("session.group", "")
	v.SetDefault("session.container", "")
	v.SetDefault("session.destroy", false)

	v.SetDefault("transfer.max_retries", dfs.DefaultMaxRetries)
	v.SetDefault("transfer.single_attempt", false)

	v.SetDefault("engine.type", "memory")

	v.SetDefault("bench.workers", 1)
	v.SetDefault("bench.file", "/bench/testfile")
	v.SetDefault("bench.block_size", 1<<20)
	v.SetDefault("bench.per_process_file", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
}

// ApplyDefaults normalizes a decoded configuration in place.
func ApplyDefaults(cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Transfer.MaxRetries == 0 {
		cfg.Transfer.MaxRetries = dfs.DefaultMaxRetries
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}
