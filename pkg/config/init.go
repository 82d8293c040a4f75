package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFileHeader = `# parfs configuration
#
# Values here can be overridden with PARFS_* environment variables
# (e.g. PARFS_SESSION_POOL) and CLI flags.

`

// Default returns a configuration populated with every default value.
func Default() *Config {
	cfg := &Config{}
	cfg.Engine.Type = "memory"
	cfg.Bench.Workers = 1
	cfg.Bench.File = "/bench/testfile"
	cfg.Bench.BlockSize = 1 << 20
	ApplyDefaults(cfg)
	return cfg
}

// Dump renders a configuration as YAML.
func Dump(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

// Init writes a default configuration file to path, creating parent
// directories as needed. Fails if the file already exists, so an existing
// configuration is never clobbered.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %q already exists", path)
	}

	body, err := Dump(Default())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configFileHeader+body), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
