package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "parfs.yaml")

	require.NoError(t, Init(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "#", "generated config should carry a comment header")

	var cfg Config
	require.NoError(t, yaml.Unmarshal(content, &cfg))
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Engine.Type)
	assert.Equal(t, 1, cfg.Bench.Workers)
}

func TestInitRefusesToClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parfs.yaml")
	require.NoError(t, Init(path))

	err := Init(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestDumpRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Session.Pool = "pool0"

	out, err := Dump(cfg)
	require.NoError(t, err)

	var got Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "pool0", got.Session.Pool)
	assert.Equal(t, cfg.Transfer.MaxRetries, got.Transfer.MaxRetries)
}
