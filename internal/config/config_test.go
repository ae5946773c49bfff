package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Host.Adapter)
	assert.Equal(t, 10, cfg.Retention.DurationWindow)
	assert.Equal(t, ":7331", cfg.Serve.ListenAddr)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskrelay.yaml")
	contents := "host:\n  adapter: process\nretention:\n  starred_cap: 50\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "process", cfg.Host.Adapter)
	assert.Equal(t, 50, cfg.Retention.StarredCap)
	// Defaults not overridden by the file still apply.
	assert.Equal(t, 10, cfg.Retention.DurationWindow)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TASKRELAY_HOST_ADAPTER", "process")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "process", cfg.Host.Adapter)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
