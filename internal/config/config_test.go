package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BUTLERD_HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, home, cfg.DataDir)
	assert.True(t, cfg.Dashboard.Enabled)
	assert.Equal(t, 7777, cfg.Dashboard.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, 300*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, 5*time.Second, cfg.Sessions.FlushCheck)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Log.File)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("BUTLERD_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "butlerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dashboard:
  port: 9000
watcher:
  debounce: 250ms
log:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Dashboard.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 300*time.Second, cfg.Snapshot.Interval)
}

func TestLoad_FileInDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BUTLERD_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "butlerd.toml"), []byte("[snapshot]\ninterval = \"10m\"\n"), 0644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Snapshot.Interval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("BUTLERD_HOME", t.TempDir())
	t.Setenv("BUTLERD_DASHBOARD_PORT", "8123")
	t.Setenv("BUTLERD_LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "butlerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dashboard:\n  port: 9000\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Dashboard.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("BUTLERD_HOME", t.TempDir())
	t.Setenv("BUTLERD_WATCHER_DEBOUNCE", "0s")

	_, err := Load("")
	assert.ErrorContains(t, err, "watcher.debounce")
}

func TestLoggingOptions(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "debug", File: "/tmp/butlerd.log", MaxSizeMB: 10}}

	opts := cfg.LoggingOptions()
	assert.Equal(t, "debug", opts.Level)
	assert.Equal(t, "/tmp/butlerd.log", opts.File)
	assert.Equal(t, 10, opts.MaxSizeMB)
}
