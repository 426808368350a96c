package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9981", cfg.App.HTTPAddr)
	assert.Equal(t, "data/db/tradeflow.db", cfg.Store.Path)
	assert.Equal(t, 24*time.Hour, cfg.Store.RunTTL())
	assert.True(t, cfg.Execution.TwoPhase)
	assert.Equal(t, 5*time.Minute, cfg.Execution.NotificationLockTTL())
	assert.Equal(t, 10*time.Minute, cfg.Execution.RunTimeout())
	assert.Equal(t, 30*time.Minute, cfg.Aggregation.SessionTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Monitor.ScanInterval())
	assert.Equal(t, 30*time.Minute, cfg.Monitor.RunAge())
	assert.Equal(t, "paper", cfg.Broker.Mode)
	assert.False(t, cfg.Notify.Telegram.Enabled)
}

func TestLoadExplicitValuesSurviveDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":8080"
store:
  path: /tmp/coord.db
  run_ttl_hours: 48
execution:
  two_phase: false
  notification_lock_seconds: 60
monitor:
  interval: 1m
  run_max_age: 2h
broker:
  mode: paper
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "/tmp/coord.db", cfg.Store.Path)
	assert.Equal(t, 48*time.Hour, cfg.Store.RunTTL())
	// An explicit false must not be overwritten by the two-phase default.
	assert.False(t, cfg.Execution.TwoPhase)
	assert.Equal(t, time.Minute, cfg.Execution.NotificationLockTTL())
	assert.Equal(t, time.Minute, cfg.Monitor.ScanInterval())
	assert.Equal(t, 2*time.Hour, cfg.Monitor.RunAge())
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: verbose
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadRejectsUnknownBrokerMode(t *testing.T) {
	path := writeConfig(t, `
broker:
  mode: live
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsTelegramWithoutCredentials(t *testing.T) {
	path := writeConfig(t, `
notify:
  telegram:
    enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml"))

	t.Setenv(EnvConfigPath, "/etc/tradeflow/config.yaml")
	assert.Equal(t, "/etc/tradeflow/config.yaml", ResolvePath(""))

	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "configs/config.yaml", ResolvePath(""))
}
