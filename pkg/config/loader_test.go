package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestInitialize_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.Realtime.IdleTimeout)
	assert.Equal(t, 64, cfg.Realtime.SendQueueSize)
	assert.Equal(t, 200, cfg.Replay.MaxEvents)
	assert.Equal(t, 5*time.Minute, cfg.Replay.MaxAge)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.StallTimeout)
}

func TestInitialize_UserValuesOverrideDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9100
  allowed_ws_origins:
    - https://dashboard.example.com
realtime:
  ping_interval: 10s
  idle_timeout: 25s
replay:
  max_events: 500
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://dashboard.example.com"}, cfg.Server.AllowedWSOrigins)
	assert.Equal(t, 10*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 25*time.Second, cfg.Realtime.IdleTimeout)
	assert.Equal(t, 500, cfg.Replay.MaxEvents)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Realtime.WriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Replay.MaxAge)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("SYNCHUB_TEST_ORIGIN", "https://ehr.example.com")
	dir := writeConfig(t, `
server:
  allowed_ws_origins:
    - "{{.SYNCHUB_TEST_ORIGIN}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ehr.example.com"}, cfg.Server.AllowedWSOrigins)
}

func TestInitialize_InvalidDuration(t *testing.T) {
	dir := writeConfig(t, `
replay:
  max_age: "five minutes"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "server: [not: a: mapping")

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestValidate_IdleTimeoutMustExceedPingInterval(t *testing.T) {
	dir := writeConfig(t, `
realtime:
  ping_interval: 30s
  idle_timeout: 20s
`)

	_, err := Initialize(context.Background(), dir)
	require.ErrorIs(t, err, ErrValidationFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "idle_timeout", verr.Field)
}

func TestValidate_PortRange(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 70000
`)

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestExpandEnv_LeavesPlainYAMLUntouched(t *testing.T) {
	in := []byte("server:\n  host: 127.0.0.1\n")
	assert.Equal(t, in, ExpandEnv(in))
}

func TestExpandEnv_MissingVariableExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte(`host: "{{.SYNCHUB_DOES_NOT_EXIST}}"`))
	assert.Equal(t, `host: ""`, string(out))
}
