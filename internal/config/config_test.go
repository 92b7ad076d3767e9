package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 8390, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Alarm.PollIntervalSeconds)
	assert.Equal(t, 30, cfg.Alarm.RepeatIntervalSeconds)
	assert.Equal(t, 5, cfg.Alarm.DefaultSnoozeMinutes)
	assert.True(t, cfg.Channels.Audio.Enabled)
	assert.False(t, cfg.Channels.Pushover.Enabled)
	assert.Equal(t, "07:30", cfg.Jobs.SummaryTime)
	assert.Equal(t, filepath.Join(dir, "pilltick.db"), cfg.Storage.SQLitePath)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pilltick.yaml")

	content := []byte("server:\n  port: 9999\nalarm:\n  repeat_interval_seconds: 15\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Alarm.RepeatIntervalSeconds)
	// Untouched keys keep defaults
	assert.Equal(t, 60, cfg.Alarm.PollIntervalSeconds)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("PILLTICK_SERVER_PORT", "7001")
	t.Setenv("PILLTICK_AUTH_JWT_SECRET", "sekrit")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "sekrit", cfg.Auth.JWTSecret)
}

func TestLoad_Validation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pilltick.yaml")

	content := []byte("channels:\n  pushover:\n    enabled: true\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	_, err := Load(path, dir)
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pilltick.yaml")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	require.NoError(t, WriteDefault(path, cfg))

	loaded, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Port, loaded.Server.Port)

	// Second write must not clobber an existing file
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1234\n"), 0644))
	require.NoError(t, WriteDefault(path, cfg))
	loaded, err = Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.Server.Port)
}
