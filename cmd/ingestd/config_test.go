package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingDatabaseURLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingestd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o600))
	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_ReadsFromExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingestd.yaml")
	contents := "database_url: \"postgres://localhost/ingest\"\nlisten_addr: \":9090\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/ingest", cfg.DatabaseURL)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestLoadConfig_DefaultsMetricsNamespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingestd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: \"postgres://localhost/ingest\"\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ingest", cfg.MetricsNamespace)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestConnectorInstanceConfig_ScheduleOrDefault(t *testing.T) {
	assert.Equal(t, "*/5 * * * *", ConnectorInstanceConfig{}.scheduleOrDefault())
	assert.Equal(t, "0 * * * *", ConnectorInstanceConfig{Schedule: "0 * * * *"}.scheduleOrDefault())
}
