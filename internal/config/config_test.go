package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
postgres:
  host: localhost
  database: recon
  user: recon
  password: secret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "fund-reconciliation-processor", cfg.Service.Name)
	assert.Equal(t, 8088, cfg.Service.AdminPort)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, 300, cfg.Queue.LockDurationSeconds)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, 10, cfg.Worker.RatePerSecond)
	assert.Equal(t, 500, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 90, cfg.Pipeline.MatchWindowDays)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
service:
  admin_port: 9090
worker:
  concurrency: 2
pipeline:
  chunk_size: 100
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Service.AdminPort)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 100, cfg.Pipeline.ChunkSize)
}

func TestPostgresConnectionString(t *testing.T) {
	path := writeConfig(t, `
postgres:
  host: db.internal
  port: 5433
  database: recon
  user: app
  password: pw
  sslmode: require
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t,
		"host=db.internal port=5433 user=app password=pw dbname=recon sslmode=require",
		cfg.GetPostgresConnectionString())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}
