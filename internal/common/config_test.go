package common

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/research-ingest/constants"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(NewViper())

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, constants.DefaultMaxFileSize, cfg.Policy.MaxFileSize)
	assert.Equal(t, constants.DefaultMaxBatchSize, cfg.Policy.MaxBatchSize)
	assert.ElementsMatch(t, constants.DefaultAllowedMimeTypes, cfg.Policy.AllowedMimeTypes)
	assert.Zero(t, cfg.Policy.MaxInFlight)
	assert.Equal(t, 10*time.Minute, cfg.Watchdog.ProcessingDeadline)
	assert.True(t, cfg.Watchdog.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/research")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("INGEST_POLICY_MAX_IN_FLIGHT", "4")
	t.Setenv("INGEST_LOG_LEVEL", "debug")

	cfg := LoadConfig(NewViper())
	assert.Equal(t, "postgres://localhost/research", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Policy.MaxInFlight)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.ValidateServer())
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  dsn: ./research.db
policy:
  max_batch_size: 5
watchdog:
  processing_deadline: 2m
`), 0o600))

	v := NewViper()
	require.NoError(t, ReadConfigFile(v, path))
	cfg := LoadConfig(v)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Policy.MaxBatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Watchdog.ProcessingDeadline)

	assert.Error(t, ReadConfigFile(NewViper(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestValidateServer(t *testing.T) {
	valid := func() *Config {
		cfg := LoadConfig(NewViper())
		cfg.Database.Driver = "sqlite"
		cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
		return cfg
	}
	require.NoError(t, valid().ValidateServer())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"no blob dir", func(c *Config) { c.Storage.BlobDir = "" }},
		{"zero batch", func(c *Config) { c.Policy.MaxBatchSize = 0 }},
		{"negative in flight", func(c *Config) { c.Policy.MaxInFlight = -1 }},
		{"no mime types", func(c *Config) { c.Policy.AllowedMimeTypes = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateServer()
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, KindConfig, KindOf(err))
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("ignored")
	logger.Warn("dispatch.failed", "document_id", "d1")
	assert.NotContains(t, buf.String(), "ignored")
	assert.Contains(t, buf.String(), `"msg":"dispatch.failed"`)

	_, err = NewLogger(LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
	_, err = NewLogger(LogConfig{Format: "xml"}, &buf)
	assert.Error(t, err)
}
