package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.ServerHost)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 25, cfg.DBMaxOpenConnections)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.SyncProbeTimeout)
	assert.Equal(t, 10*time.Second, cfg.SyncAttemptTimeout)
	assert.Equal(t, 30*time.Second, cfg.SyncSweepInterval)
	assert.Equal(t, 100, cfg.SyncBatchSize)
	assert.Equal(t, 5*time.Second, cfg.DispatchPollInterval)
	assert.Equal(t, 5, cfg.DispatchMaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.DispatchActionTTL)
	assert.Equal(t, 1024, cfg.TraceBufferSize)
	assert.Equal(t, "syncbox", cfg.MetricsNamespace)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.CORSEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("SYNC_SERVER_URL", "http://records.internal:8443")
	t.Setenv("SYNC_BATCH_SIZE", "10")
	t.Setenv("DISPATCH_MAX_RETRIES", "2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, 9999, cfg.ServerPort)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, "http://records.internal:8443", cfg.SyncServerURL)
	assert.Equal(t, 10, cfg.SyncBatchSize)
	assert.Equal(t, 2, cfg.DispatchMaxRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestGetGinMode(t *testing.T) {
	tests := []struct {
		logLevel string
		want     string
	}{
		{"debug", "debug"},
		{"info", "release"},
		{"warn", "release"},
		{"error", "release"},
		{"unknown", "release"},
	}

	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.logLevel}
		assert.Equal(t, tt.want, cfg.GetGinMode())
	}
}
