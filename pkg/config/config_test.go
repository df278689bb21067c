package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "claude-3.5", cfg.LLM.DefaultModel)
	assert.Equal(t, 1000, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.0, cfg.LLM.Temperature)
	assert.True(t, cfg.Orchestrator.AutoRetry)
	assert.Equal(t, 4, cfg.Orchestrator.MaxRetryCount)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_RETRY_COUNT", "2")
	t.Setenv("AUTO_RETRY", "false")
	t.Setenv("LLM_TEMPERATURE", "0.3")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("SANDBOX_TIMEOUT", "750ms")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg := Load()

	assert.Equal(t, 2, cfg.Orchestrator.MaxRetryCount)
	assert.False(t, cfg.Orchestrator.AutoRetry)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	cfg := Load()
	cfg.Database.Driver = "oracle"

	_, err := NewDB(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewDBOpensSQLite(t *testing.T) {
	cfg := Load()
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = "file::memory:"
	cfg.Server.Env = "test"

	db, err := NewDB(cfg)
	require.NoError(t, err)
	assert.NoError(t, TestConnection(db))
}
