package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.Audit.Interval)
	assert.False(t, cfg.Ledger.CumulativeCheck)

	_, ok, err := cfg.Ledger.Period()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file choosing memory and a period, and env overriding the addr
	// WHEN: Loading
	// THEN: File values apply, env wins where both are set

	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
http:
  addr: ":9000"
  cors_origins: ["http://localhost:3000"]
ledger:
  cumulative_check: true
  period_start: "2025-04-01"
  period_end: "2026-03-31"
audit:
  interval: 5m
`), 0o600))

	t.Setenv("LEDGER_HTTP_ADDR", ":9100")
	t.Setenv("LEDGER_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.HTTP.CORSOrigins)
	assert.True(t, cfg.Ledger.CumulativeCheck)
	assert.Equal(t, 5*time.Minute, cfg.Audit.Interval)

	p, ok, err := cfg.Ledger.Period()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[2025-04-01, 2026-03-31]", p.String())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("LEDGER_STORE_DRIVER", "postgres")
	t.Setenv("LEDGER_LEDGER_PERIOD_START", "2025-04-01")
	t.Setenv("LEDGER_LEDGER_PERIOD_END", "2025-01-01")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
	assert.Contains(t, err.Error(), "ledger.period")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
