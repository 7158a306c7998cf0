// Package config loads server settings from an optional file, LEDGER_* env
// vars and defaults, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/warp/stock-ledger/ledger"
)

type Config struct {
	Env    string
	HTTP   HTTPConfig
	Store  StoreConfig
	Log    LogConfig
	Redis  RedisConfig
	Ledger LedgerConfig
	Audit  AuditConfig
}

type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string // sqlite, postgres, memory
	Path   string // sqlite file
	DSN    string // postgres connection string
}

type LogConfig struct {
	Level string
}

// RedisConfig enables the cross-process locker when Addr is set.
type RedisConfig struct {
	Addr    string
	LockTTL time.Duration
}

type LedgerConfig struct {
	CumulativeCheck bool

	// Seeds the active period on startup when the store has none.
	PeriodStart string
	PeriodEnd   string
}

// Period parses the configured seed period. ok is false when none is set.
func (c LedgerConfig) Period() (p ledger.Period, ok bool, err error) {
	if c.PeriodStart == "" && c.PeriodEnd == "" {
		return ledger.Period{}, false, nil
	}
	p, err = ledger.ParsePeriod(c.PeriodStart, c.PeriodEnd)
	if err != nil {
		return ledger.Period{}, false, fmt.Errorf("ledger.period: %w", err)
	}
	return p, true, nil
}

type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
}

var drivers = map[string]bool{"sqlite": true, "postgres": true, "memory": true}

// Load reads path (if non-empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Env: v.GetString("env"),
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			CORSOrigins:  splitList(v.GetStringSlice("http.cors_origins")),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
			Path:   v.GetString("store.path"),
			DSN:    v.GetString("store.dsn"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Redis: RedisConfig{
			Addr:    v.GetString("redis.addr"),
			LockTTL: v.GetDuration("redis.lock_ttl"),
		},
		Ledger: LedgerConfig{
			CumulativeCheck: v.GetBool("ledger.cumulative_check"),
			PeriodStart:     v.GetString("ledger.period_start"),
			PeriodEnd:       v.GetString("ledger.period_end"),
		},
		Audit: AuditConfig{
			Enabled:  v.GetBool("audit.enabled"),
			Interval: v.GetDuration("audit.interval"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "ledger.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.lock_ttl", 10*time.Second)
	v.SetDefault("ledger.cumulative_check", false)
	v.SetDefault("ledger.period_start", "")
	v.SetDefault("ledger.period_end", "")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.interval", time.Hour)
}

func (c *Config) validate() error {
	var errs []error
	if !drivers[c.Store.Driver] {
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn: required for postgres"))
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		errs = append(errs, errors.New("audit.interval: must be positive"))
	}
	if _, _, err := c.Ledger.Period(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// splitList accepts both a YAML list and a comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
