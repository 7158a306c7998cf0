/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, LEDGER_* env, flags)
  2. Open the configured store (sqlite, postgres or memory)
  3. Optionally connect the Redis locker
  4. Build the engine, seed the active period if configured
  5. Start the audit scheduler and HTTP server

COMMAND-LINE FLAGS:
  -config  Config file path (yaml, json or toml; optional)
  -port    HTTP server port, overrides http.addr
  -db      SQLite database path, overrides store.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close store and Redis connections

EXAMPLES:
  ./server -db="./data/ledger.db"
  LEDGER_STORE_DRIVER=postgres LEDGER_STORE_DSN=postgres://... ./server
  LEDGER_REDIS_ADDR=localhost:6379 ./server -port=3000

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/lock/redislocker"
	"github.com/warp/stock-ledger/logging"
	"github.com/warp/stock-ledger/store/postgres"
	"github.com/warp/stock-ledger/store/sqlite"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides http.addr)")
	dbPath := flag.String("db", "", "SQLite database path (overrides store.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTP.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	log := logging.New(logging.Config{Env: cfg.Env, Level: cfg.Log.Level})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Info().Str("driver", cfg.Store.Driver).Msg("store opened")

	opts := []ledger.Option{
		ledger.WithLogger(log.With().Str("component", "engine").Logger()),
		ledger.WithCumulativeCheck(cfg.Ledger.CumulativeCheck),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		locker := redislocker.New(rdb, cfg.Redis.LockTTL,
			redislocker.WithLogger(log.With().Str("component", "locker").Logger()))
		opts = append(opts, ledger.WithLocker(locker))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis locker enabled")
	}
	engine := ledger.NewEngine(st, opts...)

	if err := seedPeriod(ctx, engine, cfg.Ledger, log); err != nil {
		return err
	}

	handler := api.NewHandler(engine, log)
	scheduler := api.NewAuditScheduler(handler)
	scheduler.Enabled = cfg.Audit.Enabled
	scheduler.CheckInterval = cfg.Audit.Interval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, cfg.HTTP.CORSOrigins),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.TxStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return st, st.Close, nil
	case "memory":
		return store.NewMemory(), func() {}, nil
	default:
		st, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.Path, err)
		}
		return st, func() { st.Close() }, nil
	}
}

// seedPeriod sets the configured period when the store has none yet.
func seedPeriod(ctx context.Context, engine *ledger.Engine, cfg config.LedgerConfig, log zerolog.Logger) error {
	p, ok, err := cfg.Period()
	if err != nil || !ok {
		return err
	}
	current, err := engine.ActivePeriod(ctx)
	switch {
	case err == nil:
		if !current.Start.Equal(p.Start) || !current.End.Equal(p.End) {
			log.Warn().Str("stored", current.String()).Str("configured", p.String()).
				Msg("active period differs from config; keeping stored period")
		}
		return nil
	case !errors.Is(err, ledger.ErrNoActivePeriod):
		return err
	}
	return engine.SetActivePeriod(ctx, p)
}
