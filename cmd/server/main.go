package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/guard"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/httpserver"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/memory"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	natsfanout "github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/nats"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/postgres"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/redis"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/sqlite"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/match"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/config"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/logging"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/retry"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupPostgres(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	pool, err := retry.Do(ctx, policy, retry.Always, func() (*pgxpool.Pool, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return postgres.Connect(connectCtx, cfg.DatabaseURL)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := postgres.RunMigrationsWithLock(migrateCtx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupStore opens the configured backend and wraps it in the breaker and
// metrics decorators. The redis client is returned for reuse by the fanout.
func setupStore(ctx context.Context, cfg *config.Config, storeMetrics *metrics.StoreMetrics, cleanup *closers) (domain.MatchStore, *goredis.Client) {
	var (
		backend     domain.MatchStore
		redisClient *goredis.Client
	)

	switch cfg.StoreMode {
	case config.StorePostgres:
		pool := setupPostgres(ctx, cfg)
		cleanup.add(pool.Close)
		backend = postgres.NewStore(pool)
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			slog.Error("Failed to open SQLite store", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		cleanup.add(func() { _ = store.Close() })
		backend = store
	case config.StoreRedis:
		redisClient = setupRedis(ctx, cfg)
		cleanup.add(func() { _ = redisClient.Close() })
		backend = redis.NewStore(redisClient)
	default:
		backend = memory.NewStore()
	}

	if cfg.SeedFile != "" {
		n, err := memory.LoadSeed(ctx, backend, cfg.SeedFile)
		if err != nil {
			slog.Error("Failed to load seed file", "path", cfg.SeedFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Seed data loaded", "path", cfg.SeedFile, "matches", n)
	}

	slog.Info("Match store ready", "backend", cfg.StoreMode)
	instrumented := guard.WithMetrics(backend, cfg.StoreMode, storeMetrics)
	return guard.WithBreaker(instrumented, guard.BreakerSettings{}, storeMetrics), redisClient
}

type pinger interface {
	Ping(ctx context.Context) error
}

// setupFanout connects the cross-instance relay. It returns nil when
// FANOUT_MODE is none.
func setupFanout(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, cleanup *closers) (domain.Fanout, pinger) {
	switch cfg.FanoutMode {
	case config.FanoutRedis:
		if redisClient == nil {
			redisClient = setupRedis(ctx, cfg)
			cleanup.add(func() { _ = redisClient.Close() })
		}
		return redis.NewFanout(redisClient), redisPinger{redisClient}
	case config.FanoutNATS:
		fanout, err := natsfanout.Connect(natsfanout.DefaultConfig(cfg.NATSURL))
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		cleanup.add(func() { _ = fanout.Close() })
		return fanout, fanout
	default:
		return nil, nil
	}
}

type redisPinger struct{ rdb *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func runGracefulShutdown(srv *httpserver.Server, manager *match.Manager, stopRelay context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		stopRelay()
		// Closing viewers first lets streaming handlers return before the
		// server waits on them.
		manager.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	ctx := context.Background()
	var cleanup closers
	defer cleanup.run()

	registry := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(registry)

	store, redisClient := setupStore(ctx, cfg, storeMetrics, &cleanup)
	fanout, fanoutPinger := setupFanout(ctx, cfg, redisClient, &cleanup)

	manager := match.NewManager(match.Config{
		Store:         store,
		Clock:         clock,
		Metrics:       metrics.NewActorMetrics(registry),
		FanoutMetrics: metrics.NewFanoutMetrics(registry),
		Fanout:        fanout,
		MaxClients:    cfg.MaxClientsPerMatch,
		IdleTimeout:   cfg.ActorIdleTimeout,
	})

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if fanout != nil {
		go func() {
			if err := manager.RunRelay(relayCtx); err != nil {
				slog.Error("Relay stopped", "error", err)
			}
		}()
		slog.Info("Cross-instance relay started", "mode", cfg.FanoutMode, "instance_id", manager.InstanceID())
	}

	checks := []httpserver.HealthCheck{{Name: "store", Check: store.Ping}}
	if fanoutPinger != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "fanout", Check: fanoutPinger.Ping})
	}

	srv := httpserver.NewServer(cfg, manager, registry, checks)
	done := runGracefulShutdown(srv, manager, stopRelay)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
