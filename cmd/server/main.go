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

	"github.com/dixxi1208/GryazBot/internal/adapter/httpserver"
	"github.com/dixxi1208/GryazBot/internal/adapter/metrics"
	"github.com/dixxi1208/GryazBot/internal/adapter/redis"
	"github.com/dixxi1208/GryazBot/internal/adapter/storage"
	"github.com/dixxi1208/GryazBot/internal/app"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/dixxi1208/GryazBot/internal/platform/config"
	"github.com/dixxi1208/GryazBot/internal/platform/logging"
	"github.com/dixxi1208/GryazBot/internal/platform/retry"
	"github.com/dixxi1208/GryazBot/internal/platform/version"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const minSweepLockTTL = 30 * time.Second

func runGracefulShutdown(srv *httpserver.Server, sweeper *app.Sweeper) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		sweeper.Stop()
		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(cfg *config.Config, reg prometheus.Registerer) storage.Store {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := storage.Open(ctx, cfg, metrics.NewDBMetrics(reg))
	if err != nil {
		slog.Error("Failed to open store", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	return store
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := retry.Do(ctx, retry.Startup("redis"), retry.Transient, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupSeeds(cfg *config.Config) domain.SeedScores {
	raw, err := cfg.LoadSeedScores()
	if err != nil {
		slog.Error("Failed to load seed scores", "error", err)
		os.Exit(1)
	}
	seeds := domain.NewSeedScores(raw)
	if len(seeds) > 0 {
		slog.Info("Seed scores loaded", "entries", len(seeds))
	}
	return seeds
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port, "driver", cfg.DatabaseDriver)

	reg := metrics.NewRegistry()

	store := setupStore(cfg, reg)
	defer func() { _ = store.Close() }()

	sweepInterval := app.SweepInterval(cfg.VoteTimeout.Duration(), cfg.SweepInterval.Duration())
	metrics.RegisterPollRules(reg, metrics.PollRules{
		Driver:         cfg.DatabaseDriver,
		VoteTimeout:    cfg.VoteTimeout.Duration(),
		TargetCooldown: cfg.TargetCooldown.Duration(),
		SweepInterval:  sweepInterval,
	})
	healthChecks := []httpserver.HealthCheck{{Name: "database", Check: store.Ping}}

	// Without Redis there is no event fan-out and every instance sweeps.
	var (
		notifier domain.PollNotifier
		lock     app.SweepLock
	)
	if cfg.RedisURL != "" {
		redisClient := setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()

		notifier = redis.NewPollPublisher(redisClient, metrics.NewNotificationMetrics(reg))
		lock = redis.NewSweepLock(redisClient, uuid.NewString(), max(3*sweepInterval, minSweepLockTTL))
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		slog.Warn("REDIS_URL not set, poll events will not be published")
	}

	engine := app.NewEngine(store, store, store, notifier, clock, app.EngineConfig{
		TargetCooldown: cfg.TargetCooldown.Duration(),
		VoteTimeout:    cfg.VoteTimeout.Duration(),
		Seeds:          setupSeeds(cfg),
	}, metrics.NewPollMetrics(reg))

	sweeper := app.NewSweeper(engine, notifier, lock, clock, sweepInterval, metrics.NewSweepMetrics(reg))
	sweeper.Start()

	router := app.NewRouter(engine, cfg.BotUsername)
	srv := httpserver.NewServer(cfg, router, engine, reg, metrics.NewHTTPMetrics(reg), healthChecks, sweeper)

	done := runGracefulShutdown(srv, sweeper)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		sweeper.Stop()
		os.Exit(1)
	}

	<-done
}
