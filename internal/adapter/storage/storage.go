// Package storage opens the store backend selected by configuration.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dixxi1208/GryazBot/internal/adapter/metrics"
	"github.com/dixxi1208/GryazBot/internal/adapter/postgres"
	"github.com/dixxi1208/GryazBot/internal/adapter/sqlite"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/dixxi1208/GryazBot/internal/platform/config"
	"github.com/dixxi1208/GryazBot/internal/platform/retry"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is every persistence contract plus lifecycle hooks.
type Store interface {
	domain.RosterStore
	domain.ScoreLedger
	domain.PollStore
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and brings its schema up to date.
// dbMetrics may be nil.
func Open(ctx context.Context, cfg *config.Config, dbMetrics *metrics.DBMetrics) (Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg.DatabaseURL, dbMetrics)
	case config.DriverSQLite:
		return openSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

func openPostgres(ctx context.Context, databaseURL string, dbMetrics *metrics.DBMetrics) (Store, error) {
	tracer := postgres.NewMetricsTracer(dbMetrics)
	pool, err := retry.Do(ctx, retry.Startup("postgres"), retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, databaseURL, tracer)
	})
	if err != nil {
		return nil, err
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return postgres.NewStore(pool), nil
}

func openSQLite(path string) (Store, error) {
	s, err := sqlite.Open(sqlite.FileDSN(path))
	if err != nil {
		return nil, err
	}
	slog.Info("SQLite database opened", "path", path)
	return s, nil
}
