// Package sqlite implements the roster, score ledger and poll store on a
// single SQLite file through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store implements domain.RosterStore, domain.ScoreLedger and domain.PollStore.
// The pool holds a single connection, so every transaction runs alone.
type Store struct {
	db *gorm.DB
}

var (
	_ domain.RosterStore = (*Store)(nil)
	_ domain.ScoreLedger = (*Store)(nil)
	_ domain.PollStore   = (*Store)(nil)
)

// FileDSN builds the connection string for a database file.
func FileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates tables. Safe to run on every start.
func (s *Store) Migrate() error {
	for _, model := range []any{&memberRow{}, &scoreRow{}, &pollRow{}, &voteRow{}} {
		slog.Debug("Migrating sqlite table", "model", fmt.Sprintf("%T", model))
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	// gorm tags cannot express a partial index.
	if err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS polls_one_open_per_target
ON polls (chat_id, target_user_id) WHERE status = 'open'`).Error; err != nil {
		return fmt.Errorf("failed to create open poll index: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
