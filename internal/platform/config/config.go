package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	AppEnv         string `env:"APP_ENV" default:"development"`
	Port           string `env:"PORT" default:"8080"`
	DatabaseDriver string `env:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH" default:"gryaz.db"`
	RedisURL       string `env:"REDIS_URL"`
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
	BotUsername    string `env:"BOT_USERNAME"`
	LogLevel       string `env:"LOG_LEVEL" default:"info"`
	LogFormat      string `env:"LOG_FORMAT" default:"text"`

	// Seconds or Go duration strings ("300", "5m").
	TargetCooldown Seconds `env:"TARGET_COOLDOWN" default:"300"`
	VoteTimeout    Seconds `env:"VOTE_TIMEOUT" default:"600"`
	SweepInterval  Seconds `env:"SWEEP_INTERVAL" default:"0"`

	SeedScores     string `env:"SEED_SCORES"`
	SeedScoresFile string `env:"SEED_SCORES_FILE"`

	WebhookRateLimit float64 `env:"WEBHOOK_RATE_LIMIT" default:"20"`
	WebhookRateBurst int     `env:"WEBHOOK_RATE_BURST" default:"40"`
}

// Seconds parses either a bare integer number of seconds or a Go duration.
// Negative values are allowed: a non-positive VOTE_TIMEOUT disables expiry.
type Seconds time.Duration

func (s *Seconds) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*s = 0
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = Seconds(time.Duration(n) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*s = Seconds(d)
	return nil
}

func (s Seconds) Duration() time.Duration { return time.Duration(s) }

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.DatabaseDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}

	if cfg.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required")
	}
	if len(cfg.WebhookSecret) < 10 || len(cfg.WebhookSecret) > 100 {
		return errors.New("WEBHOOK_SECRET must be between 10 and 100 characters")
	}

	if cfg.TargetCooldown < 0 {
		return errors.New("TARGET_COOLDOWN must not be negative")
	}
	if cfg.SweepInterval < 0 {
		return errors.New("SWEEP_INTERVAL must not be negative")
	}
	if cfg.WebhookRateLimit <= 0 || cfg.WebhookRateBurst <= 0 {
		return errors.New("WEBHOOK_RATE_LIMIT and WEBHOOK_RATE_BURST must be positive")
	}

	if _, err := cfg.LoadSeedScores(); err != nil {
		return err
	}

	return nil
}

// LoadSeedScores merges SEED_SCORES_FILE (YAML or JSON mapping) with the inline
// SEED_SCORES list ("alice=5,bob=2"). Inline entries win.
func (c *Config) LoadSeedScores() (map[string]int, error) {
	seeds := make(map[string]int)

	if c.SeedScoresFile != "" {
		data, err := os.ReadFile(c.SeedScoresFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SEED_SCORES_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &seeds); err != nil {
			return nil, fmt.Errorf("SEED_SCORES_FILE must be a name to score mapping: %w", err)
		}
	}

	for _, pair := range strings.Split(c.SeedScores, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			name, value, ok = strings.Cut(pair, ":")
		}
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("SEED_SCORES entry %q must look like name=score", pair)
		}
		score, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("SEED_SCORES entry %q has a non-integer score", pair)
		}
		seeds[strings.TrimSpace(name)] = score
	}

	return seeds, nil
}
