package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dixxi1208/GryazBot/internal/adapter/redis"
	"github.com/dixxi1208/GryazBot/internal/adapter/storage"
	"github.com/dixxi1208/GryazBot/internal/app"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/dixxi1208/GryazBot/internal/platform/config"
	"github.com/dixxi1208/GryazBot/internal/platform/logging"
	"github.com/dixxi1208/GryazBot/internal/platform/version"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

const (
	programName    = "gryazctl"
	commandTimeout = 2 * time.Minute
)

var globalFlags = struct {
	debug bool
}{}

// loadEnv reads configuration and opens the store. Opening the store also
// applies pending migrations.
func loadEnv(ctx context.Context) (*config.Config, storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if globalFlags.debug {
		level = "debug"
	}
	logging.InitLogger(level, cfg.LogFormat)

	store, err := storage.Open(ctx, cfg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, nil
}

func parseChatID(arg string) (int64, error) {
	chatID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || chatID == 0 {
		return 0, fmt.Errorf("invalid chat id %q", arg)
	}
	return chatID, nil
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := loadEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.DatabaseDriver)
			return nil
		},
	}
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every open poll older than the vote timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, store, err := loadEnv(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if cfg.VoteTimeout.Duration() <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "vote timeout disabled, nothing to sweep")
				return nil
			}

			var (
				notifier domain.PollNotifier
				lock     app.SweepLock
			)
			if cfg.RedisURL != "" {
				rdb, err := redis.NewClient(ctx, cfg.RedisURL)
				if err != nil {
					return err
				}
				defer func() { _ = rdb.Close() }()
				notifier = redis.NewPollPublisher(rdb, nil)
				lock = redis.NewSweepLock(rdb, programName+"-"+uuid.NewString(), time.Minute)
			}

			clock := clockwork.NewRealClock()
			engine := app.NewEngine(store, store, store, notifier, clock, app.EngineConfig{
				TargetCooldown: cfg.TargetCooldown.Duration(),
				VoteTimeout:    cfg.VoteTimeout.Duration(),
			}, nil)
			sweeper := app.NewSweeper(engine, notifier, lock, clock, 0, nil)
			defer sweeper.Stop()

			n, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d poll(s)\n", n)
			return nil
		},
	}
}

func standingsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "standings <chat-id>",
		Short: "Print the scoreboard of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			_, store, err := loadEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			standings, err := store.ListStandings(cmd.Context(), chatID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID\tNAME\tHANDLE\tSCORE")
			for _, s := range standings {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", s.UserID, s.DisplayName, s.Handle, s.Score)
			}
			return w.Flush()
		},
	}
}

func seedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Inspect the configured seed scores",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <chat-id>",
		Short: "Show which tracked members the seed mapping resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			cfg, store, err := loadEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			raw, err := cfg.LoadSeedScores()
			if err != nil {
				return err
			}
			standings, err := store.ListStandings(cmd.Context(), chatID)
			if err != nil {
				return err
			}

			report := app.CheckSeeds(domain.NewSeedScores(raw), standings)
			out := cmd.OutOrStdout()
			for _, m := range report.Matched {
				fmt.Fprintf(out, "matched   %-24s -> %s (user %d) seed=%d current=%d\n",
					m.Key, m.Standing.DisplayName, m.Standing.UserID, m.Score, m.Standing.Score)
			}
			for _, key := range report.Unmatched {
				fmt.Fprintf(out, "unmatched %s\n", key)
			}
			return nil
		},
	})
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Operator tooling for the gryaz bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(
		migrateCommand(),
		sweepCommand(),
		standingsCommand(),
		seedCommand(),
		versionCommand(),
	)
	return rootCmd
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "component", programName, "error", err)
		cancel()
		os.Exit(1)
	}
}
