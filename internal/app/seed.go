package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dixxi1208/GryazBot/internal/domain"
)

// applySeed overwrites the score of a newly seen member with the seeded value.
func (e *Engine) applySeed(ctx context.Context, m domain.Member) error {
	score, ok := e.cfg.Seeds.Lookup(m)
	if !ok {
		return nil
	}
	if err := e.ledger.SetScore(ctx, m.ChatID, m.UserID, score); err != nil {
		return fmt.Errorf("apply seed score: %w", err)
	}
	e.metrics.Seeded()
	slog.InfoContext(ctx, "Seed score applied", "chat_id", m.ChatID, "user_id", m.UserID, "score", score)
	return nil
}

// SeedMatch pairs a seed entry with the tracked member it resolves to.
type SeedMatch struct {
	Key      string
	Score    int
	Standing domain.Standing
}

// SeedReport describes how a seed mapping lines up with an existing chat.
type SeedReport struct {
	Matched   []SeedMatch
	Unmatched []string
}

// CheckSeeds resolves seeds against already tracked members the same way the
// first-sight import does. Members that are already tracked will not be
// re-seeded; the report shows what the mapping would have produced.
func CheckSeeds(seeds domain.SeedScores, standings []domain.Standing) SeedReport {
	var report SeedReport
	used := make(map[string]bool, len(seeds))

	for _, s := range standings {
		m := domain.Member{DisplayName: s.DisplayName, Handle: s.Handle}
		score, ok := seeds.Lookup(m)
		if !ok {
			continue
		}
		key := strings.ToLower(s.Handle)
		if _, byHandle := seeds[key]; !byHandle || s.Handle == "" {
			key = strings.ToLower(strings.TrimSpace(s.DisplayName))
		}
		used[key] = true
		report.Matched = append(report.Matched, SeedMatch{Key: key, Score: score, Standing: s})
	}

	for key := range seeds {
		if !used[key] {
			report.Unmatched = append(report.Unmatched, key)
		}
	}
	slices.Sort(report.Unmatched)
	return report
}
