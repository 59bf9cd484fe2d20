package domain

import (
	"context"
	"strings"
)

// Standing is one row of a chat's scoreboard.
type Standing struct {
	UserID      int64
	DisplayName string
	Handle      string
	Score       int
}

// ScoreLedger persists per-chat scores. Only the poll engine writes to it.
type ScoreLedger interface {
	// IncrementScore atomically adds one, creating the row if needed, and returns the new score.
	IncrementScore(ctx context.Context, chatID, userID int64) (int, error)
	// SetScore overwrites a score. Used by the seed import only.
	SetScore(ctx context.Context, chatID, userID int64, score int) error
	GetScore(ctx context.Context, chatID, userID int64) (int, error)
	// ListStandings returns non-bot members ordered by score desc, then display name.
	ListStandings(ctx context.Context, chatID int64) ([]Standing, error)
}

// SeedScores maps a lowercased handle or display name to an initial score.
type SeedScores map[string]int

// NewSeedScores normalizes keys for case-insensitive lookup.
func NewSeedScores(raw map[string]int) SeedScores {
	seeds := make(SeedScores, len(raw))
	for name, score := range raw {
		key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
		if key == "" {
			continue
		}
		seeds[key] = score
	}
	return seeds
}

// Lookup prefers the handle and falls back to the display name.
func (s SeedScores) Lookup(m Member) (int, bool) {
	if len(s) == 0 {
		return 0, false
	}
	if m.Handle != "" {
		if score, ok := s[strings.ToLower(m.Handle)]; ok {
			return score, true
		}
	}
	if m.DisplayName != "" {
		if score, ok := s[strings.ToLower(strings.TrimSpace(m.DisplayName))]; ok {
			return score, true
		}
	}
	return 0, false
}
