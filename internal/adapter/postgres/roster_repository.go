package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RosterRepo struct {
	pool *pgxpool.Pool
}

func NewRosterRepo(pool *pgxpool.Pool) *RosterRepo {
	return &RosterRepo{pool: pool}
}

// xmax is zero only on a row this statement inserted.
const touchMemberSQL = `
INSERT INTO members (chat_id, user_id, display_name, handle, is_bot, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (chat_id, user_id) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    handle       = EXCLUDED.handle,
    is_bot       = EXCLUDED.is_bot,
    last_seen_at = EXCLUDED.last_seen_at
RETURNING (xmax = 0)`

func (r *RosterRepo) TouchMember(ctx context.Context, m domain.Member, seenAt time.Time) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx, touchMemberSQL,
		m.ChatID, m.UserID, m.DisplayName, m.Handle, m.IsBot, seenAt.UTC(),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to touch member: %w", err)
	}
	return inserted, nil
}

func (r *RosterRepo) GetMember(ctx context.Context, chatID, userID int64) (*domain.Member, error) {
	m := domain.Member{ChatID: chatID, UserID: userID}
	err := r.pool.QueryRow(ctx, `
SELECT display_name, handle, is_bot, first_seen_at, last_seen_at
FROM members WHERE chat_id = $1 AND user_id = $2`, chatID, userID,
	).Scan(&m.DisplayName, &m.Handle, &m.IsBot, &m.FirstSeenAt, &m.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.FirstSeenAt = m.FirstSeenAt.UTC()
	m.LastSeenAt = m.LastSeenAt.UTC()
	return &m, nil
}

func (r *RosterRepo) LookupUserByHandle(ctx context.Context, chatID int64, handle string) (int64, error) {
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return 0, domain.ErrMemberNotFound
	}

	var userID int64
	err := r.pool.QueryRow(ctx, `
SELECT user_id FROM members
WHERE chat_id = $1 AND handle <> '' AND lower(handle) = lower($2)
ORDER BY last_seen_at DESC
LIMIT 1`, chatID, handle).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrMemberNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up handle: %w", err)
	}
	return userID, nil
}

func (r *RosterRepo) NonBotMemberCount(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM members WHERE chat_id = $1 AND NOT is_bot`, chatID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}
