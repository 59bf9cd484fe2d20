package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScoreRepo struct {
	pool *pgxpool.Pool
}

func NewScoreRepo(pool *pgxpool.Pool) *ScoreRepo {
	return &ScoreRepo{pool: pool}
}

func (r *ScoreRepo) IncrementScore(ctx context.Context, chatID, userID int64) (int, error) {
	var score int
	err := r.pool.QueryRow(ctx, `
INSERT INTO scores (chat_id, user_id, score) VALUES ($1, $2, 1)
ON CONFLICT (chat_id, user_id) DO UPDATE SET score = scores.score + 1
RETURNING score`, chatID, userID).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("failed to increment score: %w", err)
	}
	return score, nil
}

func (r *ScoreRepo) SetScore(ctx context.Context, chatID, userID int64, score int) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO scores (chat_id, user_id, score) VALUES ($1, $2, $3)
ON CONFLICT (chat_id, user_id) DO UPDATE SET score = EXCLUDED.score`, chatID, userID, score)
	if err != nil {
		return fmt.Errorf("failed to set score: %w", err)
	}
	return nil
}

func (r *ScoreRepo) GetScore(ctx context.Context, chatID, userID int64) (int, error) {
	var score int
	err := r.pool.QueryRow(ctx,
		`SELECT score FROM scores WHERE chat_id = $1 AND user_id = $2`, chatID, userID,
	).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get score: %w", err)
	}
	return score, nil
}

func (r *ScoreRepo) ListStandings(ctx context.Context, chatID int64) ([]domain.Standing, error) {
	rows, err := r.pool.Query(ctx, `
SELECT m.user_id, m.display_name, m.handle, COALESCE(s.score, 0) AS score
FROM members m
LEFT JOIN scores s ON s.chat_id = m.chat_id AND s.user_id = m.user_id
WHERE m.chat_id = $1 AND NOT m.is_bot
ORDER BY score DESC, m.display_name COLLATE "C", m.user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings: %w", err)
	}

	standings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Standing, error) {
		var s domain.Standing
		err := row.Scan(&s.UserID, &s.DisplayName, &s.Handle, &s.Score)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan standings: %w", err)
	}
	return standings, nil
}
