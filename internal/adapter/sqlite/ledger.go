package sqlite

import (
	"context"
	"fmt"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) IncrementScore(ctx context.Context, chatID, userID int64) (int, error) {
	var score int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{"score": gorm.Expr("scores.score + 1")}),
		}).Create(&scoreRow{ChatID: chatID, UserID: userID, Score: 1}).Error
		if err != nil {
			return err
		}
		var row scoreRow
		if err := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Take(&row).Error; err != nil {
			return err
		}
		score = row.Score
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment score: %w", err)
	}
	return score, nil
}

func (s *Store) SetScore(ctx context.Context, chatID, userID int64, score int) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score"}),
	}).Create(&scoreRow{ChatID: chatID, UserID: userID, Score: score}).Error
	if err != nil {
		return fmt.Errorf("failed to set score: %w", err)
	}
	return nil
}

func (s *Store) GetScore(ctx context.Context, chatID, userID int64) (int, error) {
	var row scoreRow
	err := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).Take(&row).Error
	if notFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get score: %w", err)
	}
	return row.Score, nil
}

type standingRow struct {
	UserID      int64
	DisplayName string
	Handle      string
	Score       int
}

func (s *Store) ListStandings(ctx context.Context, chatID int64) ([]domain.Standing, error) {
	var rows []standingRow
	err := s.db.WithContext(ctx).
		Table("members AS m").
		Select("m.user_id, m.display_name, m.handle, COALESCE(s.score, 0) AS score").
		Joins("LEFT JOIN scores AS s ON s.chat_id = m.chat_id AND s.user_id = m.user_id").
		Where("m.chat_id = ? AND m.is_bot = ?", chatID, false).
		Order("score DESC, m.display_name, m.user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list standings: %w", err)
	}

	standings := make([]domain.Standing, 0, len(rows))
	for _, r := range rows {
		standings = append(standings, domain.Standing(r))
	}
	return standings, nil
}
