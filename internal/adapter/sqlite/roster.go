package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) TouchMember(ctx context.Context, m domain.Member, seenAt time.Time) (bool, error) {
	row := memberRow{
		ChatID:      m.ChatID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Handle:      m.Handle,
		IsBot:       m.IsBot,
		FirstSeenNs: nanos(seenAt),
		LastSeenNs:  nanos(seenAt),
	}

	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			inserted = true
			return nil
		}
		return tx.Model(&memberRow{}).
			Where("chat_id = ? AND user_id = ?", m.ChatID, m.UserID).
			Updates(map[string]any{
				"display_name": m.DisplayName,
				"handle":       m.Handle,
				"is_bot":       m.IsBot,
				"last_seen_at": nanos(seenAt),
			}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to touch member: %w", err)
	}
	return inserted, nil
}

func (s *Store) GetMember(ctx context.Context, chatID, userID int64) (*domain.Member, error) {
	var row memberRow
	err := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).Take(&row).Error
	if notFound(err) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) LookupUserByHandle(ctx context.Context, chatID int64, handle string) (int64, error) {
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return 0, domain.ErrMemberNotFound
	}

	var row memberRow
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND handle <> '' AND lower(handle) = lower(?)", chatID, handle).
		Order("last_seen_at DESC").
		Take(&row).Error
	if notFound(err) {
		return 0, domain.ErrMemberNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up handle: %w", err)
	}
	return row.UserID, nil
}

func (s *Store) NonBotMemberCount(ctx context.Context, chatID int64) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&memberRow{}).
		Where("chat_id = ? AND is_bot = ?", chatID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return int(n), nil
}
