package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const statusOpen = string(domain.PollOpen)

func (s *Store) CreatePoll(ctx context.Context, np domain.NewPoll) (*domain.Poll, error) {
	row := pollRow{
		ChatID:          np.ChatID,
		TargetUserID:    np.TargetUserID,
		NominatorUserID: np.NominatorUserID,
		Status:          statusOpen,
		CreatedNs:       nanos(np.CreatedAt),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		err := tx.Model(&pollRow{}).
			Where("chat_id = ? AND target_user_id = ? AND status = ?", np.ChatID, np.TargetUserID, statusOpen).
			Count(&open).Error
		if err != nil {
			return err
		}
		if open > 0 {
			return domain.ErrAlreadyOpen
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, domain.ErrAlreadyOpen) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, domain.ErrAlreadyOpen
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPoll(ctx context.Context, pollID int64) (*domain.Poll, error) {
	row, err := getPoll(s.db.WithContext(ctx), pollID)
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func getPoll(tx *gorm.DB, pollID int64) (*pollRow, error) {
	var row pollRow
	err := tx.Where("id = ?", pollID).Take(&row).Error
	if notFound(err) {
		return nil, domain.ErrUnknownPoll
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}
	return &row, nil
}

func (s *Store) LatestPollForTarget(ctx context.Context, chatID, targetUserID int64) (*domain.Poll, error) {
	var row pollRow
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND target_user_id = ?", chatID, targetUserID).
		Order("id DESC").
		Take(&row).Error
	if notFound(err) {
		return nil, domain.ErrUnknownPoll
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest poll: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) SetMessageRef(ctx context.Context, pollID int64, ref string) error {
	res := s.db.WithContext(ctx).Model(&pollRow{}).Where("id = ?", pollID).Update("message_ref", ref)
	if res.Error != nil {
		return fmt.Errorf("failed to set message ref: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrUnknownPoll
	}
	return nil
}

func (s *Store) InsertVote(ctx context.Context, v domain.Vote) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := getPoll(tx, v.PollID)
		if err != nil {
			return err
		}
		if poll.Status != statusOpen {
			return domain.ErrPollClosed
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&voteRow{
			PollID:      v.PollID,
			VoterUserID: v.VoterUserID,
			Choice:      string(v.Choice),
			CastNs:      nanos(v.CastAt),
		})
		if res.Error != nil {
			return fmt.Errorf("failed to insert vote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrDuplicateVote
		}
		return nil
	})
}

func (s *Store) ListVotes(ctx context.Context, pollID int64) ([]domain.Vote, error) {
	var rows []voteRow
	if err := s.db.WithContext(ctx).Where("poll_id = ?", pollID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}

	votes := make([]domain.Vote, 0, len(rows))
	for _, r := range rows {
		votes = append(votes, r.toDomain())
	}
	return votes, nil
}

func (s *Store) RefreshTally(ctx context.Context, pollID int64) (domain.Tally, error) {
	var tally domain.Tally
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := getPoll(tx, pollID)
		if err != nil {
			return err
		}
		if poll.Status != statusOpen {
			tally = domain.Tally{Plus: poll.PlusCount, Minus: poll.MinusCount}
			return domain.ErrPollClosed
		}

		var counts []struct {
			Choice string
			N      int
		}
		err = tx.Model(&voteRow{}).
			Select("choice, count(*) AS n").
			Where("poll_id = ?", pollID).
			Group("choice").
			Scan(&counts).Error
		if err != nil {
			return fmt.Errorf("failed to count votes: %w", err)
		}
		for _, c := range counts {
			switch domain.Choice(c.Choice) {
			case domain.ChoicePlus:
				tally.Plus = c.N
			case domain.ChoiceMinus:
				tally.Minus = c.N
			}
		}

		return tx.Model(&pollRow{}).Where("id = ?", pollID).Updates(map[string]any{
			"plus_count":  tally.Plus,
			"minus_count": tally.Minus,
		}).Error
	})
	if err != nil {
		return tally, err
	}
	return tally, nil
}

// stillOpen guards every open -> terminal write.
const stillOpen = "status = ?"

func (s *Store) TransitionPoll(ctx context.Context, pollID int64, to domain.PollStatus, at time.Time) (bool, error) {
	if !to.Valid() || !to.Terminal() {
		return false, fmt.Errorf("invalid target status %q", to)
	}

	var ok bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&pollRow{}).
			Where("id = ? AND "+stillOpen, pollID, statusOpen).
			Updates(map[string]any{"status": string(to), "resolved_at": nanos(at)})
		if res.Error != nil {
			return fmt.Errorf("failed to transition poll: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			ok = true
			return nil
		}
		_, err := getPoll(tx, pollID)
		return err
	})
	return ok, err
}

// ExpireOpenPolls shares the stillOpen guard with TransitionPoll.
func (s *Store) ExpireOpenPolls(ctx context.Context, cutoff, at time.Time) ([]domain.Poll, error) {
	var expired []domain.Poll
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []pollRow
		err := tx.Where(stillOpen+" AND created_at <= ?", statusOpen, nanos(cutoff)).
			Order("id").
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to find stale polls: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]int64, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		resolvedAt := nanos(at)
		err = tx.Model(&pollRow{}).
			Where("id IN ? AND "+stillOpen, ids, statusOpen).
			Updates(map[string]any{"status": string(domain.PollExpired), "resolved_at": resolvedAt}).Error
		if err != nil {
			return fmt.Errorf("failed to expire polls: %w", err)
		}

		for _, r := range rows {
			r.Status = string(domain.PollExpired)
			r.ResolvedNs = &resolvedAt
			expired = append(expired, *r.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
