package sqlite

import (
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
)

// Times are stored as Unix nanoseconds so range filters compare numerically.

type memberRow struct {
	ChatID      int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID      int64  `gorm:"primaryKey;autoIncrement:false"`
	DisplayName string `gorm:"not null;default:''"`
	Handle      string `gorm:"not null;default:'';index:idx_members_handle"`
	IsBot       bool   `gorm:"not null;default:false"`
	FirstSeenNs int64  `gorm:"column:first_seen_at;not null"`
	LastSeenNs  int64  `gorm:"column:last_seen_at;not null"`
}

func (memberRow) TableName() string { return "members" }

func (r memberRow) toDomain() *domain.Member {
	return &domain.Member{
		ChatID:      r.ChatID,
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		Handle:      r.Handle,
		IsBot:       r.IsBot,
		FirstSeenAt: fromNanos(r.FirstSeenNs),
		LastSeenAt:  fromNanos(r.LastSeenNs),
	}
}

type scoreRow struct {
	ChatID int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID int64 `gorm:"primaryKey;autoIncrement:false"`
	Score  int   `gorm:"not null;default:0"`
}

func (scoreRow) TableName() string { return "scores" }

type pollRow struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	ChatID          int64  `gorm:"not null;index:idx_polls_target"`
	TargetUserID    int64  `gorm:"not null;index:idx_polls_target"`
	NominatorUserID int64  `gorm:"not null"`
	MessageRef      string `gorm:"not null;default:''"`
	PlusCount       int    `gorm:"not null;default:0"`
	MinusCount      int    `gorm:"not null;default:0"`
	Status          string `gorm:"not null;default:'open';index"`
	CreatedNs       int64  `gorm:"column:created_at;not null"`
	ResolvedNs      *int64 `gorm:"column:resolved_at"`
}

func (pollRow) TableName() string { return "polls" }

func (r pollRow) toDomain() *domain.Poll {
	p := &domain.Poll{
		ID:              r.ID,
		ChatID:          r.ChatID,
		TargetUserID:    r.TargetUserID,
		NominatorUserID: r.NominatorUserID,
		MessageRef:      r.MessageRef,
		PlusCount:       r.PlusCount,
		MinusCount:      r.MinusCount,
		Status:          domain.PollStatus(r.Status),
		CreatedAt:       fromNanos(r.CreatedNs),
	}
	if r.ResolvedNs != nil {
		t := fromNanos(*r.ResolvedNs)
		p.ResolvedAt = &t
	}
	return p
}

type voteRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	PollID      int64  `gorm:"not null;uniqueIndex:idx_votes_poll_voter"`
	VoterUserID int64  `gorm:"not null;uniqueIndex:idx_votes_poll_voter"`
	Choice      string `gorm:"not null"`
	CastNs      int64  `gorm:"column:cast_at;not null"`

	Poll *pollRow `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE"`
}

func (voteRow) TableName() string { return "votes" }

func (r voteRow) toDomain() domain.Vote {
	return domain.Vote{
		PollID:      r.PollID,
		VoterUserID: r.VoterUserID,
		Choice:      domain.Choice(r.Choice),
		CastAt:      fromNanos(r.CastNs),
	}
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
