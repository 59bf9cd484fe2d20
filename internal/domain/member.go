package domain

import (
	"context"
	"time"
)

// Member is a user observed in a chat. Only non-bot members count towards quorum.
type Member struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Handle      string
	IsBot       bool
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// Label is the name used when talking about the member in chat.
func (m Member) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	if m.Handle != "" {
		return "@" + m.Handle
	}
	return "user"
}

// RosterStore persists chat membership built from passive observation.
type RosterStore interface {
	// TouchMember upserts the member. firstSeen is true when the row was created by this call.
	TouchMember(ctx context.Context, member Member, seenAt time.Time) (firstSeen bool, err error)
	GetMember(ctx context.Context, chatID, userID int64) (*Member, error)
	// LookupUserByHandle matches handles case-insensitively.
	LookupUserByHandle(ctx context.Context, chatID int64, handle string) (int64, error)
	NonBotMemberCount(ctx context.Context, chatID int64) (int, error)
}
