package domain

import (
	"context"
	"time"
)

type PollEventType string

const (
	PollEventOpened   PollEventType = "poll.opened"
	PollEventUpdated  PollEventType = "poll.updated"
	PollEventResolved PollEventType = "poll.resolved"
)

// PollEvent is published after a poll state change has been committed.
type PollEvent struct {
	Type        PollEventType `json:"type"`
	PollID      int64         `json:"poll_id"`
	ChatID      int64         `json:"chat_id"`
	TargetID    int64         `json:"target_user_id"`
	MessageRef  string        `json:"message_ref,omitempty"`
	Status      PollStatus    `json:"status"`
	Plus        int           `json:"plus"`
	Minus       int           `json:"minus"`
	Quorum      int           `json:"quorum,omitempty"`
	TargetScore int           `json:"target_score,omitempty"`
	At          time.Time     `json:"at"`
}

// NewPollEvent snapshots a poll into an event payload.
func NewPollEvent(eventType PollEventType, p Poll, quorum int, at time.Time) PollEvent {
	return PollEvent{
		Type:       eventType,
		PollID:     p.ID,
		ChatID:     p.ChatID,
		TargetID:   p.TargetUserID,
		MessageRef: p.MessageRef,
		Status:     p.Status,
		Plus:       p.PlusCount,
		Minus:      p.MinusCount,
		Quorum:     quorum,
		At:         at,
	}
}

// PollNotifier hands committed poll changes to the presentation layer.
// Failures never roll back the state change that triggered them.
type PollNotifier interface {
	PublishPollEvent(ctx context.Context, event PollEvent) error
}
