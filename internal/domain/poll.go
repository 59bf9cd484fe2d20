package domain

import (
	"context"
	"time"
)

// PollStatus is the lifecycle state of a poll. Every status except open is terminal.
type PollStatus string

const (
	PollOpen      PollStatus = "open"
	PollPassed    PollStatus = "passed"
	PollCancelled PollStatus = "cancelled"
	PollExpired   PollStatus = "expired"
)

func (s PollStatus) Terminal() bool {
	return s != PollOpen
}

func (s PollStatus) Valid() bool {
	switch s {
	case PollOpen, PollPassed, PollCancelled, PollExpired:
		return true
	default:
		return false
	}
}

// Choice is a single ballot value.
type Choice string

const (
	ChoicePlus  Choice = "plus"
	ChoiceMinus Choice = "minus"
)

func (c Choice) Valid() bool {
	return c == ChoicePlus || c == ChoiceMinus
}

// ParseChoice converts callback data into a Choice.
func ParseChoice(s string) (Choice, error) {
	c := Choice(s)
	if !c.Valid() {
		return "", ErrInvalidChoice
	}
	return c, nil
}

type Poll struct {
	ID              int64
	ChatID          int64
	TargetUserID    int64
	NominatorUserID int64
	MessageRef      string
	PlusCount       int
	MinusCount      int
	Status          PollStatus
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Age is measured against the injected clock, never wall time.
func (p Poll) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// NewPoll carries the fields the engine provides when opening a poll.
type NewPoll struct {
	ChatID          int64
	TargetUserID    int64
	NominatorUserID int64
	CreatedAt       time.Time
}

type Vote struct {
	PollID      int64
	VoterUserID int64
	Choice      Choice
	CastAt      time.Time
}

// Tally is the vote count derived from the stored vote rows.
type Tally struct {
	Plus  int
	Minus int
}

// QuorumFor returns max(1, ceil(n/2)) for n non-bot members.
func QuorumFor(nonBotMembers int) int {
	q := (nonBotMembers + 1) / 2
	if q < 1 {
		return 1
	}
	return q
}

// PollHandle is returned when a poll opens; the presentation layer renders the ballot from it.
type PollHandle struct {
	Poll   Poll
	Quorum int
	Target Member
}

// Resolution describes the state of a poll after a vote attempt.
type Resolution struct {
	Poll        Poll
	Quorum      int
	Target      Member
	TargetScore int // set only when the poll passed with this vote
}

func (r Resolution) Resolved() bool {
	return r.Poll.Status.Terminal()
}

// PollStore persists polls and votes. The two invariant-bearing writes are
// conditional: InsertVote fails on an existing (poll, voter) key or a resolved
// poll, and TransitionPoll/ExpireOpenPolls only touch rows that are still open.
type PollStore interface {
	// CreatePoll returns ErrAlreadyOpen when an open poll exists for the (chat, target) pair.
	CreatePoll(ctx context.Context, p NewPoll) (*Poll, error)
	GetPoll(ctx context.Context, pollID int64) (*Poll, error)
	// LatestPollForTarget returns ErrUnknownPoll when the target was never called out in the chat.
	LatestPollForTarget(ctx context.Context, chatID, targetUserID int64) (*Poll, error)
	SetMessageRef(ctx context.Context, pollID int64, ref string) error

	InsertVote(ctx context.Context, v Vote) error
	ListVotes(ctx context.Context, pollID int64) ([]Vote, error)
	// RefreshTally recounts votes and stores the counts while the poll is open.
	// It returns ErrPollClosed when the poll was resolved in the meantime.
	RefreshTally(ctx context.Context, pollID int64) (Tally, error)

	// TransitionPoll moves an open poll to a terminal status. ok is false when it was not open.
	TransitionPoll(ctx context.Context, pollID int64, to PollStatus, at time.Time) (ok bool, err error)
	// ExpireOpenPolls expires every open poll created at or before cutoff and returns them.
	// It is the batch form of TransitionPoll(id, PollExpired, at) and must use the
	// same still-open guard, so a poll expired one way is never expired the other.
	ExpireOpenPolls(ctx context.Context, cutoff, at time.Time) ([]Poll, error)
}
