package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoTarget       = errors.New("no poll target given")
	ErrUnknownTarget  = errors.New("poll target is not a known member")
	ErrTargetIsBot    = errors.New("poll target is a bot")
	ErrInvalidChoice  = errors.New("invalid vote choice")
	ErrMemberNotFound = errors.New("member not found")

	ErrAlreadyOpen   = errors.New("poll already open for target")
	ErrDuplicateVote = errors.New("voter already voted")
	ErrCooldown      = errors.New("target is on cooldown")

	ErrUnknownPoll = errors.New("poll not found")
	ErrPollClosed  = errors.New("poll already resolved")
	ErrTimedOut    = errors.New("poll timed out")
)

// CooldownError reports how long a nominator has to wait before the same
// target can be called out again. It matches ErrCooldown with errors.Is.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s remaining", ErrCooldown, e.Remaining)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}
