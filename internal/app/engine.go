package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dixxi1208/GryazBot/internal/adapter/metrics"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// EngineConfig holds the poll timing rules and the optional seed scores.
type EngineConfig struct {
	// TargetCooldown is the minimum time between a passed or cancelled poll
	// and the next nomination of the same target in the same chat.
	TargetCooldown time.Duration
	// VoteTimeout is the poll lifetime. Zero or negative disables expiry.
	VoteTimeout time.Duration
	Seeds       domain.SeedScores
}

// Engine owns the poll lifecycle: nomination, voting, resolution, expiry.
// All guarantees rest on the conditional writes of the PollStore, so any
// number of engines may share one store.
type Engine struct {
	roster   domain.RosterStore
	ledger   domain.ScoreLedger
	polls    domain.PollStore
	notifier domain.PollNotifier
	clock    clockwork.Clock
	cfg      EngineConfig
	metrics  *metrics.PollMetrics

	quorumGroup singleflight.Group
}

// NewEngine wires the engine. notifier and m may be nil.
func NewEngine(roster domain.RosterStore, ledger domain.ScoreLedger, polls domain.PollStore, notifier domain.PollNotifier, clock clockwork.Clock, cfg EngineConfig, m *metrics.PollMetrics) *Engine {
	return &Engine{
		roster:   roster,
		ledger:   ledger,
		polls:    polls,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		metrics:  m,
	}
}

// ObserveMember records activity of a member and applies the seed score the
// first time the member is seen in the chat.
func (e *Engine) ObserveMember(ctx context.Context, m domain.Member) (firstSeen bool, err error) {
	firstSeen, err = e.roster.TouchMember(ctx, m, e.clock.Now())
	if err != nil {
		return false, fmt.Errorf("touch member: %w", err)
	}
	if firstSeen {
		if err := e.applySeed(ctx, m); err != nil {
			return true, err
		}
	}
	return firstSeen, nil
}

// StartPoll opens a call-out poll against target on behalf of nominator.
func (e *Engine) StartPoll(ctx context.Context, chatID int64, nominator domain.Member, target domain.Member) (*domain.PollHandle, error) {
	handle, err := e.startPoll(ctx, chatID, nominator, target)
	if err != nil {
		e.metrics.Rejected(rejectReason(err))
		return nil, err
	}
	e.metrics.Opened()
	return handle, nil
}

func (e *Engine) startPoll(ctx context.Context, chatID int64, nominator domain.Member, target domain.Member) (*domain.PollHandle, error) {
	if target.UserID == 0 {
		return nil, domain.ErrNoTarget
	}

	nominator.ChatID = chatID
	if _, err := e.ObserveMember(ctx, nominator); err != nil {
		return nil, err
	}

	known, err := e.roster.GetMember(ctx, chatID, target.UserID)
	if errors.Is(err, domain.ErrMemberNotFound) {
		return nil, domain.ErrUnknownTarget
	}
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	if known.IsBot || target.IsBot {
		return nil, domain.ErrTargetIsBot
	}

	if err := e.checkTarget(ctx, chatID, target.UserID); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	poll, err := e.polls.CreatePoll(ctx, domain.NewPoll{
		ChatID:          chatID,
		TargetUserID:    target.UserID,
		NominatorUserID: nominator.UserID,
		CreatedAt:       now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyOpen) {
			return nil, err
		}
		return nil, fmt.Errorf("create poll: %w", err)
	}

	quorum, err := e.Quorum(ctx, chatID)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Poll opened",
		"poll_id", poll.ID, "chat_id", chatID, "target_user_id", target.UserID,
		"nominator_user_id", nominator.UserID, "quorum", quorum)

	e.notify(ctx, domain.NewPollEvent(domain.PollEventOpened, *poll, quorum, now))

	return &domain.PollHandle{Poll: *poll, Quorum: quorum, Target: *known}, nil
}

// checkTarget enforces the single-open-poll and cooldown rules against the
// most recent poll on (chat, target). A stale open poll is expired on the way.
func (e *Engine) checkTarget(ctx context.Context, chatID, targetUserID int64) error {
	latest, err := e.polls.LatestPollForTarget(ctx, chatID, targetUserID)
	if errors.Is(err, domain.ErrUnknownPoll) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load latest poll: %w", err)
	}

	now := e.clock.Now()
	switch latest.Status {
	case domain.PollOpen:
		if !e.timedOut(*latest, now) {
			return domain.ErrAlreadyOpen
		}
		if _, err := e.ExpirePoll(ctx, latest.ID); err != nil {
			return err
		}
		return nil
	case domain.PollExpired:
		return nil
	}

	resolvedAt := latest.CreatedAt
	if latest.ResolvedAt != nil {
		resolvedAt = *latest.ResolvedAt
	}
	elapsed := now.Sub(resolvedAt)
	if elapsed < e.cfg.TargetCooldown {
		remaining := e.cfg.TargetCooldown - elapsed
		return &domain.CooldownError{Remaining: time.Duration(math.Ceil(remaining.Seconds())) * time.Second}
	}
	return nil
}

// Quorum returns the votes needed on either side to resolve a poll in the chat.
// Every call counts the roster again, so a voter seen a moment ago is included.
func (e *Engine) Quorum(ctx context.Context, chatID int64) (int, error) {
	n, err := e.roster.NonBotMemberCount(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return domain.QuorumFor(n), nil
}

// viewQuorum is the quorum shown by read-only views. Concurrent readers of the
// same chat share one roster count; nothing that resolves a poll may use it.
func (e *Engine) viewQuorum(ctx context.Context, chatID int64) (int, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := e.quorumGroup.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
		return e.roster.NonBotMemberCount(shared, chatID)
	})
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return domain.QuorumFor(v.(int)), nil
}

// CastVote records voter's choice and resolves the poll once either side reaches
// quorum. For ErrPollClosed, ErrTimedOut and ErrDuplicateVote the returned
// Resolution still carries the current poll so callers can refresh the ballot.
func (e *Engine) CastVote(ctx context.Context, pollID int64, voter domain.Member, choice domain.Choice) (*domain.Resolution, error) {
	start := e.clock.Now()
	res, err := e.castVote(ctx, pollID, voter, choice)
	e.metrics.Vote(voteResult(res, err), e.clock.Since(start))
	return res, err
}

func (e *Engine) castVote(ctx context.Context, pollID int64, voter domain.Member, choice domain.Choice) (*domain.Resolution, error) {
	if !choice.Valid() {
		return nil, domain.ErrInvalidChoice
	}

	poll, err := e.polls.GetPoll(ctx, pollID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPoll) {
			return nil, err
		}
		return nil, fmt.Errorf("load poll: %w", err)
	}
	if voter.ChatID != 0 && voter.ChatID != poll.ChatID {
		return nil, domain.ErrUnknownPoll
	}
	if poll.Status.Terminal() {
		return &domain.Resolution{Poll: *poll}, domain.ErrPollClosed
	}

	if e.timedOut(*poll, e.clock.Now()) {
		if _, err := e.ExpirePoll(ctx, poll.ID); err != nil {
			return nil, err
		}
		return e.reload(ctx, poll.ID, domain.ErrTimedOut)
	}

	voter.ChatID = poll.ChatID
	if _, err := e.ObserveMember(ctx, voter); err != nil {
		return nil, err
	}

	err = e.polls.InsertVote(ctx, domain.Vote{
		PollID:      poll.ID,
		VoterUserID: voter.UserID,
		Choice:      choice,
		CastAt:      e.clock.Now(),
	})
	switch {
	case errors.Is(err, domain.ErrDuplicateVote), errors.Is(err, domain.ErrPollClosed):
		return e.reload(ctx, poll.ID, err)
	case err != nil:
		return nil, fmt.Errorf("insert vote: %w", err)
	}

	tally, err := e.polls.RefreshTally(ctx, poll.ID)
	if errors.Is(err, domain.ErrPollClosed) {
		// Another voter resolved the poll after our vote landed.
		return e.reload(ctx, poll.ID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh tally: %w", err)
	}
	poll.PlusCount = tally.Plus
	poll.MinusCount = tally.Minus

	quorum, err := e.Quorum(ctx, poll.ChatID)
	if err != nil {
		return nil, err
	}

	var outcome domain.PollStatus
	switch {
	case tally.Plus >= quorum:
		outcome = domain.PollPassed
	case tally.Minus >= quorum:
		outcome = domain.PollCancelled
	default:
		e.notify(ctx, domain.NewPollEvent(domain.PollEventUpdated, *poll, quorum, e.clock.Now()))
		return &domain.Resolution{Poll: *poll, Quorum: quorum}, nil
	}

	return e.resolve(ctx, poll, outcome, quorum)
}

// resolve performs the one-way transition and, for a pass, the single score increment.
func (e *Engine) resolve(ctx context.Context, poll *domain.Poll, outcome domain.PollStatus, quorum int) (*domain.Resolution, error) {
	now := e.clock.Now()
	ok, err := e.polls.TransitionPoll(ctx, poll.ID, outcome, now)
	if err != nil {
		return nil, fmt.Errorf("transition poll: %w", err)
	}
	if !ok {
		res, err := e.reload(ctx, poll.ID, nil)
		if res != nil {
			res.Quorum = quorum
		}
		return res, err
	}

	poll.Status = outcome
	poll.ResolvedAt = &now
	res := &domain.Resolution{Poll: *poll, Quorum: quorum}
	if target, err := e.roster.GetMember(ctx, poll.ChatID, poll.TargetUserID); err == nil {
		res.Target = *target
	}

	if outcome == domain.PollPassed {
		score, err := e.ledger.IncrementScore(ctx, poll.ChatID, poll.TargetUserID)
		if err != nil {
			return nil, fmt.Errorf("increment score: %w", err)
		}
		res.TargetScore = score
		e.metrics.Scored()
	}
	e.metrics.Resolved(string(outcome))

	slog.InfoContext(ctx, "Poll resolved",
		"poll_id", poll.ID, "chat_id", poll.ChatID, "status", outcome,
		"plus", poll.PlusCount, "minus", poll.MinusCount, "quorum", quorum)

	event := domain.NewPollEvent(domain.PollEventResolved, *poll, quorum, now)
	event.TargetScore = res.TargetScore
	e.notify(ctx, event)

	return res, nil
}

// ExpirePoll moves an open poll to expired. It reports false when the poll
// had already left the open state. Safe to call any number of times.
func (e *Engine) ExpirePoll(ctx context.Context, pollID int64) (bool, error) {
	now := e.clock.Now()
	ok, err := e.polls.TransitionPoll(ctx, pollID, domain.PollExpired, now)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPoll) {
			return false, err
		}
		return false, fmt.Errorf("expire poll: %w", err)
	}
	if !ok {
		return false, nil
	}

	e.metrics.Resolved(string(domain.PollExpired))
	slog.InfoContext(ctx, "Poll expired", "poll_id", pollID)

	if poll, err := e.polls.GetPoll(ctx, pollID); err == nil {
		e.notify(ctx, domain.NewPollEvent(domain.PollEventResolved, *poll, 0, now))
	}
	return true, nil
}

// ExpireStale expires every open poll older than the vote timeout and returns
// the polls it transitioned. It publishes nothing; the sweeper does.
func (e *Engine) ExpireStale(ctx context.Context) ([]domain.Poll, error) {
	if e.cfg.VoteTimeout <= 0 {
		return nil, nil
	}

	now := e.clock.Now()
	expired, err := e.polls.ExpireOpenPolls(ctx, now.Add(-e.cfg.VoteTimeout), now)
	if err != nil {
		return nil, fmt.Errorf("expire open polls: %w", err)
	}
	for range expired {
		e.metrics.Resolved(string(domain.PollExpired))
	}
	return expired, nil
}

// Poll returns the stored poll with the chat's current quorum.
func (e *Engine) Poll(ctx context.Context, pollID int64) (*domain.PollHandle, error) {
	poll, err := e.polls.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	quorum, err := e.viewQuorum(ctx, poll.ChatID)
	if err != nil {
		return nil, err
	}

	handle := &domain.PollHandle{Poll: *poll, Quorum: quorum}
	if target, err := e.roster.GetMember(ctx, poll.ChatID, poll.TargetUserID); err == nil {
		handle.Target = *target
	}
	return handle, nil
}

// MemberByHandle resolves an @handle to a tracked member of the chat.
func (e *Engine) MemberByHandle(ctx context.Context, chatID int64, handle string) (*domain.Member, error) {
	userID, err := e.roster.LookupUserByHandle(ctx, chatID, strings.TrimPrefix(handle, "@"))
	if err != nil {
		return nil, err
	}
	return e.roster.GetMember(ctx, chatID, userID)
}

// AttachMessage stores the presentation handle of the ballot message.
func (e *Engine) AttachMessage(ctx context.Context, pollID int64, ref string) error {
	return e.polls.SetMessageRef(ctx, pollID, ref)
}

// Standings returns the chat's scoreboard, highest score first.
func (e *Engine) Standings(ctx context.Context, chatID int64) ([]domain.Standing, error) {
	standings, err := e.ledger.ListStandings(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list standings: %w", err)
	}
	return standings, nil
}

func (e *Engine) timedOut(p domain.Poll, now time.Time) bool {
	return e.cfg.VoteTimeout > 0 && p.Age(now) >= e.cfg.VoteTimeout
}

// reload returns the current poll together with cause.
func (e *Engine) reload(ctx context.Context, pollID int64, cause error) (*domain.Resolution, error) {
	poll, err := e.polls.GetPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("reload poll: %w", err)
	}
	return &domain.Resolution{Poll: *poll}, cause
}

func (e *Engine) notify(ctx context.Context, event domain.PollEvent) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PublishPollEvent(ctx, event); err != nil {
		slog.WarnContext(ctx, "Failed to publish poll event",
			"poll_id", event.PollID, "type", event.Type, "error", err)
	}
}

func rejectReason(err error) string {
	var cooldown *domain.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return "cooldown"
	case errors.Is(err, domain.ErrAlreadyOpen):
		return "already_open"
	case errors.Is(err, domain.ErrNoTarget), errors.Is(err, domain.ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, domain.ErrTargetIsBot):
		return "bot_target"
	default:
		return "error"
	}
}

func voteResult(res *domain.Resolution, err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateVote):
		return "duplicate"
	case errors.Is(err, domain.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, domain.ErrPollClosed):
		return "closed"
	case errors.Is(err, domain.ErrUnknownPoll), errors.Is(err, domain.ErrInvalidChoice):
		return "rejected"
	case err != nil:
		return "error"
	case res != nil && res.Resolved():
		return string(res.Poll.Status)
	default:
		return "accepted"
	}
}
