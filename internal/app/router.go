package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
)

const (
	groupOnlyText = "This command works only in group chats."
	helpText      = "Hi! I'm a gryaz counter.\n\n" +
		"• Reply to someone with /gryaz (or use /gryaz @username) to start a vote (+ / –)\n" +
		"• When + votes reach half of non-bot members, the vote closes and the target gets +1\n" +
		"• If – votes reach half, the poll is cancelled\n" +
		"• /stats shows scores"
	unknownHandleText = "I don't know that @username yet. They need to send at least one message in this group first."
	noTargetText      = "Select a target: reply to their message with /gryaz or use /gryaz @username (after they've spoken at least once)."
	botTargetText     = "You can't start a gryaz vote on a bot."
	duplicateText     = "You already voted!"
	invalidVoteText   = "Invalid vote."
	noMembersText     = "No members tracked yet."
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]{2,32})`)

type pollEngine interface {
	ObserveMember(ctx context.Context, m domain.Member) (bool, error)
	StartPoll(ctx context.Context, chatID int64, nominator, target domain.Member) (*domain.PollHandle, error)
	CastVote(ctx context.Context, pollID int64, voter domain.Member, choice domain.Choice) (*domain.Resolution, error)
	MemberByHandle(ctx context.Context, chatID int64, handle string) (*domain.Member, error)
	Standings(ctx context.Context, chatID int64) ([]domain.Standing, error)
}

// Router turns inbound chat events into engine calls and replies for the
// transport bridge. A nil Reply means the event needs no answer.
type Router struct {
	engine      pollEngine
	botUsername string
}

func NewRouter(engine pollEngine, botUsername string) *Router {
	return &Router{engine: engine, botUsername: strings.TrimPrefix(botUsername, "@")}
}

func (r *Router) Handle(ctx context.Context, ev domain.ChatEvent) (*domain.Reply, error) {
	if ev.Chat.IsGroup() {
		if err := r.observe(ctx, ev); err != nil {
			return nil, err
		}
	}

	if ev.Callback != nil {
		if ev.From == nil || !ev.Chat.IsGroup() {
			return nil, nil
		}
		return r.handleVote(ctx, ev)
	}

	cmd, args, ok := r.parseCommand(ev.Text)
	if !ok || ev.From == nil {
		return nil, nil
	}

	switch cmd {
	case "start", "help":
		return &domain.Reply{Text: helpText}, nil
	case "gryaz", "stats":
		if !ev.Chat.IsGroup() {
			return &domain.Reply{Text: groupOnlyText}, nil
		}
	default:
		return nil, nil
	}

	if cmd == "stats" {
		return r.handleStats(ctx, ev.Chat.ID)
	}
	return r.handleNomination(ctx, ev, args)
}

// observe records every user the event reveals.
func (r *Router) observe(ctx context.Context, ev domain.ChatEvent) error {
	for _, u := range []*domain.User{ev.From, ev.ReplyTo, ev.MemberUpdate} {
		if u == nil || u.ID == 0 {
			continue
		}
		if _, err := r.engine.ObserveMember(ctx, u.Member(ev.Chat.ID)); err != nil {
			return err
		}
	}
	return nil
}

// parseCommand splits "/gryaz@bot @alice" into ("gryaz", "@alice"). Commands
// addressed to another bot are ignored.
func (r *Router) parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, args, _ := strings.Cut(text[1:], " ")
	cmd, addressee, addressed := strings.Cut(head, "@")
	if addressed && r.botUsername != "" && !strings.EqualFold(addressee, r.botUsername) {
		return "", "", false
	}
	return strings.ToLower(cmd), strings.TrimSpace(args), cmd != ""
}

func (r *Router) handleNomination(ctx context.Context, ev domain.ChatEvent, args string) (*domain.Reply, error) {
	nominator := ev.From.Member(ev.Chat.ID)

	var target domain.Member
	switch {
	case ev.ReplyTo != nil:
		target = ev.ReplyTo.Member(ev.Chat.ID)
	default:
		mention := mentionPattern.FindStringSubmatch(args)
		if mention == nil {
			return &domain.Reply{Text: noTargetText}, nil
		}
		m, err := r.engine.MemberByHandle(ctx, ev.Chat.ID, mention[1])
		if errors.Is(err, domain.ErrMemberNotFound) {
			return &domain.Reply{Text: unknownHandleText}, nil
		}
		if err != nil {
			return nil, err
		}
		target = *m
	}

	handle, err := r.engine.StartPoll(ctx, ev.Chat.ID, nominator, target)
	var cooldown *domain.CooldownError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoTarget):
		return &domain.Reply{Text: noTargetText}, nil
	case errors.Is(err, domain.ErrUnknownTarget):
		return &domain.Reply{Text: unknownHandleText}, nil
	case errors.Is(err, domain.ErrTargetIsBot):
		return &domain.Reply{Text: botTargetText}, nil
	case errors.Is(err, domain.ErrAlreadyOpen):
		return &domain.Reply{Text: fmt.Sprintf("There is already an open gryaz vote for %s.", target.Label())}, nil
	case errors.As(err, &cooldown):
		return &domain.Reply{Text: fmt.Sprintf("%s was voted on recently. Try again in %s.",
			target.Label(), formatRemaining(cooldown.Remaining))}, nil
	default:
		return nil, err
	}

	slog.DebugContext(ctx, "Nomination accepted", "poll_id", handle.Poll.ID, "chat_id", ev.Chat.ID)
	return &domain.Reply{
		Text: fmt.Sprintf("Gryaz vote started for %s.\nNeed %d 👍 or 👎 to decide.",
			handle.Target.Label(), handle.Quorum),
		Ballot: ballot(handle.Poll.ID),
		PollID: handle.Poll.ID,
	}, nil
}

func (r *Router) handleVote(ctx context.Context, ev domain.ChatEvent) (*domain.Reply, error) {
	pollID, choice, ok := parseVoteData(ev.Callback.Data)
	if !ok {
		return &domain.Reply{Text: invalidVoteText, Alert: true}, nil
	}

	res, err := r.engine.CastVote(ctx, pollID, ev.From.Member(ev.Chat.ID), choice)
	switch {
	case errors.Is(err, domain.ErrDuplicateVote):
		return &domain.Reply{Text: duplicateText, Alert: true, PollID: pollID}, nil
	case errors.Is(err, domain.ErrTimedOut):
		return &domain.Reply{Text: "⌛ Gryaz vote expired.", EditMessage: true, StripBallot: true, PollID: pollID}, nil
	case errors.Is(err, domain.ErrPollClosed), errors.Is(err, domain.ErrUnknownPoll):
		return &domain.Reply{StripBallot: true, PollID: pollID}, nil
	case err != nil:
		return nil, err
	}

	p := res.Poll
	tally := fmt.Sprintf("(👍 %d / 👎 %d, needed %d)", p.PlusCount, p.MinusCount, res.Quorum)
	switch p.Status {
	case domain.PollPassed:
		return &domain.Reply{
			Text:        fmt.Sprintf("✅ Gryaz vote passed for %s. %s\nScore updated: +1.", res.Target.Label(), tally),
			EditMessage: true,
			StripBallot: true,
			PollID:      pollID,
		}, nil
	case domain.PollCancelled:
		return &domain.Reply{
			Text:        fmt.Sprintf("❌ Gryaz vote cancelled.\n%s", tally),
			EditMessage: true,
			StripBallot: true,
			PollID:      pollID,
		}, nil
	case domain.PollOpen:
		return &domain.Reply{
			Text:        fmt.Sprintf("Vote in progress...\n👍 %d / 👎 %d (need %d)", p.PlusCount, p.MinusCount, res.Quorum),
			Ballot:      ballot(pollID),
			EditMessage: true,
			PollID:      pollID,
		}, nil
	default:
		// Resolved by someone else between our vote and the transition.
		return &domain.Reply{StripBallot: true, PollID: pollID}, nil
	}
}

func (r *Router) handleStats(ctx context.Context, chatID int64) (*domain.Reply, error) {
	standings, err := r.engine.Standings(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(standings) == 0 {
		return &domain.Reply{Text: noMembersText}, nil
	}

	var b strings.Builder
	b.WriteString("Gryaz stats:")
	for _, s := range standings {
		label := s.DisplayName
		if label == "" {
			label = "user"
		}
		if s.Handle != "" {
			label += " (@" + s.Handle + ")"
		}
		fmt.Fprintf(&b, "\n%s: %d", label, s.Score)
	}
	return &domain.Reply{Text: b.String()}, nil
}

func ballot(pollID int64) *domain.Ballot {
	return &domain.Ballot{
		PollID: pollID,
		Buttons: []domain.Button{
			{Label: "👍 +", Data: VoteData(pollID, domain.ChoicePlus)},
			{Label: "👎 –", Data: VoteData(pollID, domain.ChoiceMinus)},
		},
	}
}

// VoteData is the callback payload of a ballot button.
func VoteData(pollID int64, choice domain.Choice) string {
	return fmt.Sprintf("vote:%d:%s", pollID, choice)
}

func parseVoteData(data string) (int64, domain.Choice, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != "vote" {
		return 0, "", false
	}
	pollID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || pollID <= 0 {
		return 0, "", false
	}
	choice, err := domain.ParseChoice(parts[2])
	if err != nil {
		return 0, "", false
	}
	return pollID, choice, true
}

func formatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
