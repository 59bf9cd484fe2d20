// Package memory keeps roster, scores and polls in process memory. It backs
// unit tests and single-instance runs without a database.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
)

type memberKey struct {
	ChatID int64
	UserID int64
}

type voteKey struct {
	PollID  int64
	VoterID int64
}

// Store implements domain.RosterStore, domain.ScoreLedger and domain.PollStore.
// One mutex guards everything, so every method is a single atomic step.
type Store struct {
	mu sync.Mutex

	members map[memberKey]*domain.Member
	scores  map[memberKey]int

	nextPollID int64
	polls      map[int64]*domain.Poll
	openPolls  map[memberKey]int64 // (chat, target) -> open poll id
	votes      map[voteKey]domain.Vote
	pollVotes  map[int64][]int64 // poll id -> voter ids in cast order
}

var (
	_ domain.RosterStore = (*Store)(nil)
	_ domain.ScoreLedger = (*Store)(nil)
	_ domain.PollStore   = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		members:   make(map[memberKey]*domain.Member),
		scores:    make(map[memberKey]int),
		polls:     make(map[int64]*domain.Poll),
		openPolls: make(map[memberKey]int64),
		votes:     make(map[voteKey]domain.Vote),
		pollVotes: make(map[int64][]int64),
	}
}

// --- roster ---

func (s *Store) TouchMember(_ context.Context, member domain.Member, seenAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{member.ChatID, member.UserID}
	existing, ok := s.members[key]
	if !ok {
		m := member
		m.FirstSeenAt = seenAt
		m.LastSeenAt = seenAt
		s.members[key] = &m
		return true, nil
	}

	existing.DisplayName = member.DisplayName
	existing.Handle = member.Handle
	existing.IsBot = member.IsBot
	existing.LastSeenAt = seenAt
	return false, nil
}

func (s *Store) GetMember(_ context.Context, chatID, userID int64) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberKey{chatID, userID}]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	out := *m
	return &out, nil
}

func (s *Store) LookupUserByHandle(_ context.Context, chatID int64, handle string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle = strings.TrimPrefix(handle, "@")
	for key, m := range s.members {
		if key.ChatID == chatID && m.Handle != "" && strings.EqualFold(m.Handle, handle) {
			return key.UserID, nil
		}
	}
	return 0, domain.ErrMemberNotFound
}

func (s *Store) NonBotMemberCount(_ context.Context, chatID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, m := range s.members {
		if key.ChatID == chatID && !m.IsBot {
			n++
		}
	}
	return n, nil
}

// --- ledger ---

func (s *Store) IncrementScore(_ context.Context, chatID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{chatID, userID}
	s.scores[key]++
	return s.scores[key], nil
}

func (s *Store) SetScore(_ context.Context, chatID, userID int64, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scores[memberKey{chatID, userID}] = score
	return nil
}

func (s *Store) GetScore(_ context.Context, chatID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scores[memberKey{chatID, userID}], nil
}

func (s *Store) ListStandings(_ context.Context, chatID int64) ([]domain.Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var standings []domain.Standing
	for key, m := range s.members {
		if key.ChatID != chatID || m.IsBot {
			continue
		}
		standings = append(standings, domain.Standing{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Handle:      m.Handle,
			Score:       s.scores[key],
		})
	}

	slices.SortFunc(standings, func(a, b domain.Standing) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return standings, nil
}

// --- polls ---

func (s *Store) CreatePoll(_ context.Context, p domain.NewPoll) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := memberKey{p.ChatID, p.TargetUserID}
	if _, open := s.openPolls[target]; open {
		return nil, domain.ErrAlreadyOpen
	}

	s.nextPollID++
	poll := &domain.Poll{
		ID:              s.nextPollID,
		ChatID:          p.ChatID,
		TargetUserID:    p.TargetUserID,
		NominatorUserID: p.NominatorUserID,
		Status:          domain.PollOpen,
		CreatedAt:       p.CreatedAt,
	}
	s.polls[poll.ID] = poll
	s.openPolls[target] = poll.ID

	out := *poll
	return &out, nil
}

func (s *Store) GetPoll(_ context.Context, pollID int64) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return nil, domain.ErrUnknownPoll
	}
	return clonePoll(p), nil
}

func (s *Store) LatestPollForTarget(_ context.Context, chatID, targetUserID int64) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.Poll
	for _, p := range s.polls {
		if p.ChatID != chatID || p.TargetUserID != targetUserID {
			continue
		}
		if latest == nil || p.ID > latest.ID {
			latest = p
		}
	}
	if latest == nil {
		return nil, domain.ErrUnknownPoll
	}
	return clonePoll(latest), nil
}

func (s *Store) SetMessageRef(_ context.Context, pollID int64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return domain.ErrUnknownPoll
	}
	p.MessageRef = ref
	return nil
}

func (s *Store) InsertVote(_ context.Context, v domain.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[v.PollID]
	if !ok {
		return domain.ErrUnknownPoll
	}
	if p.Status != domain.PollOpen {
		return domain.ErrPollClosed
	}
	key := voteKey{v.PollID, v.VoterUserID}
	if _, dup := s.votes[key]; dup {
		return domain.ErrDuplicateVote
	}

	s.votes[key] = v
	s.pollVotes[v.PollID] = append(s.pollVotes[v.PollID], v.VoterUserID)
	return nil
}

func (s *Store) ListVotes(_ context.Context, pollID int64) ([]domain.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	voters := s.pollVotes[pollID]
	votes := make([]domain.Vote, 0, len(voters))
	for _, voter := range voters {
		votes = append(votes, s.votes[voteKey{pollID, voter}])
	}
	return votes, nil
}

func (s *Store) RefreshTally(_ context.Context, pollID int64) (domain.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return domain.Tally{}, domain.ErrUnknownPoll
	}
	if p.Status != domain.PollOpen {
		return domain.Tally{Plus: p.PlusCount, Minus: p.MinusCount}, domain.ErrPollClosed
	}

	var tally domain.Tally
	for _, voter := range s.pollVotes[pollID] {
		switch s.votes[voteKey{pollID, voter}].Choice {
		case domain.ChoicePlus:
			tally.Plus++
		case domain.ChoiceMinus:
			tally.Minus++
		}
	}
	p.PlusCount = tally.Plus
	p.MinusCount = tally.Minus
	return tally, nil
}

func (s *Store) TransitionPoll(_ context.Context, pollID int64, to domain.PollStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return false, domain.ErrUnknownPoll
	}
	if p.Status != domain.PollOpen {
		return false, nil
	}
	s.resolve(p, to, at)
	return true, nil
}

func (s *Store) ExpireOpenPolls(_ context.Context, cutoff, at time.Time) ([]domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []domain.Poll
	for _, id := range s.openPolls {
		p := s.polls[id]
		if p.CreatedAt.After(cutoff) {
			continue
		}
		s.resolve(p, domain.PollExpired, at)
		expired = append(expired, *clonePoll(p))
	}
	slices.SortFunc(expired, func(a, b domain.Poll) int { return cmp.Compare(a.ID, b.ID) })
	return expired, nil
}

// resolve must be called with mu held.
func (s *Store) resolve(p *domain.Poll, to domain.PollStatus, at time.Time) {
	resolvedAt := at
	p.Status = to
	p.ResolvedAt = &resolvedAt
	delete(s.openPolls, memberKey{p.ChatID, p.TargetUserID})
}

func clonePoll(p *domain.Poll) *domain.Poll {
	out := *p
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
