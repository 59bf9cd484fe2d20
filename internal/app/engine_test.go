package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dixxi1208/GryazBot/internal/adapter/memory"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChat = int64(-1001)

var epoch = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.PollEvent
	err    error
}

func (n *recordingNotifier) PublishPollEvent(_ context.Context, event domain.PollEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) types() []domain.PollEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.PollEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type engineFixture struct {
	engine   *Engine
	store    *memory.Store
	clock    *clockwork.FakeClock
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(epoch)
	notifier := &recordingNotifier{}
	return &engineFixture{
		engine:   NewEngine(store, store, store, notifier, clock, cfg, nil),
		store:    store,
		clock:    clock,
		notifier: notifier,
	}
}

func defaultConfig() EngineConfig {
	return EngineConfig{TargetCooldown: 300 * time.Second, VoteTimeout: 600 * time.Second}
}

func user(id int64) domain.Member {
	return domain.Member{ChatID: testChat, UserID: id, DisplayName: fmt.Sprintf("user%d", id), Handle: fmt.Sprintf("user%d", id)}
}

// addMembers puts users 1..n into the roster.
func (f *engineFixture) addMembers(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := f.engine.ObserveMember(context.Background(), user(int64(i)))
		require.NoError(t, err)
	}
}

func (f *engineFixture) start(t *testing.T, nominator, target int64) *domain.PollHandle {
	t.Helper()
	h, err := f.engine.StartPoll(context.Background(), testChat, user(nominator), user(target))
	require.NoError(t, err)
	return h
}

func TestQuorum_FollowsLiveRoster(t *testing.T) {
	tests := []struct {
		members int
		want    int
	}{
		{1, 1}, {2, 1}, {3, 2}, {4, 2}, {7, 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d members", tt.members), func(t *testing.T) {
			f := newEngineFixture(t, defaultConfig())
			f.addMembers(t, tt.members)

			bot := user(99)
			bot.IsBot = true
			_, err := f.engine.ObserveMember(context.Background(), bot)
			require.NoError(t, err)

			q, err := f.engine.Quorum(context.Background(), testChat)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestStartPoll_OpensPoll(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 4)

	h := f.start(t, 1, 2)

	assert.Equal(t, domain.PollOpen, h.Poll.Status)
	assert.Equal(t, int64(2), h.Poll.TargetUserID)
	assert.Equal(t, int64(1), h.Poll.NominatorUserID)
	assert.Equal(t, 2, h.Quorum)
	assert.Equal(t, "user2", h.Target.DisplayName)
	assert.True(t, h.Poll.CreatedAt.Equal(epoch))
	assert.Equal(t, []domain.PollEventType{domain.PollEventOpened}, f.notifier.types())
}

func TestStartPoll_TargetValidation(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 2)
	bot := user(50)
	bot.IsBot = true
	_, err := f.engine.ObserveMember(context.Background(), bot)
	require.NoError(t, err)

	_, err = f.engine.StartPoll(context.Background(), testChat, user(1), domain.Member{})
	assert.ErrorIs(t, err, domain.ErrNoTarget)

	_, err = f.engine.StartPoll(context.Background(), testChat, user(1), user(77))
	assert.ErrorIs(t, err, domain.ErrUnknownTarget)

	_, err = f.engine.StartPoll(context.Background(), testChat, user(1), domain.Member{UserID: 50})
	assert.ErrorIs(t, err, domain.ErrTargetIsBot)
}

func TestStartPoll_SelfNominationAllowed(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 3)

	h := f.start(t, 1, 1)
	assert.Equal(t, int64(1), h.Poll.TargetUserID)
}

func TestStartPoll_RegistersUnknownNominator(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 2)

	f.start(t, 9, 2)

	m, err := f.store.GetMember(context.Background(), testChat, 9)
	require.NoError(t, err)
	assert.Equal(t, "user9", m.DisplayName)
}

func TestStartPoll_AlreadyOpenRegardlessOfNominator(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 5)
	f.start(t, 1, 2)

	for _, nominator := range []int64{1, 3, 4} {
		_, err := f.engine.StartPoll(context.Background(), testChat, user(nominator), user(2))
		assert.ErrorIs(t, err, domain.ErrAlreadyOpen, "nominator %d", nominator)
	}

	// Other targets are unaffected.
	f.start(t, 1, 3)
}

func TestStartPoll_CooldownBoundary(t *testing.T) {
	for _, outcome := range []domain.Choice{domain.ChoicePlus, domain.ChoiceMinus} {
		t.Run(string(outcome), func(t *testing.T) {
			f := newEngineFixture(t, defaultConfig())
			f.addMembers(t, 2) // quorum 1
			h := f.start(t, 1, 2)

			res, err := f.engine.CastVote(context.Background(), h.Poll.ID, user(1), outcome)
			require.NoError(t, err)
			require.True(t, res.Resolved())

			f.clock.Advance(299 * time.Second)
			_, err = f.engine.StartPoll(context.Background(), testChat, user(1), user(2))
			require.ErrorIs(t, err, domain.ErrCooldown)
			var cd *domain.CooldownError
			require.ErrorAs(t, err, &cd)
			assert.Equal(t, time.Second, cd.Remaining)

			f.clock.Advance(time.Second)
			_, err = f.engine.StartPoll(context.Background(), testChat, user(1), user(2))
			assert.NoError(t, err)
		})
	}
}

func TestStartPoll_CooldownRemainingRoundsUp(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 2)
	h := f.start(t, 1, 2)
	_, err := f.engine.CastVote(context.Background(), h.Poll.ID, user(1), domain.ChoicePlus)
	require.NoError(t, err)

	f.clock.Advance(100*time.Second + 300*time.Millisecond)
	_, err = f.engine.StartPoll(context.Background(), testChat, user(1), user(2))

	var cd *domain.CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, 200*time.Second, cd.Remaining)
}

func TestStartPoll_ExpiredImposesNoCooldown(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 3)
	h := f.start(t, 1, 2)

	ok, err := f.engine.ExpirePoll(context.Background(), h.Poll.ID)
	require.NoError(t, err)
	require.True(t, ok)

	next := f.start(t, 3, 2)
	assert.NotEqual(t, h.Poll.ID, next.Poll.ID)
}

func TestStartPoll_StaleOpenPollIsExpiredFirst(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 3)
	h := f.start(t, 1, 2)

	f.clock.Advance(601 * time.Second)
	next := f.start(t, 3, 2)

	old, err := f.store.GetPoll(context.Background(), h.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollExpired, old.Status)
	assert.Equal(t, domain.PollOpen, next.Poll.Status)
}

func TestCastVote_PassesOnceAndIgnoresLateVotes(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 6) // users 1..5 vote on user 6; quorum 3
	ctx := context.Background()
	h := f.start(t, 1, 6)
	require.Equal(t, 3, h.Quorum)

	res, err := f.engine.CastVote(ctx, h.Poll.ID, user(1), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, domain.PollOpen, res.Poll.Status)

	res, err = f.engine.CastVote(ctx, h.Poll.ID, user(2), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Poll.PlusCount)
	assert.Equal(t, domain.PollOpen, res.Poll.Status)

	res, err = f.engine.CastVote(ctx, h.Poll.ID, user(3), domain.ChoiceMinus)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Poll.MinusCount)
	assert.Equal(t, domain.PollOpen, res.Poll.Status)

	res, err = f.engine.CastVote(ctx, h.Poll.ID, user(4), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Poll.PlusCount)
	assert.Equal(t, domain.PollPassed, res.Poll.Status)
	assert.Equal(t, 1, res.TargetScore)

	// A later vote is a no-op and does not score again.
	res, err = f.engine.CastVote(ctx, h.Poll.ID, user(5), domain.ChoicePlus)
	require.ErrorIs(t, err, domain.ErrPollClosed)
	assert.Equal(t, 3, res.Poll.PlusCount)

	score, err := f.store.GetScore(ctx, testChat, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, score)

	assert.Equal(t, []domain.PollEventType{
		domain.PollEventOpened,
		domain.PollEventUpdated,
		domain.PollEventUpdated,
		domain.PollEventUpdated,
		domain.PollEventResolved,
	}, f.notifier.types())
}

func TestCastVote_FiveMembersQuorumThree(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 5)
	ctx := context.Background()
	h := f.start(t, 1, 5)
	require.Equal(t, 3, h.Quorum)

	for _, v := range []struct {
		voter  int64
		choice domain.Choice
	}{{1, domain.ChoicePlus}, {2, domain.ChoicePlus}, {3, domain.ChoiceMinus}} {
		res, err := f.engine.CastVote(ctx, h.Poll.ID, user(v.voter), v.choice)
		require.NoError(t, err)
		require.Equal(t, domain.PollOpen, res.Poll.Status)
	}

	res, err := f.engine.CastVote(ctx, h.Poll.ID, user(4), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, domain.PollPassed, res.Poll.Status)
	assert.Equal(t, 1, res.TargetScore)
}

func TestCastVote_CancelledOnMinusQuorum(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 3)
	ctx := context.Background()
	h := f.start(t, 1, 2)

	_, err := f.engine.CastVote(ctx, h.Poll.ID, user(1), domain.ChoiceMinus)
	require.NoError(t, err)
	res, err := f.engine.CastVote(ctx, h.Poll.ID, user(3), domain.ChoiceMinus)
	require.NoError(t, err)

	assert.Equal(t, domain.PollCancelled, res.Poll.Status)
	assert.Zero(t, res.TargetScore)
	score, err := f.store.GetScore(ctx, testChat, 2)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestCastVote_DuplicateIsRejected(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 5)
	ctx := context.Background()
	h := f.start(t, 1, 2)

	_, err := f.engine.CastVote(ctx, h.Poll.ID, user(3), domain.ChoicePlus)
	require.NoError(t, err)

	res, err := f.engine.CastVote(ctx, h.Poll.ID, user(3), domain.ChoiceMinus)
	require.ErrorIs(t, err, domain.ErrDuplicateVote)
	assert.Equal(t, 1, res.Poll.PlusCount)
	assert.Zero(t, res.Poll.MinusCount)

	votes, err := f.store.ListVotes(ctx, h.Poll.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, domain.ChoicePlus, votes[0].Choice)
}

func TestCastVote_TimedOut(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 5)
	ctx := context.Background()
	h := f.start(t, 1, 2)

	_, err := f.engine.CastVote(ctx, h.Poll.ID, user(3), domain.ChoicePlus)
	require.NoError(t, err)

	f.clock.Advance(700 * time.Second)
	res, err := f.engine.CastVote(ctx, h.Poll.ID, user(4), domain.ChoicePlus)
	require.ErrorIs(t, err, domain.ErrTimedOut)
	assert.Equal(t, domain.PollExpired, res.Poll.Status)

	stored, err := f.store.GetPoll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollExpired, stored.Status)
	assert.Equal(t, 1, stored.PlusCount)
	assert.Zero(t, stored.MinusCount)

	// Once expired, further votes are plain closed-poll rejections.
	_, err = f.engine.CastVote(ctx, h.Poll.ID, user(5), domain.ChoicePlus)
	assert.ErrorIs(t, err, domain.ErrPollClosed)
}

func TestCastVote_TimeoutBoundary(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 5)
	h := f.start(t, 1, 2)

	f.clock.Advance(599 * time.Second)
	_, err := f.engine.CastVote(context.Background(), h.Poll.ID, user(3), domain.ChoicePlus)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	_, err = f.engine.CastVote(context.Background(), h.Poll.ID, user(4), domain.ChoicePlus)
	assert.ErrorIs(t, err, domain.ErrTimedOut)
}

func TestCastVote_NoTimeoutWhenDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.VoteTimeout = 0
	f := newEngineFixture(t, cfg)
	f.addMembers(t, 5)
	h := f.start(t, 1, 2)

	f.clock.Advance(24 * time.Hour)
	res, err := f.engine.CastVote(context.Background(), h.Poll.ID, user(3), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, domain.PollOpen, res.Poll.Status)

	expired, err := f.engine.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestCastVote_UnknownPollAndChoice(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())

	_, err := f.engine.CastVote(context.Background(), 404, user(1), domain.ChoicePlus)
	assert.ErrorIs(t, err, domain.ErrUnknownPoll)

	_, err = f.engine.CastVote(context.Background(), 404, user(1), domain.Choice("meh"))
	assert.ErrorIs(t, err, domain.ErrInvalidChoice)
}

func TestCastVote_QuorumRecomputedPerVote(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 6) // quorum 3
	ctx := context.Background()
	h := f.start(t, 1, 6)

	_, err := f.engine.CastVote(ctx, h.Poll.ID, user(1), domain.ChoicePlus)
	require.NoError(t, err)

	// New members raise the bar for votes still to come.
	for i := int64(7); i <= 10; i++ {
		_, err := f.engine.ObserveMember(ctx, user(i))
		require.NoError(t, err)
	}

	for _, voter := range []int64{2, 3, 4} {
		res, err := f.engine.CastVote(ctx, h.Poll.ID, user(voter), domain.ChoicePlus)
		require.NoError(t, err)
		assert.Equal(t, 5, res.Quorum)
		assert.Equal(t, domain.PollOpen, res.Poll.Status)
	}

	res, err := f.engine.CastVote(ctx, h.Poll.ID, user(5), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, domain.PollPassed, res.Poll.Status)
}

func TestCastVote_ConcurrentVotersScoreOnce(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 4) // quorum 2
	ctx := context.Background()
	h := f.start(t, 1, 4)

	var wg sync.WaitGroup
	for voter := int64(1); voter <= 3; voter++ {
		voter := voter
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CastVote(ctx, h.Poll.ID, user(voter), domain.ChoicePlus)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrPollClosed)
			}
		}()
	}
	wg.Wait()

	stored, err := f.store.GetPoll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollPassed, stored.Status)

	score, err := f.store.GetScore(ctx, testChat, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, score)
}

func TestCastVote_NotifierFailureIsSwallowed(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.notifier.err = errors.New("redis down")
	f.addMembers(t, 2)

	h := f.start(t, 1, 2)
	res, err := f.engine.CastVote(context.Background(), h.Poll.ID, user(1), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, domain.PollPassed, res.Poll.Status)
}

func TestCastVote_NilNotifier(t *testing.T) {
	store := memory.NewStore()
	e := NewEngine(store, store, store, nil, clockwork.NewFakeClockAt(epoch), defaultConfig(), nil)
	ctx := context.Background()
	for i := int64(1); i <= 2; i++ {
		_, err := e.ObserveMember(ctx, user(i))
		require.NoError(t, err)
	}

	h, err := e.StartPoll(ctx, testChat, user(1), user(2))
	require.NoError(t, err)
	_, err = e.CastVote(ctx, h.Poll.ID, user(2), domain.ChoicePlus)
	assert.NoError(t, err)
}

func TestExpirePoll_Idempotent(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 3)
	ctx := context.Background()
	h := f.start(t, 1, 2)
	_, err := f.engine.CastVote(ctx, h.Poll.ID, user(3), domain.ChoicePlus)
	require.NoError(t, err)

	ok, err := f.engine.ExpirePoll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.ExpirePoll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := f.store.GetPoll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollExpired, stored.Status)
	assert.Equal(t, 1, stored.PlusCount)

	_, err = f.engine.ExpirePoll(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrUnknownPoll)
}

func TestExpirePoll_DoesNotTouchResolvedPoll(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 2)
	ctx := context.Background()
	h := f.start(t, 1, 2)
	_, err := f.engine.CastVote(ctx, h.Poll.ID, user(1), domain.ChoicePlus)
	require.NoError(t, err)

	ok, err := f.engine.ExpirePoll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := f.store.GetPoll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollPassed, stored.Status)
}

func TestExpireStale(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 4)
	ctx := context.Background()

	old := f.start(t, 1, 2)
	f.clock.Advance(400 * time.Second)
	fresh := f.start(t, 1, 3)
	f.clock.Advance(200 * time.Second)

	expired, err := f.engine.ExpireStale(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.Poll.ID, expired[0].ID)

	again, err := f.engine.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	stored, err := f.store.GetPoll(ctx, fresh.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollOpen, stored.Status)
}

func TestObserveMember_SeedImportOverwrites(t *testing.T) {
	cfg := defaultConfig()
	cfg.Seeds = domain.NewSeedScores(map[string]int{"alice": 5})
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.store.SetScore(ctx, testChat, 42, 3))

	first, err := f.engine.ObserveMember(ctx, domain.Member{ChatID: testChat, UserID: 42, DisplayName: "Al", Handle: "Alice"})
	require.NoError(t, err)
	assert.True(t, first)

	score, err := f.store.GetScore(ctx, testChat, 42)
	require.NoError(t, err)
	assert.Equal(t, 5, score)

	// Only on first sight.
	_, err = f.store.IncrementScore(ctx, testChat, 42)
	require.NoError(t, err)
	first, err = f.engine.ObserveMember(ctx, domain.Member{ChatID: testChat, UserID: 42, DisplayName: "Al", Handle: "Alice"})
	require.NoError(t, err)
	assert.False(t, first)

	score, err = f.store.GetScore(ctx, testChat, 42)
	require.NoError(t, err)
	assert.Equal(t, 6, score)
}

func TestObserveMember_SeedByDisplayName(t *testing.T) {
	cfg := defaultConfig()
	cfg.Seeds = domain.NewSeedScores(map[string]int{"Big Bob": 7})
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	_, err := f.engine.ObserveMember(ctx, domain.Member{ChatID: testChat, UserID: 8, DisplayName: "big bob"})
	require.NoError(t, err)

	score, err := f.store.GetScore(ctx, testChat, 8)
	require.NoError(t, err)
	assert.Equal(t, 7, score)
}

func TestEngine_PollAndStandings(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 2)
	ctx := context.Background()
	h := f.start(t, 1, 2)

	require.NoError(t, f.engine.AttachMessage(ctx, h.Poll.ID, "chat:-1001/msg:5"))
	got, err := f.engine.Poll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, "chat:-1001/msg:5", got.Poll.MessageRef)
	assert.Equal(t, "user2", got.Target.DisplayName)

	_, err = f.engine.CastVote(ctx, h.Poll.ID, user(1), domain.ChoicePlus)
	require.NoError(t, err)

	standings, err := f.engine.Standings(ctx, testChat)
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, int64(2), standings[0].UserID)
	assert.Equal(t, 1, standings[0].Score)
}

// gatedRoster blocks the first NonBotMemberCount until release is closed.
type gatedRoster struct {
	domain.RosterStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRoster) NonBotMemberCount(ctx context.Context, chatID int64) (int, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.RosterStore.NonBotMemberCount(ctx, chatID)
}

func TestCastVote_QuorumIncludesVoterSeenDuringSlowCount(t *testing.T) {
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(epoch)
	roster := &gatedRoster{RosterStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	engine := NewEngine(roster, store, store, nil, clock, defaultConfig(), nil)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, err := store.TouchMember(ctx, user(id), epoch)
		require.NoError(t, err)
	}
	poll, err := store.CreatePoll(ctx, domain.NewPoll{ChatID: testChat, TargetUserID: 1, NominatorUserID: 2, CreatedAt: epoch})
	require.NoError(t, err)

	staleQuorum := make(chan int, 1)
	go func() {
		q, _ := engine.Quorum(ctx, testChat)
		staleQuorum <- q
	}()
	<-roster.entered

	// User 3 is first seen by this vote, so the roster grows to 3 and quorum to 2.
	res, err := engine.CastVote(ctx, poll.ID, user(3), domain.ChoicePlus)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quorum)
	assert.Equal(t, domain.PollOpen, res.Poll.Status)
	assert.Equal(t, 1, res.Poll.PlusCount)

	close(roster.release)
	assert.Equal(t, 2, <-staleQuorum)

	score, err := store.GetScore(ctx, testChat, 1)
	require.NoError(t, err)
	assert.Zero(t, score)
}

// cancelAwareRoster fails counts whose context is already done.
type cancelAwareRoster struct {
	domain.RosterStore
}

func (r cancelAwareRoster) NonBotMemberCount(ctx context.Context, chatID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.RosterStore.NonBotMemberCount(ctx, chatID)
}

func TestPoll_ViewQuorumSurvivesCancelledReader(t *testing.T) {
	f := newEngineFixture(t, defaultConfig())
	f.addMembers(t, 3)
	h := f.start(t, 1, 2)
	engine := NewEngine(cancelAwareRoster{f.store}, f.store, f.store, nil, f.clock, defaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Quorum(ctx, testChat)
	require.ErrorIs(t, err, context.Canceled)

	view, err := engine.Poll(ctx, h.Poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Quorum)
}
