// Package storetest holds behaviour tests shared by every store adapter.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the union of the persistence contracts.
type Store interface {
	domain.RosterStore
	domain.ScoreLedger
	domain.PollStore
}

// Factory returns an empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const chat = int64(-100)

// Run executes the shared contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("TouchMember reports first sight", func(t *testing.T) { testTouchMember(t, newStore(t)) })
	t.Run("LookupUserByHandle ignores case", func(t *testing.T) { testLookupHandle(t, newStore(t)) })
	t.Run("NonBotMemberCount skips bots and other chats", func(t *testing.T) { testMemberCount(t, newStore(t)) })
	t.Run("IncrementScore upserts", func(t *testing.T) { testIncrementScore(t, newStore(t)) })
	t.Run("ListStandings orders by score then name", func(t *testing.T) { testStandings(t, newStore(t)) })
	t.Run("CreatePoll allows one open poll per target", func(t *testing.T) { testOneOpenPoll(t, newStore(t)) })
	t.Run("InsertVote is first-vote-final", func(t *testing.T) { testInsertVote(t, newStore(t)) })
	t.Run("InsertVote rejects resolved polls", func(t *testing.T) { testInsertVoteClosed(t, newStore(t)) })
	t.Run("TransitionPoll happens once", func(t *testing.T) { testTransitionOnce(t, newStore(t)) })
	t.Run("ExpireOpenPolls respects cutoff", func(t *testing.T) { testExpireOpenPolls(t, newStore(t)) })
	t.Run("lazy and batch expiry transition once", func(t *testing.T) { testExpiryPathsAgree(t, newStore(t)) })
	t.Run("LatestPollForTarget", func(t *testing.T) { testLatestPoll(t, newStore(t)) })
	t.Run("concurrent votes are counted once each", func(t *testing.T) { testConcurrentVotes(t, newStore(t)) })
}

func member(userID int64, name, handle string) domain.Member {
	return domain.Member{ChatID: chat, UserID: userID, DisplayName: name, Handle: handle}
}

func openPoll(t *testing.T, s Store, target int64) *domain.Poll {
	t.Helper()
	p, err := s.CreatePoll(context.Background(), domain.NewPoll{
		ChatID: chat, TargetUserID: target, NominatorUserID: 1, CreatedAt: base,
	})
	require.NoError(t, err)
	return p
}

func testTouchMember(t *testing.T, s Store) {
	ctx := context.Background()

	first, err := s.TouchMember(ctx, member(1, "Alice", "alice"), base)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.TouchMember(ctx, member(1, "Alice B", "alice_b"), base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, first)

	m, err := s.GetMember(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice B", m.DisplayName)
	assert.Equal(t, "alice_b", m.Handle)
	assert.True(t, m.FirstSeenAt.Equal(base))
	assert.True(t, m.LastSeenAt.Equal(base.Add(time.Minute)))

	_, err = s.GetMember(ctx, chat, 99)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func testLookupHandle(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.TouchMember(ctx, member(7, "Bob", "BobTheBuilder"), base)
	require.NoError(t, err)

	id, err := s.LookupUserByHandle(ctx, chat, "bobthebuilder")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = s.LookupUserByHandle(ctx, chat+1, "bobthebuilder")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func testMemberCount(t *testing.T, s Store) {
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_, err := s.TouchMember(ctx, member(i, "user", ""), base)
		require.NoError(t, err)
	}
	bot := member(50, "Helper", "helper_bot")
	bot.IsBot = true
	_, err := s.TouchMember(ctx, bot, base)
	require.NoError(t, err)
	other := member(60, "Elsewhere", "")
	other.ChatID = chat + 1
	_, err = s.TouchMember(ctx, other, base)
	require.NoError(t, err)

	n, err := s.NonBotMemberCount(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testIncrementScore(t *testing.T, s Store) {
	ctx := context.Background()

	score, err := s.GetScore(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, score)

	score, err = s.IncrementScore(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, score)

	require.NoError(t, s.SetScore(ctx, chat, 1, 5))
	score, err = s.IncrementScore(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, score)
}

func testStandings(t *testing.T, s Store) {
	ctx := context.Background()
	for _, m := range []domain.Member{member(1, "Carol", ""), member(2, "Alice", ""), member(3, "Bob", "")} {
		_, err := s.TouchMember(ctx, m, base)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetScore(ctx, chat, 3, 2))

	standings, err := s.ListStandings(ctx, chat)
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, "Bob", standings[0].DisplayName)
	assert.Equal(t, 2, standings[0].Score)
	assert.Equal(t, "Alice", standings[1].DisplayName)
	assert.Equal(t, "Carol", standings[2].DisplayName)
}

func testOneOpenPoll(t *testing.T, s Store) {
	ctx := context.Background()
	first := openPoll(t, s, 2)
	assert.Equal(t, domain.PollOpen, first.Status)
	assert.Zero(t, first.PlusCount)

	_, err := s.CreatePoll(ctx, domain.NewPoll{ChatID: chat, TargetUserID: 2, NominatorUserID: 3, CreatedAt: base})
	require.ErrorIs(t, err, domain.ErrAlreadyOpen)

	ok, err := s.TransitionPoll(ctx, first.ID, domain.PollCancelled, base.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	second := openPoll(t, s, 2)
	assert.Greater(t, second.ID, first.ID)
}

func testInsertVote(t *testing.T, s Store) {
	ctx := context.Background()
	p := openPoll(t, s, 2)

	require.NoError(t, s.InsertVote(ctx, domain.Vote{PollID: p.ID, VoterUserID: 3, Choice: domain.ChoicePlus, CastAt: base}))
	err := s.InsertVote(ctx, domain.Vote{PollID: p.ID, VoterUserID: 3, Choice: domain.ChoiceMinus, CastAt: base})
	require.ErrorIs(t, err, domain.ErrDuplicateVote)
	require.NoError(t, s.InsertVote(ctx, domain.Vote{PollID: p.ID, VoterUserID: 4, Choice: domain.ChoiceMinus, CastAt: base}))

	tally, err := s.RefreshTally(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Tally{Plus: 1, Minus: 1}, tally)

	votes, err := s.ListVotes(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, domain.ChoicePlus, votes[0].Choice)

	got, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PlusCount)
	assert.Equal(t, 1, got.MinusCount)
}

func testInsertVoteClosed(t *testing.T, s Store) {
	ctx := context.Background()
	p := openPoll(t, s, 2)
	require.NoError(t, s.InsertVote(ctx, domain.Vote{PollID: p.ID, VoterUserID: 3, Choice: domain.ChoicePlus, CastAt: base}))
	_, err := s.RefreshTally(ctx, p.ID)
	require.NoError(t, err)

	ok, err := s.TransitionPoll(ctx, p.ID, domain.PollExpired, base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	err = s.InsertVote(ctx, domain.Vote{PollID: p.ID, VoterUserID: 4, Choice: domain.ChoicePlus, CastAt: base})
	assert.ErrorIs(t, err, domain.ErrPollClosed)

	_, err = s.RefreshTally(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrPollClosed)

	got, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PlusCount)

	_, err = s.GetPoll(ctx, p.ID+1000)
	assert.ErrorIs(t, err, domain.ErrUnknownPoll)
}

func testTransitionOnce(t *testing.T, s Store) {
	ctx := context.Background()
	p := openPoll(t, s, 2)

	ok, err := s.TransitionPoll(ctx, p.ID, domain.PollPassed, base.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionPoll(ctx, p.ID, domain.PollCancelled, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollPassed, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(base.Add(time.Second)))
}

func testExpireOpenPolls(t *testing.T, s Store) {
	ctx := context.Background()
	old := openPoll(t, s, 2)
	fresh, err := s.CreatePoll(ctx, domain.NewPoll{ChatID: chat, TargetUserID: 3, NominatorUserID: 1, CreatedAt: base.Add(10 * time.Minute)})
	require.NoError(t, err)

	expired, err := s.ExpireOpenPolls(ctx, base.Add(5*time.Minute), base.Add(11*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.Equal(t, domain.PollExpired, expired[0].Status)

	again, err := s.ExpireOpenPolls(ctx, base.Add(5*time.Minute), base.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	got, err := s.GetPoll(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollOpen, got.Status)
}

func testExpiryPathsAgree(t *testing.T, s Store) {
	ctx := context.Background()
	lazy := openPoll(t, s, 2)
	batch := openPoll(t, s, 3)

	ok, err := s.TransitionPoll(ctx, lazy.ID, domain.PollExpired, base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	expired, err := s.ExpireOpenPolls(ctx, base.Add(time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, batch.ID, expired[0].ID)

	ok, err = s.TransitionPoll(ctx, batch.ID, domain.PollExpired, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetPoll(ctx, lazy.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(base.Add(time.Hour)))

	got, err = s.GetPoll(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(base.Add(2*time.Hour)))
}

func testLatestPoll(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.LatestPollForTarget(ctx, chat, 2)
	require.ErrorIs(t, err, domain.ErrUnknownPoll)

	first := openPoll(t, s, 2)
	_, err = s.TransitionPoll(ctx, first.ID, domain.PollCancelled, base)
	require.NoError(t, err)
	second := openPoll(t, s, 2)
	require.NoError(t, s.SetMessageRef(ctx, second.ID, "msg-42"))

	latest, err := s.LatestPollForTarget(ctx, chat, 2)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "msg-42", latest.MessageRef)
}

func testConcurrentVotes(t *testing.T, s Store) {
	ctx := context.Background()
	p := openPoll(t, s, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(voter int64) {
			defer wg.Done()
			errs <- s.InsertVote(ctx, domain.Vote{PollID: p.ID, VoterUserID: voter, Choice: domain.ChoicePlus, CastAt: base})
		}(int64(10 + i%5))
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateVote)
	}
	assert.Equal(t, 5, accepted)

	tally, err := s.RefreshTally(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, tally.Plus)
}
