package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dixxi1208/GryazBot/internal/adapter/storetest"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbCounter atomic.Int64

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:gryaztest%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", dbCounter.Add(1))
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return newTestStore(t) })
}

func TestStore_FileDatabaseSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gryaz.db")
	ctx := context.Background()

	s, err := Open(FileDSN(path))
	require.NoError(t, err)
	_, err = s.IncrementScore(ctx, -1, 7)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(FileDSN(path))
	require.NoError(t, err)
	defer s.Close()

	score, err := s.GetScore(ctx, -1, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, score)
	assert.NoError(t, s.Ping(ctx))
}

func TestStore_SetMessageRefUnknownPoll(t *testing.T) {
	s := newTestStore(t)
	err := s.SetMessageRef(context.Background(), 404, "msg")
	assert.ErrorIs(t, err, domain.ErrUnknownPoll)
}

func TestStore_TransitionRejectsOpenStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.TransitionPoll(context.Background(), 1, domain.PollOpen, fromNanos(0))
	assert.Error(t, err)
}
