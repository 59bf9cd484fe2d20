package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dixxi1208/GryazBot/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	cfg := &config.Config{
		DatabaseDriver: config.DriverSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "gryaz.db"),
	}

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Ping(context.Background()))
	n, err := s.NonBotMemberCount(context.Background(), -1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{DatabaseDriver: "mysql"}, nil)
	assert.ErrorContains(t, err, `unsupported database driver "mysql"`)
}
