package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-1001234")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), id)

	for _, arg := range []string{"", "0", "abc", "12x"} {
		_, err := parseChatID(arg)
		assert.Error(t, err, arg)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"migrate", "sweep", "standings", "seed", "version"})
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.NotEmpty(t, out.String())
}

func TestStandingsCommand_RequiresChatID(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"standings"})

	assert.Error(t, root.Execute())
}
