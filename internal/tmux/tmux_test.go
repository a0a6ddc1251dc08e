package tmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSessions(t *testing.T) {
	out := []byte("main:1:1756600000:3:120x40\nscratch:0:1756600100:1:80x24\n")
	sessions := parseSessions(out)
	require.Len(t, sessions, 2)

	assert.Equal(t, "main", sessions[0].Name)
	assert.True(t, sessions[0].Attached)
	assert.Equal(t, 3, sessions[0].Windows)
	assert.Equal(t, "120x40", sessions[0].Dimensions)
	assert.Equal(t, int64(1756600000), sessions[0].Created.Unix())

	assert.Equal(t, "scratch", sessions[1].Name)
	assert.False(t, sessions[1].Attached)
}

func TestParseSessionsMalformed(t *testing.T) {
	sessions := parseSessions([]byte("garbage\n\nshort:1\n"))
	assert.Empty(t, sessions)

	sessions = parseSessions(nil)
	assert.Empty(t, sessions)
}

func TestParseWindows(t *testing.T) {
	out := []byte("0:zsh:1:2\n1:vim:0:1\n")
	windows := parseWindows(out)
	require.Len(t, windows, 2)

	assert.Equal(t, 0, windows[0].Index)
	assert.Equal(t, "zsh", windows[0].Name)
	assert.True(t, windows[0].Active)
	assert.Equal(t, 2, windows[0].Panes)

	assert.Equal(t, "vim", windows[1].Name)
	assert.False(t, windows[1].Active)
}

func TestParseWindowsSkipsBadLines(t *testing.T) {
	windows := parseWindows([]byte("notanindex:bash:1:1\n2:ok:0:0\n"))
	require.Len(t, windows, 1)
	assert.Equal(t, 2, windows[0].Index)
	// Pane counts are at least one.
	assert.Equal(t, 1, windows[0].Panes)
}
