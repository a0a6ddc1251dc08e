package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webmux/webmux/internal/models"
)

func TestMonitorBroadcastsOnChange(t *testing.T) {
	ft := newFakeTmux()
	cm := NewClientManager(clientTestConfig())
	c := cm.Register("c1", ModeJSON)
	defer cm.Unregister("c1")

	monitor := NewTmuxMonitor(ft, cm)
	monitor.interval = 2 * time.Millisecond
	monitor.Start()
	defer monitor.Stop()

	require.NoError(t, ft.CreateSession(context.Background(), "new-session"))

	frames := collectFrames(t, c, 1)
	var msg models.ServerMessage
	require.NoError(t, json.Unmarshal(frames[0].Data, &msg))
	assert.Equal(t, models.MsgSessionsList, msg.Type)
	require.Len(t, msg.Sessions, 1)
	assert.Equal(t, "new-session", msg.Sessions[0].Name)
}

func TestMonitorBroadcastsEmptyListAsArray(t *testing.T) {
	ft := newFakeTmux()
	require.NoError(t, ft.CreateSession(context.Background(), "doomed"))

	cm := NewClientManager(clientTestConfig())
	c := cm.Register("c1", ModeJSON)
	defer cm.Unregister("c1")

	monitor := NewTmuxMonitor(ft, cm)
	monitor.interval = 2 * time.Millisecond
	monitor.Start()
	defer monitor.Stop()

	// First poll broadcasts the one-session list.
	collectFrames(t, c, 1)

	// Killing the last session must broadcast an empty array on the wire,
	// not a message with the sessions key missing.
	require.NoError(t, ft.KillSession(context.Background(), "doomed"))
	frames := collectFrames(t, c, 1)
	assert.Contains(t, string(frames[0].Data), `"sessions":[]`)

	var msg models.ServerMessage
	require.NoError(t, json.Unmarshal(frames[0].Data, &msg))
	assert.Equal(t, models.MsgSessionsList, msg.Type)
	assert.NotNil(t, msg.Sessions)
	assert.Empty(t, msg.Sessions)
}

func TestMonitorQuietWhenUnchanged(t *testing.T) {
	ft := newFakeTmux()
	require.NoError(t, ft.CreateSession(context.Background(), "stable"))

	cm := NewClientManager(clientTestConfig())
	c := cm.Register("c1", ModeJSON)
	defer cm.Unregister("c1")

	monitor := NewTmuxMonitor(ft, cm)
	monitor.interval = 2 * time.Millisecond
	monitor.Start()
	defer monitor.Stop()

	// First poll observes the list and broadcasts once.
	collectFrames(t, c, 1)

	select {
	case <-c.Frames():
		t.Fatal("unchanged session list must not be rebroadcast")
	case <-time.After(50 * time.Millisecond):
	}
}
