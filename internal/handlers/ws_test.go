package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webmux/webmux/internal/config"
	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/protocol"
	"github.com/webmux/webmux/internal/services"
)

func newWSFixture(t *testing.T, mode services.ClientMode) (*WSHandler, *connState, *services.Client, *stubTmux) {
	t.Helper()
	cfg := config.Default()
	cfg.CaptureInterval = 2 * time.Millisecond
	cfg.BatchWindow = 2 * time.Millisecond

	st := newStubTmux()
	sessions := services.NewSessionManager(cfg, st)
	t.Cleanup(sessions.Shutdown)
	clients := services.NewClientManager(cfg)

	h := NewWSHandler(cfg, sessions, clients, st, services.NewStatsService())
	client := clients.Register("test-client", mode)
	t.Cleanup(func() { clients.Unregister("test-client") })
	return h, &connState{client: client}, client, st
}

func nextJSON(t *testing.T, c *services.Client) models.ServerMessage {
	t.Helper()
	select {
	case frame := <-c.Frames():
		require.False(t, frame.Binary)
		var msg models.ServerMessage
		require.NoError(t, json.Unmarshal(frame.Data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return models.ServerMessage{}
	}
}

func TestDispatchListSessions(t *testing.T) {
	h, state, client, st := newWSFixture(t, services.ModeJSON)
	require.NoError(t, st.CreateSession(context.Background(), "dev"))

	h.dispatch(state, models.ClientMessage{Type: models.MsgListSessions})

	msg := nextJSON(t, client)
	assert.Equal(t, models.MsgSessionsList, msg.Type)
	require.Len(t, msg.Sessions, 1)
	assert.Equal(t, "dev", msg.Sessions[0].Name)
}

func TestDispatchAttachStreamsDeltas(t *testing.T) {
	h, state, client, _ := newWSFixture(t, services.ModeJSON)

	h.dispatch(state, models.ClientMessage{Type: models.MsgAttachSession, SessionName: "dev"})

	msg := nextJSON(t, client)
	assert.Equal(t, models.MsgAttached, msg.Type)
	assert.Equal(t, "dev", msg.SessionName)
	require.NotNil(t, state.session)

	// The stub pane always shows "$ "; the first capture produces a full
	// dump delta for this client.
	msg = nextJSON(t, client)
	assert.Equal(t, models.MsgDelta, msg.Type)
	require.NotNil(t, msg.Delta)

	delta, ok := msg.Delta.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, delta["clearScreen"])

	h.detach(state)
	assert.Nil(t, state.session)
}

func TestDispatchInputRequiresAttach(t *testing.T) {
	h, state, client, _ := newWSFixture(t, services.ModeJSON)

	h.dispatch(state, models.ClientMessage{Type: models.MsgInput, Data: "ls\n"})

	msg := nextJSON(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
}

func TestDispatchPing(t *testing.T) {
	h, state, client, _ := newWSFixture(t, services.ModeJSON)

	h.dispatch(state, models.ClientMessage{Type: models.MsgPing})

	msg := nextJSON(t, client)
	assert.Equal(t, models.MsgPong, msg.Type)
}

func TestDispatchUnknownType(t *testing.T) {
	h, state, client, _ := newWSFixture(t, services.ModeJSON)

	h.dispatch(state, models.ClientMessage{Type: "bogus"})

	msg := nextJSON(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.Contains(t, msg.Message, "bogus")
}

func TestDispatchWindowOps(t *testing.T) {
	h, state, client, st := newWSFixture(t, services.ModeJSON)
	st.windows["dev"] = []models.TmuxWindow{{Index: 0, Name: "main", Active: true, Panes: 1}}

	h.dispatch(state, models.ClientMessage{Type: models.MsgListWindows, SessionName: "dev"})
	msg := nextJSON(t, client)
	assert.Equal(t, models.MsgWindowsList, msg.Type)
	require.Len(t, msg.Windows, 1)

	h.dispatch(state, models.ClientMessage{Type: models.MsgSelectWindow, SessionName: "dev", WindowIndex: "0"})
	msg = nextJSON(t, client)
	assert.Equal(t, models.MsgWindowSelected, msg.Type)
	require.NotNil(t, msg.Success)
	assert.True(t, *msg.Success)
	assert.Contains(t, st.calls, "select-window:dev:0")
}

func TestDispatchBinaryPing(t *testing.T) {
	h, state, client, _ := newWSFixture(t, services.ModeBinary)

	frame, err := protocol.Encode(protocol.FramePing, nil)
	require.NoError(t, err)
	h.dispatchBinary(state, frame)

	select {
	case out := <-client.Frames():
		require.True(t, out.Binary)
		ft, _, err := protocol.Decode(out.Data)
		require.NoError(t, err)
		assert.Equal(t, protocol.FramePong, ft)
	case <-time.After(time.Second):
		t.Fatal("no pong frame")
	}
}

func TestDispatchBinaryInput(t *testing.T) {
	h, state, client, st := newWSFixture(t, services.ModeBinary)
	_ = client

	h.dispatch(state, models.ClientMessage{Type: models.MsgAttachSession, SessionName: "dev"})
	require.NotNil(t, state.session)

	frame, err := protocol.Encode(protocol.FrameInput, []byte("echo hi"))
	require.NoError(t, err)
	h.dispatchBinary(state, frame)

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.sentKeys) > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"echo hi"}, st.sentKeys)
}

func TestBinaryModeGetsRawOutput(t *testing.T) {
	h, state, client, _ := newWSFixture(t, services.ModeBinary)

	h.dispatch(state, models.ClientMessage{Type: models.MsgAttachSession, SessionName: "dev"})
	defer h.detach(state)

	deadline := time.After(time.Second)
	for {
		select {
		case frame := <-client.Frames():
			if !frame.Binary {
				// Skip the attached control message.
				continue
			}
			ft, payload, err := protocol.Decode(frame.Data)
			require.NoError(t, err)
			assert.Equal(t, protocol.FrameOutput, ft)
			assert.Equal(t, "$ ", string(payload))
			return
		case <-deadline:
			t.Fatal("no output frame received")
		}
	}
}
