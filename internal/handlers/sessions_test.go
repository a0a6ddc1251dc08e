package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webmux/webmux/internal/config"
	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/services"
	"github.com/webmux/webmux/internal/tmux"
)

// stubTmux records calls and serves canned session data.
type stubTmux struct {
	mu       sync.Mutex
	sessions map[string]bool
	windows  map[string][]models.TmuxWindow
	calls    []string
	sentKeys []string
}

func newStubTmux() *stubTmux {
	return &stubTmux{
		sessions: map[string]bool{},
		windows:  map[string][]models.TmuxWindow{},
	}
}

func (s *stubTmux) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubTmux) ListSessions(ctx context.Context) ([]models.TmuxSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TmuxSession
	for name := range s.sessions {
		out = append(out, models.TmuxSession{Name: name, Windows: 1})
	}
	return out, nil
}

func (s *stubTmux) CreateSession(ctx context.Context, name string) error {
	s.record("create:" + name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[name] = true
	return nil
}

func (s *stubTmux) KillSession(ctx context.Context, name string) error {
	s.record("kill:" + name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sessions[name] {
		return tmux.ErrSessionNotFound
	}
	delete(s.sessions, name)
	return nil
}

func (s *stubTmux) RenameSession(ctx context.Context, oldName, newName string) error {
	s.record("rename:" + oldName + ">" + newName)
	return nil
}

func (s *stubTmux) HasSession(ctx context.Context, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[name]
}

func (s *stubTmux) ListWindows(ctx context.Context, sessionName string) ([]models.TmuxWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[sessionName], nil
}

func (s *stubTmux) CreateWindow(ctx context.Context, sessionName, windowName string) error {
	s.record("create-window:" + sessionName + ":" + windowName)
	return nil
}

func (s *stubTmux) KillWindow(ctx context.Context, sessionName, windowIndex string) error {
	s.record("kill-window:" + sessionName + ":" + windowIndex)
	return nil
}

func (s *stubTmux) RenameWindow(ctx context.Context, sessionName, windowIndex, newName string) error {
	s.record("rename-window:" + sessionName + ":" + windowIndex + ">" + newName)
	return nil
}

func (s *stubTmux) SelectWindow(ctx context.Context, sessionName, windowIndex string) error {
	s.record("select-window:" + sessionName + ":" + windowIndex)
	return nil
}

func (s *stubTmux) CapturePane(ctx context.Context, sessionName string) ([]byte, error) {
	return []byte("$ "), nil
}

func (s *stubTmux) SendKeys(ctx context.Context, sessionName, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentKeys = append(s.sentKeys, text)
	return nil
}

func (s *stubTmux) SendSpecialKey(ctx context.Context, sessionName, key string) error {
	return nil
}

func (s *stubTmux) ResizeWindow(ctx context.Context, sessionName string, cols, rows uint16) error {
	return nil
}

func newTestApp(t *testing.T) (*fiber.App, *stubTmux) {
	t.Helper()
	cfg := config.Default()
	st := newStubTmux()
	sessions := services.NewSessionManager(cfg, st)
	t.Cleanup(sessions.Shutdown)

	app := fiber.New()
	v1 := app.Group("/v1")
	NewSessionsHandler(st, sessions, services.NewClientManager(cfg), services.NewStatsService()).RegisterRoutes(v1)
	return app, st
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestListSessionsEndpoint(t *testing.T) {
	app, st := newTestApp(t)
	require.NoError(t, st.CreateSession(context.Background(), "dev"))

	resp := doJSON(t, app, http.MethodGet, "/v1/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []models.TmuxSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "dev", sessions[0].Name)
}

func TestListSessionsEmptyIsArray(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/v1/sessions", nil)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestCreateSessionEndpoint(t *testing.T) {
	app, st := newTestApp(t)

	t.Run("creates", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/v1/sessions",
			models.CreateSessionRequest{Name: "work"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.True(t, st.HasSession(context.Background(), "work"))
	})

	t.Run("rejects empty name", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/v1/sessions",
			models.CreateSessionRequest{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestKillSessionEndpoint(t *testing.T) {
	app, st := newTestApp(t)
	require.NoError(t, st.CreateSession(context.Background(), "doomed"))

	resp := doJSON(t, app, http.MethodDelete, "/v1/sessions/doomed", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodDelete, "/v1/sessions/doomed", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRenameSessionEndpoint(t *testing.T) {
	app, st := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/v1/sessions/old/rename",
		models.RenameSessionRequest{NewName: "new"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, st.calls, "rename:old>new")
}

func TestWindowEndpoints(t *testing.T) {
	app, st := newTestApp(t)
	st.windows["dev"] = []models.TmuxWindow{
		{Index: 0, Name: "editor", Active: true, Panes: 2},
		{Index: 1, Name: "logs", Panes: 1},
	}

	t.Run("list", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/v1/sessions/dev/windows", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var windows []models.TmuxWindow
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&windows))
		assert.Len(t, windows, 2)
	})

	t.Run("create", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/v1/sessions/dev/windows",
			models.CreateWindowRequest{WindowName: "build"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Contains(t, st.calls, "create-window:dev:build")
	})

	t.Run("select", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/v1/sessions/dev/windows/1/select", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, st.calls, "select-window:dev:1")
	})

	t.Run("kill", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodDelete, "/v1/sessions/dev/windows/1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, st.calls, "kill-window:dev:1")
	})
}

func TestBufferStatsEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/v1/sessions/nope/buffer-stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBufferStatsReportsBackpressure(t *testing.T) {
	cfg := config.Default()
	cfg.BackpressureThreshold = 2

	st := newStubTmux()
	sessions := services.NewSessionManager(cfg, st)
	t.Cleanup(sessions.Shutdown)
	clients := services.NewClientManager(cfg)

	app := fiber.New()
	v1 := app.Group("/v1")
	NewSessionsHandler(st, sessions, clients, services.NewStatsService()).RegisterRoutes(v1)

	_, err := sessions.GetOrCreateSession(context.Background(), "busy")
	require.NoError(t, err)

	// A client that never drains its queue loses frames once the queue is
	// full; those drops must surface on the session's stats payload.
	client := clients.Register("slow", services.ModeJSON)
	t.Cleanup(func() { clients.Unregister("slow") })
	client.SetSession("busy")
	for i := 0; i < 5; i++ {
		client.SendMessage(models.ServerMessage{Type: models.MsgPong})
	}
	require.EqualValues(t, 3, client.Drops())

	resp := doJSON(t, app, http.MethodGet, "/v1/sessions/busy/buffer-stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats models.SessionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 3, stats.BackpressureEvents)
}

func TestSystemStatsEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/v1/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats models.SystemStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.NotEmpty(t, stats.Platform)
}
