package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/services"
	"github.com/webmux/webmux/internal/tmux"
)

// SessionsHandler exposes tmux session and window management over REST,
// mirroring the operations available through the WebSocket protocol for
// clients that only need one-shot calls.
type SessionsHandler struct {
	tmux     tmux.Commander
	sessions *services.SessionManager
	clients  *services.ClientManager
	stats    *services.StatsService
}

// NewSessionsHandler creates the REST handler.
func NewSessionsHandler(commander tmux.Commander, sessions *services.SessionManager, clients *services.ClientManager, stats *services.StatsService) *SessionsHandler {
	return &SessionsHandler{
		tmux:     commander,
		sessions: sessions,
		clients:  clients,
		stats:    stats,
	}
}

// RegisterRoutes registers the session and stats routes.
func (h *SessionsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/sessions", h.ListSessions)
	v1.Post("/sessions", h.CreateSession)
	v1.Delete("/sessions/:name", h.KillSession)
	v1.Post("/sessions/:name/rename", h.RenameSession)
	v1.Get("/sessions/:name/windows", h.ListWindows)
	v1.Post("/sessions/:name/windows", h.CreateWindow)
	v1.Delete("/sessions/:name/windows/:index", h.KillWindow)
	v1.Post("/sessions/:name/windows/:index/rename", h.RenameWindow)
	v1.Post("/sessions/:name/windows/:index/select", h.SelectWindow)
	v1.Get("/sessions/:name/buffer-stats", h.BufferStats)
	v1.Get("/stats", h.SystemStats)
}

func errorResponse(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

// ListSessions returns all tmux sessions.
func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.tmux.ListSessions(c.Context())
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	if sessions == nil {
		sessions = []models.TmuxSession{}
	}
	return c.JSON(sessions)
}

// CreateSession creates a new tmux session.
func (h *SessionsHandler) CreateSession(c *fiber.Ctx) error {
	var req models.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err)
	}
	if req.Name == "" {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("name is required"))
	}
	if err := h.tmux.CreateSession(c.Context(), req.Name); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "name": req.Name})
}

// KillSession kills a tmux session and tears down its shared state.
func (h *SessionsHandler) KillSession(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.tmux.KillSession(c.Context(), name); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, tmux.ErrSessionNotFound) {
			status = fiber.StatusNotFound
		}
		return errorResponse(c, status, err)
	}
	h.sessions.CloseSession(name)
	return c.JSON(fiber.Map{"success": true})
}

// RenameSession renames a tmux session.
func (h *SessionsHandler) RenameSession(c *fiber.Ctx) error {
	var req models.RenameSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err)
	}
	if req.NewName == "" {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("newName is required"))
	}
	if err := h.tmux.RenameSession(c.Context(), c.Params("name"), req.NewName); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ListWindows returns the windows of a session.
func (h *SessionsHandler) ListWindows(c *fiber.Ctx) error {
	windows, err := h.tmux.ListWindows(c.Context(), c.Params("name"))
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	if windows == nil {
		windows = []models.TmuxWindow{}
	}
	return c.JSON(windows)
}

// CreateWindow creates a window in a session.
func (h *SessionsHandler) CreateWindow(c *fiber.Ctx) error {
	var req models.CreateWindowRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err)
	}
	if err := h.tmux.CreateWindow(c.Context(), c.Params("name"), req.WindowName); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true})
}

// KillWindow kills a window by index.
func (h *SessionsHandler) KillWindow(c *fiber.Ctx) error {
	if err := h.tmux.KillWindow(c.Context(), c.Params("name"), c.Params("index")); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// RenameWindow renames a window by index.
func (h *SessionsHandler) RenameWindow(c *fiber.Ctx) error {
	var req models.RenameWindowRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err)
	}
	if err := h.tmux.RenameWindow(c.Context(), c.Params("name"), c.Params("index"), req.NewName); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// SelectWindow makes a window active.
func (h *SessionsHandler) SelectWindow(c *fiber.Ctx) error {
	if err := h.tmux.SelectWindow(c.Context(), c.Params("name"), c.Params("index")); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// BufferStats returns the per-session streaming counters for a session
// with an active shared loop. Backpressure drops live with the client
// handles, so they are folded in here from the client manager.
func (h *SessionsHandler) BufferStats(c *fiber.Ctx) error {
	name := c.Params("name")
	session, ok := h.sessions.GetSession(name)
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, errors.New("no active shared session: "+name))
	}
	stats := session.Stats()
	stats.BackpressureEvents = h.clients.DropsForSession(name)
	return c.JSON(stats)
}

// SystemStats returns host-level metrics.
func (h *SessionsHandler) SystemStats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Collect())
}
