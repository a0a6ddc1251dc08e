package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/webmux/webmux/internal/services"
)

// DotfilesHandler exposes the dotfiles service: list, read, write with
// automatic backups, and version restore.
type DotfilesHandler struct {
	dotfiles *services.DotfilesService
}

// NewDotfilesHandler creates the dotfiles handler.
func NewDotfilesHandler(dotfiles *services.DotfilesService) *DotfilesHandler {
	return &DotfilesHandler{dotfiles: dotfiles}
}

// RegisterRoutes registers the dotfiles routes.
func (h *DotfilesHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/dotfiles", h.List)
	v1.Get("/dotfiles/content", h.Read)
	v1.Put("/dotfiles/content", h.Write)
	v1.Get("/dotfiles/history", h.History)
	v1.Post("/dotfiles/restore", h.Restore)
}

// List returns the managed dotfiles and their on-disk state.
func (h *DotfilesHandler) List(c *fiber.Ctx) error {
	return c.JSON(h.dotfiles.List())
}

// Read returns the content of one managed dotfile.
func (h *DotfilesHandler) Read(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("name is required"))
	}
	content, err := h.dotfiles.Read(name)
	if err != nil {
		return errorResponse(c, fiber.StatusNotFound, err)
	}
	return c.JSON(fiber.Map{"name": name, "content": content})
}

type writeDotfileRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Write replaces a dotfile's content, backing up the previous version.
func (h *DotfilesHandler) Write(c *fiber.Ctx) error {
	var req writeDotfileRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err)
	}
	if req.Name == "" {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("name is required"))
	}
	if err := h.dotfiles.Write(req.Name, req.Content); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// History returns the saved versions of a dotfile.
func (h *DotfilesHandler) History(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("name is required"))
	}
	history, err := h.dotfiles.History(name)
	if err != nil {
		return errorResponse(c, fiber.StatusNotFound, err)
	}
	if history == nil {
		history = []services.FileVersion{}
	}
	return c.JSON(history)
}

type restoreDotfileRequest struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Restore rewrites a dotfile with a previously backed-up version.
func (h *DotfilesHandler) Restore(c *fiber.Ctx) error {
	var req restoreDotfileRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err)
	}
	if req.Name == "" {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("name is required"))
	}
	if err := h.dotfiles.Restore(req.Name, req.Timestamp); err != nil {
		return errorResponse(c, fiber.StatusNotFound, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
