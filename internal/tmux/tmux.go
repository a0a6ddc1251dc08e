// Package tmux shells out to the tmux binary. Every operation is a thin
// external-process invocation with a bounded timeout and no in-process
// state; the session manager drives everything through the Commander
// interface so it can be tested against a fake.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/models"
)

// ErrSessionNotFound is returned when a target session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Commander is the session command interface consumed by the session
// manager and handlers.
type Commander interface {
	ListSessions(ctx context.Context) ([]models.TmuxSession, error)
	CreateSession(ctx context.Context, name string) error
	KillSession(ctx context.Context, name string) error
	RenameSession(ctx context.Context, oldName, newName string) error
	HasSession(ctx context.Context, name string) bool
	ListWindows(ctx context.Context, sessionName string) ([]models.TmuxWindow, error)
	CreateWindow(ctx context.Context, sessionName, windowName string) error
	KillWindow(ctx context.Context, sessionName, windowIndex string) error
	RenameWindow(ctx context.Context, sessionName, windowIndex, newName string) error
	SelectWindow(ctx context.Context, sessionName, windowIndex string) error
	CapturePane(ctx context.Context, sessionName string) ([]byte, error)
	SendKeys(ctx context.Context, sessionName, text string) error
	SendSpecialKey(ctx context.Context, sessionName, key string) error
	ResizeWindow(ctx context.Context, sessionName string, cols, rows uint16) error
}

// Service runs tmux commands with a per-invocation timeout.
type Service struct {
	timeout time.Duration
}

// NewService creates a Service. timeout <= 0 defaults to 5s, matching the
// bounded wait on control-channel calls: on expiry the pending invocation is
// abandoned and reported as a failure, never retried automatically.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{timeout: timeout}
}

func (s *Service) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("tmux %s: %s", args[0], strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return out, nil
}

// EnsureServer starts the tmux server if it is not already running.
func (s *Service) EnsureServer(ctx context.Context) error {
	if _, err := s.run(ctx, "list-sessions"); err == nil {
		return nil
	}
	logger.Debug("starting tmux server")
	_, err := s.run(ctx, "new-session", "-d", "-s", "__bootstrap__", "-c", os.Getenv("HOME"), "exit")
	if err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

const sessionFormat = "#{session_name}:#{session_attached}:#{session_created}:#{session_windows}:#{session_width}x#{session_height}"

// ListSessions returns all sessions, or an empty list when no server runs.
func (s *Service) ListSessions(ctx context.Context) ([]models.TmuxSession, error) {
	out, err := s.run(ctx, "list-sessions", "-F", sessionFormat)
	if err != nil {
		// No server means no sessions, not a failure.
		return []models.TmuxSession{}, nil
	}
	return parseSessions(out), nil
}

func parseSessions(out []byte) []models.TmuxSession {
	sessions := []models.TmuxSession{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 5 {
			continue
		}
		created, _ := strconv.ParseInt(parts[2], 10, 64)
		windows, _ := strconv.Atoi(parts[3])
		sessions = append(sessions, models.TmuxSession{
			Name:       parts[0],
			Attached:   parts[1] == "1",
			Created:    time.Unix(created, 0).UTC(),
			Windows:    windows,
			Dimensions: parts[4],
		})
	}
	return sessions
}

// CreateSession creates a detached session.
func (s *Service) CreateSession(ctx context.Context, name string) error {
	if err := s.EnsureServer(ctx); err != nil {
		return err
	}
	_, err := s.run(ctx, "new-session", "-d", "-s", name)
	return err
}

// KillSession terminates a session.
func (s *Service) KillSession(ctx context.Context, name string) error {
	_, err := s.run(ctx, "kill-session", "-t", name)
	return err
}

// RenameSession renames a session.
func (s *Service) RenameSession(ctx context.Context, oldName, newName string) error {
	_, err := s.run(ctx, "rename-session", "-t", oldName, newName)
	return err
}

// HasSession reports whether the named session exists.
func (s *Service) HasSession(ctx context.Context, name string) bool {
	_, err := s.run(ctx, "has-session", "-t", name)
	return err == nil
}

// ListWindows lists the windows of a session.
func (s *Service) ListWindows(ctx context.Context, sessionName string) ([]models.TmuxWindow, error) {
	out, err := s.run(ctx, "list-windows", "-t", sessionName, "-F",
		"#{window_index}:#{window_name}:#{window_active}:#{window_panes}")
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return parseWindows(out), nil
}

func parseWindows(out []byte) []models.TmuxWindow {
	windows := []models.TmuxWindow{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 4 {
			continue
		}
		index, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		panes, _ := strconv.Atoi(parts[3])
		if panes == 0 {
			panes = 1
		}
		windows = append(windows, models.TmuxWindow{
			Index:  index,
			Name:   parts[1],
			Active: parts[2] == "1",
			Panes:  panes,
		})
	}
	return windows
}

// CreateWindow adds a window to a session, optionally named.
func (s *Service) CreateWindow(ctx context.Context, sessionName, windowName string) error {
	args := []string{"new-window", "-a", "-t", sessionName}
	if windowName != "" {
		args = append(args, "-n", windowName)
	}
	_, err := s.run(ctx, args...)
	return err
}

// KillWindow removes a window.
func (s *Service) KillWindow(ctx context.Context, sessionName, windowIndex string) error {
	_, err := s.run(ctx, "kill-window", "-t", sessionName+":"+windowIndex)
	return err
}

// RenameWindow renames a window.
func (s *Service) RenameWindow(ctx context.Context, sessionName, windowIndex, newName string) error {
	_, err := s.run(ctx, "rename-window", "-t", sessionName+":"+windowIndex, newName)
	return err
}

// SelectWindow makes a window active.
func (s *Service) SelectWindow(ctx context.Context, sessionName, windowIndex string) error {
	_, err := s.run(ctx, "select-window", "-t", sessionName+":"+windowIndex)
	return err
}

// CapturePane returns the current pane content with escape sequences
// preserved and wrapped lines joined.
func (s *Service) CapturePane(ctx context.Context, sessionName string) ([]byte, error) {
	return s.run(ctx, "capture-pane", "-t", sessionName, "-p", "-e", "-J")
}

// SendKeys sends text literally (no key-name interpretation).
func (s *Service) SendKeys(ctx context.Context, sessionName, text string) error {
	_, err := s.run(ctx, "send-keys", "-t", sessionName, "-l", text)
	return err
}

// SendSpecialKey sends a named key such as Enter, Escape, or C-c.
func (s *Service) SendSpecialKey(ctx context.Context, sessionName, key string) error {
	_, err := s.run(ctx, "send-keys", "-t", sessionName, key)
	return err
}

// ResizeWindow resizes a session's window to the given dimensions.
func (s *Service) ResizeWindow(ctx context.Context, sessionName string, cols, rows uint16) error {
	_, err := s.run(ctx, "resize-window", "-t", sessionName,
		"-x", strconv.Itoa(int(cols)), "-y", strconv.Itoa(int(rows)))
	return err
}
