package services

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/tmux"
)

const monitorInterval = 500 * time.Millisecond

// TmuxMonitor polls the tmux server for the session list and broadcasts a
// sessions-list message whenever it changes, so every client sees external
// creates, kills, and renames without asking.
type TmuxMonitor struct {
	tmux     tmux.Commander
	clients  *ClientManager
	interval time.Duration

	mu     sync.Mutex
	last   []models.TmuxSession
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTmuxMonitor creates a monitor that broadcasts through clients.
func NewTmuxMonitor(commander tmux.Commander, clients *ClientManager) *TmuxMonitor {
	return &TmuxMonitor{
		tmux:     commander,
		clients:  clients,
		interval: monitorInterval,
		last:     []models.TmuxSession{},
	}
}

// Start begins polling. Call Stop to end it.
func (m *TmuxMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	logger.Debug("Tmux monitor started")
}

// Stop ends polling and waits for the loop to exit.
func (m *TmuxMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *TmuxMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.poll(ctx)
	}
}

func (m *TmuxMonitor) poll(ctx context.Context) {
	sessions, err := m.tmux.ListSessions(ctx)
	if err != nil {
		// No tmux server is not an error worth spamming about; treat it
		// as an empty list so kills of the last session still broadcast.
		logger.Debugf("Monitor list-sessions: %v", err)
		sessions = nil
	}
	if sessions == nil {
		// A broadcast list is always an array on the wire, never a
		// missing key.
		sessions = []models.TmuxSession{}
	}

	m.mu.Lock()
	changed := !reflect.DeepEqual(sessions, m.last)
	if changed {
		m.last = sessions
	}
	m.mu.Unlock()

	if changed {
		m.clients.Broadcast(models.ServerMessage{
			Type:     models.MsgSessionsList,
			Sessions: sessions,
		})
	}
}

// Sessions returns the most recently observed session list.
func (m *TmuxMonitor) Sessions() []models.TmuxSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TmuxSession, len(m.last))
	copy(out, m.last)
	return out
}
