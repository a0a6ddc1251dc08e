package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/webmux/webmux/internal/buffer"
	"github.com/webmux/webmux/internal/config"
	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/term"
	"github.com/webmux/webmux/internal/tmux"
)

// SessionManager owns one SharedSession per tmux session. All clients
// attached to the same session share a single capture loop and input loop,
// so the cost of a session is independent of how many browsers watch it.
type SessionManager struct {
	cfg  *config.Config
	tmux tmux.Commander

	// capturePermits bounds concurrent capture-pane invocations across all
	// sessions so a burst of busy terminals cannot fork-bomb the host.
	capturePermits *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*SharedSession
}

// NewSessionManager creates a session manager backed by the given tmux
// commander.
func NewSessionManager(cfg *config.Config, commander tmux.Commander) *SessionManager {
	return &SessionManager{
		cfg:            cfg,
		tmux:           commander,
		capturePermits: semaphore.NewWeighted(int64(cfg.MaxConcurrentCaptures)),
		sessions:       make(map[string]*SharedSession),
	}
}

// GetOrCreateSession returns the shared session for name, creating it and
// starting its capture and input loops on first use. Concurrent callers for
// the same name get the same instance.
func (m *SessionManager) GetOrCreateSession(ctx context.Context, name string) (*SharedSession, error) {
	m.mu.RLock()
	if s, ok := m.sessions[name]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[name]; ok {
		return s, nil
	}

	if !m.tmux.HasSession(ctx, name) {
		if err := m.tmux.CreateSession(ctx, name); err != nil {
			return nil, err
		}
		logger.Infof("🪟 Created tmux session %q", name)
	}

	s := newSharedSession(name, m)
	m.sessions[name] = s
	logger.Debugf("Created shared session %q", name)
	return s, nil
}

// GetSession returns the shared session for name if one is active.
func (m *SessionManager) GetSession(name string) (*SharedSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// ActiveSessions returns the names of sessions with a running shared loop.
func (m *SessionManager) ActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	return names
}

// CloseSession tears down the shared session for name immediately, ignoring
// any grace period. The underlying tmux session is left running.
func (m *SessionManager) CloseSession(name string) {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Shutdown stops every shared session. Used on server exit.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*SharedSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*SharedSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

// Attach resolves the shared session for name and registers the client.
// If a grace-period teardown claims the session between lookup and
// registration, the stale instance is discarded and a fresh one is created.
func (m *SessionManager) Attach(ctx context.Context, name, clientID string) (*SharedSession, error) {
	for {
		s, err := m.GetOrCreateSession(ctx, name)
		if err != nil {
			return nil, err
		}
		if s.AddClient(clientID) {
			return s, nil
		}
	}
}

// expireSession runs when a session's grace timer fires. The emptiness
// re-check, the stop mark, and the map removal happen under both locks, so
// a concurrent attach either lands before the check and keeps the session
// alive, or finds it stopped and retries against a fresh instance.
func (m *SessionManager) expireSession(s *SharedSession) {
	m.mu.Lock()
	s.mu.Lock()
	s.graceTimer = nil
	if len(s.clients) > 0 || s.stopped {
		s.mu.Unlock()
		m.mu.Unlock()
		return
	}
	if current, ok := m.sessions[s.name]; ok && current == s {
		delete(m.sessions, s.name)
	}
	teardown := s.stopLocked()
	s.mu.Unlock()
	m.mu.Unlock()

	logger.Infof("Session %q idle for %s, tearing down", s.name, m.cfg.SessionGracePeriod)
	teardown()
}

type inputKind int

const (
	inputText inputKind = iota
	inputSpecialKey
	inputResize
)

type inputCommand struct {
	kind inputKind
	text string
	key  string
	cols int
	rows int
}

// SharedSession multiplexes one tmux session to many clients: a capture
// loop snapshots the pane on a fixed tick and publishes changed output to
// the shared buffer and chunk queue, and an input loop batches queued
// keystrokes into as few tmux invocations as possible.
type SharedSession struct {
	name    string
	manager *SessionManager

	buffer *buffer.TerminalBuffer
	queue  *buffer.ChunkQueue
	deltas *term.DeltaTracker

	mu         sync.Mutex
	clients    map[string]struct{}
	inputQueue []inputCommand
	graceTimer *time.Timer
	stopped    bool

	lastHash    uint64
	hasCaptured bool

	cancel context.CancelFunc
	loopWG *sync.WaitGroup

	captureDead atomic.Bool
	stats       sessionCounters
}

type sessionCounters struct {
	captures      atomic.Uint64
	inputs        atomic.Uint64
	bytesCaptured atomic.Uint64
	captureErrors atomic.Uint64
	inputErrors   atomic.Uint64
}

func newSharedSession(name string, m *SessionManager) *SharedSession {
	return &SharedSession{
		name:    name,
		manager: m,
		buffer:  buffer.NewTerminalBuffer(m.cfg.MaxBufferSize),
		queue:   buffer.NewChunkQueue(m.cfg.ChunkQueueDepth),
		deltas:  term.NewDeltaTracker(),
		clients: make(map[string]struct{}),
	}
}

// Name returns the tmux session name this shared session serves.
func (s *SharedSession) Name() string { return s.name }

// Buffer returns the shared terminal buffer for raw-stream subscribers.
func (s *SharedSession) Buffer() *buffer.TerminalBuffer { return s.buffer }

// Chunks returns the sequenced chunk queue for framed subscribers.
func (s *SharedSession) Chunks() *buffer.ChunkQueue { return s.queue }

// Deltas returns the per-client delta tracker.
func (s *SharedSession) Deltas() *term.DeltaTracker { return s.deltas }

// startLoopsLocked launches a fresh generation of the capture and input
// loops. Callers hold s.mu.
func (s *SharedSession) startLoopsLocked() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	s.cancel = cancel
	s.loopWG = wg
	s.captureDead.Store(false)

	wg.Add(2)
	go s.captureLoop(ctx, wg)
	go s.inputLoop(ctx, wg)
}

// stop tears the session down. Safe to call more than once.
func (s *SharedSession) stop() {
	s.mu.Lock()
	teardown := s.stopLocked()
	s.mu.Unlock()
	teardown()
}

// stopLocked marks the session stopped and returns a function that finishes
// the teardown once the lock is released. A stopped session rejects new
// clients, so callers holding s.mu can decide its fate and mark it in one
// critical section. Callers hold s.mu.
func (s *SharedSession) stopLocked() func() {
	if s.stopped {
		return func() {}
	}
	s.stopped = true
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	cancel, wg := s.cancel, s.loopWG
	s.cancel, s.loopWG = nil, nil
	return func() {
		if cancel != nil {
			cancel()
			wg.Wait()
		}
		s.buffer.Close()
		s.queue.Close()
		logger.Debugf("Stopped shared session %q", s.name)
	}
}

// AddClient registers a client with the session, starting the capture and
// input loops if this is the first client and cancelling any pending
// grace-period teardown. It reports false if the session has already been
// stopped; the caller should resolve a fresh session and retry.
func (s *SharedSession) AddClient(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.clients[clientID] = struct{}{}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
		logger.Debugf("Client %s rejoined session %q inside grace period", clientID, s.name)
	}
	s.startLoopsLocked()
	return true
}

// RemoveClient deregisters a client. When the last client leaves, the
// capture and input loops are cancelled right away so an unwatched session
// costs nothing, but the session object and its warm buffer stay around for
// the grace period in case a client reconnects. The timer re-checks the
// client list at expiry before tearing anything down.
func (s *SharedSession) RemoveClient(clientID string) {
	s.deltas.RemoveClient(clientID)

	s.mu.Lock()
	delete(s.clients, clientID)
	if len(s.clients) > 0 || s.graceTimer != nil || s.stopped {
		s.mu.Unlock()
		return
	}
	grace := s.manager.cfg.SessionGracePeriod
	s.graceTimer = time.AfterFunc(grace, func() {
		s.manager.expireSession(s)
	})
	cancel, wg := s.cancel, s.loopWG
	s.cancel, s.loopWG = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		wg.Wait()
	}
}

// ClientCount returns the number of attached clients.
func (s *SharedSession) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// SendInput queues literal text for the input loop. Consecutive text
// commands are coalesced into a single tmux send-keys call.
func (s *SharedSession) SendInput(text string) {
	s.enqueue(inputCommand{kind: inputText, text: text})
}

// SendSpecialKey queues a named key (enter, escape, c-c, ...). Any pending
// text is flushed first so ordering is preserved.
func (s *SharedSession) SendSpecialKey(key string) {
	s.enqueue(inputCommand{kind: inputSpecialKey, key: key})
}

// Resize queues a window resize, flushed in order with pending input.
func (s *SharedSession) Resize(cols, rows int) {
	s.enqueue(inputCommand{kind: inputResize, cols: cols, rows: rows})
}

func (s *SharedSession) enqueue(cmd inputCommand) {
	s.mu.Lock()
	s.inputQueue = append(s.inputQueue, cmd)
	s.mu.Unlock()
}

// CaptureAlive reports whether the capture loop is still running. It goes
// false after too many consecutive capture failures, which usually means
// the tmux session died underneath us.
func (s *SharedSession) CaptureAlive() bool {
	return !s.captureDead.Load()
}

// Stats returns a point-in-time copy of the session's counters.
func (s *SharedSession) Stats() models.SessionStats {
	bufStats := s.buffer.Stats()
	return models.SessionStats{
		TotalCaptures:  s.stats.captures.Load(),
		TotalInputs:    s.stats.inputs.Load(),
		BytesCaptured:  s.stats.bytesCaptured.Load(),
		CaptureErrors:  s.stats.captureErrors.Load(),
		InputErrors:    s.stats.inputErrors.Load(),
		BufferSize:     bufStats.BufferSize,
		BufferOverruns: bufStats.Overruns,
		CaptureAlive:   s.CaptureAlive(),
		Clients:        s.ClientCount(),
	}
}

func (s *SharedSession) captureLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	cfg := s.manager.cfg
	ticker := time.NewTicker(cfg.CaptureInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.captureOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.stats.captureErrors.Add(1)
			consecutiveFailures++
			logger.Debugf("Capture failed for %q (%d consecutive): %v", s.name, consecutiveFailures, err)
			if consecutiveFailures >= cfg.MaxConsecutiveCaptureFailures {
				logger.Errorf("Capture loop for %q giving up after %d consecutive failures", s.name, consecutiveFailures)
				s.captureDead.Store(true)
				return
			}
			continue
		}
		consecutiveFailures = 0
	}
}

func (s *SharedSession) captureOnce(ctx context.Context) error {
	if err := s.manager.capturePermits.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.manager.capturePermits.Release(1)

	output, err := s.manager.tmux.CapturePane(ctx, s.name)
	if err != nil {
		return err
	}
	s.stats.captures.Add(1)

	// Skip publishing when the pane has not changed since the last tick;
	// an idle terminal costs one hash per interval and nothing downstream.
	hash := term.HashLine(string(output))
	s.mu.Lock()
	unchanged := s.hasCaptured && hash == s.lastHash
	s.lastHash = hash
	s.hasCaptured = true
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	data := output
	s.stats.bytesCaptured.Add(uint64(len(data)))
	if err := s.buffer.Write(data); err != nil {
		// Oversized or overrun writes are logged and dropped; the next
		// changed capture carries the current pane state anyway.
		logger.Warnf("Buffer write for %q: %v", s.name, err)
	}
	s.queue.Write(data)
	return nil
}

func (s *SharedSession) inputLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	cfg := s.manager.cfg
	ticker := time.NewTicker(cfg.InputBatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.flushInput(ctx)
	}
}

// flushInput drains up to MaxInputBatch queued commands, coalescing runs of
// text into single send-keys calls. Special keys and resizes act as
// barriers: pending text is sent before them so keystroke order matches
// what the user typed.
func (s *SharedSession) flushInput(ctx context.Context) {
	cfg := s.manager.cfg

	s.mu.Lock()
	n := len(s.inputQueue)
	if n == 0 {
		s.mu.Unlock()
		return
	}
	if n > cfg.MaxInputBatch {
		n = cfg.MaxInputBatch
	}
	batch := make([]inputCommand, n)
	copy(batch, s.inputQueue[:n])
	s.inputQueue = s.inputQueue[n:]
	s.mu.Unlock()

	var pending []byte
	flushText := func() {
		if len(pending) == 0 {
			return
		}
		if err := s.manager.tmux.SendKeys(ctx, s.name, string(pending)); err != nil {
			s.stats.inputErrors.Add(1)
			logger.Warnf("send-keys for %q: %v", s.name, err)
		} else {
			s.stats.inputs.Add(1)
		}
		pending = pending[:0]
	}

	for _, cmd := range batch {
		switch cmd.kind {
		case inputText:
			pending = append(pending, cmd.text...)
		case inputSpecialKey:
			flushText()
			if err := s.manager.tmux.SendSpecialKey(ctx, s.name, cmd.key); err != nil {
				s.stats.inputErrors.Add(1)
				logger.Warnf("special key %q for %q: %v", cmd.key, s.name, err)
			} else {
				s.stats.inputs.Add(1)
			}
		case inputResize:
			flushText()
			if err := s.manager.tmux.ResizeWindow(ctx, s.name, uint16(cmd.cols), uint16(cmd.rows)); err != nil {
				s.stats.inputErrors.Add(1)
				logger.Warnf("resize for %q: %v", s.name, err)
			} else {
				s.stats.inputs.Add(1)
			}
		}
	}
	flushText()
}
