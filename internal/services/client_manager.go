package services

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webmux/webmux/internal/config"
	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/protocol"
)

// ClientMode selects the wire encoding for a client's output stream. The
// mode is fixed at registration; control messages are JSON in both modes.
type ClientMode int

const (
	// ModeJSON delivers terminal output as JSON text messages.
	ModeJSON ClientMode = iota
	// ModeBinary delivers terminal output, stats, and pongs as framed
	// binary messages.
	ModeBinary
)

// OutboundFrame is one message ready for the socket writer.
type OutboundFrame struct {
	Binary bool
	Data   []byte
}

// Client is the manager's handle to one connected WebSocket. It owns the
// outbound queue; the transport layer owns the socket and drains Frames().
type Client struct {
	ID      string
	mode    ClientMode
	cfg     *config.Config
	session atomic.Value // string, current session name

	out    chan OutboundFrame
	done   chan struct{}
	closed atomic.Bool

	// pending accumulates output inside the batch window so a burst of
	// captures becomes one frame instead of dozens.
	pendingMu  sync.Mutex
	pending    []byte
	flushTimer *time.Timer

	drops atomic.Uint64
}

// ClientManager tracks connected clients and fans session output out to
// them. Sends never block: a client whose queue is full loses the message
// and the drop is counted instead.
type ClientManager struct {
	cfg *config.Config

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientManager creates an empty client manager.
func NewClientManager(cfg *config.Config) *ClientManager {
	return &ClientManager{
		cfg:     cfg,
		clients: make(map[string]*Client),
	}
}

// Register creates a handle for a newly connected client. The outbound
// queue depth doubles as the backpressure budget: once it fills, further
// sends are dropped rather than blocking the capture path.
func (m *ClientManager) Register(id string, mode ClientMode) *Client {
	c := &Client{
		ID:   id,
		mode: mode,
		cfg:  m.cfg,
		out:  make(chan OutboundFrame, m.cfg.BackpressureThreshold),
		done: make(chan struct{}),
	}
	c.session.Store("")

	m.mu.Lock()
	m.clients[id] = c
	m.mu.Unlock()
	logger.Debugf("Registered client %s (binary=%v)", id, mode == ModeBinary)
	return c
}

// Unregister removes and closes the client's handle.
func (m *ClientManager) Unregister(id string) {
	m.mu.Lock()
	c, ok := m.clients[id]
	delete(m.clients, id)
	m.mu.Unlock()
	if ok {
		c.close()
	}
}

// Get returns the handle for a connected client.
func (m *ClientManager) Get(id string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Count returns the number of connected clients.
func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast sends a JSON message to every connected client.
func (m *ClientManager) Broadcast(msg models.ServerMessage) {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}

// TotalDrops sums backpressure drops across connected clients.
func (m *ClientManager) TotalDrops() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, c := range m.clients {
		total += c.drops.Load()
	}
	return total
}

// DropsForSession sums backpressure drops across clients attached to the
// named session.
func (m *ClientManager) DropsForSession(name string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, c := range m.clients {
		if c.Session() == name {
			total += c.drops.Load()
		}
	}
	return total
}

// Frames is the channel the socket writer drains.
func (c *Client) Frames() <-chan OutboundFrame { return c.out }

// Done is closed when the client is unregistered; the socket writer exits
// on it. The frame channel itself is never closed so late flushes cannot
// panic.
func (c *Client) Done() <-chan struct{} { return c.done }

// Mode returns the client's wire encoding.
func (c *Client) Mode() ClientMode { return c.mode }

// Drops returns how many messages were dropped under backpressure.
func (c *Client) Drops() uint64 { return c.drops.Load() }

// SetSession records the session this client is attached to.
func (c *Client) SetSession(name string) { c.session.Store(name) }

// Session returns the session this client is attached to, or "".
func (c *Client) Session() string { return c.session.Load().(string) }

// SendOutput queues terminal output for delivery. Output is held for the
// batch window and merged with anything else that arrives, then split into
// bounded chunks before framing.
func (c *Client) SendOutput(data []byte) {
	if c.closed.Load() || len(data) == 0 {
		return
	}

	c.pendingMu.Lock()
	c.pending = append(c.pending, data...)
	if c.flushTimer == nil {
		c.flushTimer = time.AfterFunc(c.cfg.BatchWindow, c.flushOutput)
	}
	c.pendingMu.Unlock()
}

func (c *Client) flushOutput() {
	c.pendingMu.Lock()
	batch := c.pending
	c.pending = nil
	c.flushTimer = nil
	c.pendingMu.Unlock()

	chunkSize := c.cfg.OutputChunkSize
	for len(batch) > 0 {
		n := len(batch)
		if n > chunkSize {
			n = chunkSize
		}
		c.sendOutputChunk(batch[:n])
		batch = batch[n:]
	}
}

func (c *Client) sendOutputChunk(chunk []byte) {
	if c.mode == ModeBinary {
		frame, err := protocol.Encode(protocol.FrameOutput, chunk)
		if err != nil {
			logger.Warnf("Encoding output frame for %s: %v", c.ID, err)
			return
		}
		c.enqueue(OutboundFrame{Binary: true, Data: frame})
		return
	}
	msg := models.OutputMessage(string(chunk))
	msg.SessionName = c.Session()
	c.SendMessage(msg)
}

// SendMessage queues a JSON message. Oversized messages are dropped, never
// truncated.
func (c *Client) SendMessage(msg models.ServerMessage) {
	if c.closed.Load() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("Marshaling %s message for %s: %v", msg.Type, c.ID, err)
		return
	}
	if len(data) > c.cfg.MaxMessageSize {
		logger.Warnf("Dropping oversized %s message (%d bytes) for %s", msg.Type, len(data), c.ID)
		return
	}
	c.enqueue(OutboundFrame{Binary: false, Data: data})
}

// SendBinary queues a pre-framed binary message, used for stats frames and
// pong replies on binary-mode clients.
func (c *Client) SendBinary(t protocol.FrameType, payload []byte) {
	if c.closed.Load() {
		return
	}
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		logger.Warnf("Encoding %s frame for %s: %v", t, c.ID, err)
		return
	}
	c.enqueue(OutboundFrame{Binary: true, Data: frame})
}

// enqueue attempts a non-blocking send. A full queue means the client is
// not keeping up; the frame is dropped so one slow consumer cannot stall
// the capture loop or other clients.
func (c *Client) enqueue(frame OutboundFrame) {
	select {
	case c.out <- frame:
	default:
		c.drops.Add(1)
	}
}

func (c *Client) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.pendingMu.Lock()
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.pending = nil
	c.pendingMu.Unlock()
	close(c.done)
}
