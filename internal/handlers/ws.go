package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/webmux/webmux/internal/config"
	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/protocol"
	"github.com/webmux/webmux/internal/services"
	"github.com/webmux/webmux/internal/term"
	"github.com/webmux/webmux/internal/tmux"
)

// WSHandler serves the terminal WebSocket endpoint. Each connection gets a
// client handle from the client manager; attaching to a session wires the
// session's chunk queue to the client's outbound queue.
type WSHandler struct {
	cfg      *config.Config
	sessions *services.SessionManager
	clients  *services.ClientManager
	tmux     tmux.Commander
	stats    *services.StatsService
}

// NewWSHandler creates the WebSocket handler.
func NewWSHandler(cfg *config.Config, sessions *services.SessionManager, clients *services.ClientManager, commander tmux.Commander, stats *services.StatsService) *WSHandler {
	return &WSHandler{
		cfg:      cfg,
		sessions: sessions,
		clients:  clients,
		tmux:     commander,
		stats:    stats,
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and runs the client loop. The
// wire mode is chosen once at connect time via the mode query parameter.
func (h *WSHandler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	mode := services.ModeJSON
	if c.Query("mode") == "binary" {
		mode = services.ModeBinary
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.handleConnection(conn, mode)
	}, websocket.Config{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
	})(c)
}

// connState is the per-connection state the dispatcher mutates.
type connState struct {
	client  *services.Client
	session *services.SharedSession
	decoder *term.StreamDecoder
	cancel  context.CancelFunc
}

func (h *WSHandler) handleConnection(conn *websocket.Conn, mode services.ClientMode) {
	clientID := uuid.New().String()
	client := h.clients.Register(clientID, mode)
	state := &connState{client: client}

	logger.Infof("🔌 Client %s connected (binary=%v)", clientID, mode == services.ModeBinary)

	// One writer goroutine per connection; everything outbound funnels
	// through the client's frame queue.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame := <-client.Frames():
				msgType := websocket.TextMessage
				if frame.Binary {
					msgType = websocket.BinaryMessage
				}
				if err := conn.WriteMessage(msgType, frame.Data); err != nil {
					logger.Debugf("Write to client %s failed: %v", clientID, err)
					return
				}
			case <-client.Done():
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debugf("Client %s read: %v", clientID, err)
			break
		}
		switch msgType {
		case websocket.TextMessage:
			var msg models.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				client.SendMessage(models.ErrorMessage("malformed message"))
				continue
			}
			h.dispatch(state, msg)
		case websocket.BinaryMessage:
			h.dispatchBinary(state, data)
		}
	}

	h.detach(state)
	h.clients.Unregister(clientID)
	_ = conn.Close()
	<-writerDone
	logger.Infof("🔌 Client %s disconnected", clientID)
}

// dispatch routes one JSON message from the client.
func (h *WSHandler) dispatch(state *connState, msg models.ClientMessage) {
	ctx := context.Background()
	client := state.client

	switch msg.Type {
	case models.MsgListSessions:
		sessions, err := h.tmux.ListSessions(ctx)
		if err != nil {
			client.SendMessage(models.ErrorMessage(err.Error()))
			return
		}
		if sessions == nil {
			sessions = []models.TmuxSession{}
		}
		client.SendMessage(models.ServerMessage{Type: models.MsgSessionsList, Sessions: sessions})

	case models.MsgAttachSession:
		h.attach(state, msg.SessionName)

	case models.MsgInput:
		if state.session == nil {
			client.SendMessage(models.ErrorMessage("not attached to a session"))
			return
		}
		state.session.SendInput(msg.Data)

	case models.MsgResize:
		if state.session == nil {
			client.SendMessage(models.ErrorMessage("not attached to a session"))
			return
		}
		state.session.Resize(int(msg.Cols), int(msg.Rows))

	case models.MsgListWindows:
		windows, err := h.tmux.ListWindows(ctx, msg.SessionName)
		if err != nil {
			client.SendMessage(models.ErrorMessage(err.Error()))
			return
		}
		if windows == nil {
			windows = []models.TmuxWindow{}
		}
		client.SendMessage(models.ServerMessage{
			Type:        models.MsgWindowsList,
			SessionName: msg.SessionName,
			Windows:     windows,
		})

	case models.MsgSelectWindow:
		err := h.tmux.SelectWindow(ctx, msg.SessionName, msg.WindowIndex)
		resp := models.ResultMessage(models.MsgWindowSelected, err)
		resp.SessionName = msg.SessionName
		client.SendMessage(resp)

	case models.MsgCreateSession:
		err := h.tmux.CreateSession(ctx, msg.Name)
		client.SendMessage(models.ResultMessage(models.MsgSessionCreated, err))

	case models.MsgKillSession:
		err := h.tmux.KillSession(ctx, msg.Name)
		if err == nil {
			h.sessions.CloseSession(msg.Name)
		}
		client.SendMessage(models.ResultMessage(models.MsgSessionKilled, err))

	case models.MsgRenameSession:
		err := h.tmux.RenameSession(ctx, msg.Name, msg.NewName)
		client.SendMessage(models.ResultMessage(models.MsgSessionRenamed, err))

	case models.MsgCreateWindow:
		err := h.tmux.CreateWindow(ctx, msg.SessionName, msg.WindowName)
		client.SendMessage(models.ResultMessage(models.MsgWindowCreated, err))

	case models.MsgKillWindow:
		err := h.tmux.KillWindow(ctx, msg.SessionName, msg.WindowIndex)
		client.SendMessage(models.ResultMessage(models.MsgWindowKilled, err))

	case models.MsgRenameWindow:
		err := h.tmux.RenameWindow(ctx, msg.SessionName, msg.WindowIndex, msg.NewName)
		client.SendMessage(models.ResultMessage(models.MsgWindowRenamed, err))

	case models.MsgGetStats:
		stats := h.stats.Collect()
		if client.Mode() == services.ModeBinary {
			payload, err := json.Marshal(stats)
			if err == nil {
				client.SendBinary(protocol.FrameStats, payload)
			}
			return
		}
		client.SendMessage(models.ServerMessage{Type: models.MsgStats, Stats: &stats})

	case models.MsgPing:
		client.SendMessage(models.ServerMessage{Type: models.MsgPong})

	default:
		client.SendMessage(models.ErrorMessage("unknown message type: " + msg.Type))
	}
}

// dispatchBinary routes one binary frame from the client. Only input,
// resize, and ping arrive this way.
func (h *WSHandler) dispatchBinary(state *connState, data []byte) {
	ft, payload, err := protocol.Decode(data)
	if err != nil {
		logger.Debugf("Client %s sent bad frame: %v", state.client.ID, err)
		return
	}

	switch ft {
	case protocol.FrameInput:
		if state.session != nil {
			state.session.SendInput(string(payload))
		}
	case protocol.FrameResize:
		cols, rows, err := protocol.DecodeResize(payload)
		if err != nil || state.session == nil {
			return
		}
		state.session.Resize(cols, rows)
	case protocol.FramePing:
		state.client.SendBinary(protocol.FramePong, nil)
	default:
		logger.Debugf("Client %s sent unexpected %s frame", state.client.ID, ft)
	}
}

// attach subscribes the client to a session's output. Re-attaching to a
// different session detaches from the old one first.
func (h *WSHandler) attach(state *connState, sessionName string) {
	client := state.client
	if sessionName == "" {
		client.SendMessage(models.ErrorMessage("sessionName is required"))
		return
	}
	if state.session != nil {
		h.detach(state)
	}

	session, err := h.sessions.Attach(context.Background(), sessionName, client.ID)
	if err != nil {
		client.SendMessage(models.ErrorMessage(err.Error()))
		return
	}

	client.SetSession(sessionName)
	state.session = session
	state.decoder = term.NewStreamDecoder()

	ctx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	go h.forwardOutput(ctx, state, session)

	client.SendMessage(models.ServerMessage{Type: models.MsgAttached, SessionName: sessionName})
	logger.Debugf("Client %s attached to %q", client.ID, sessionName)
}

func (h *WSHandler) detach(state *connState) {
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	if state.session != nil {
		state.session.RemoveClient(state.client.ID)
		state.session = nil
	}
	state.decoder = nil
	state.client.SetSession("")
}

// forwardOutput pumps session output to the client until the context is
// cancelled. Binary clients get the raw stream; JSON clients get line
// deltas computed against their last acknowledged snapshot, so an idle
// 10000-line scrollback costs nothing per refresh.
func (h *WSHandler) forwardOutput(ctx context.Context, state *connState, session *services.SharedSession) {
	client := state.client
	reader := session.Chunks().NewReader()
	decoder := state.decoder

	for {
		chunk, err := reader.ReadNext(ctx)
		if err != nil {
			return
		}
		text, _ := decoder.DecodeChunk(chunk.Data)
		if text == "" {
			continue
		}

		if client.Mode() == services.ModeBinary {
			client.SendOutput([]byte(text))
			continue
		}

		snapshot := term.ParseOutput(text, h.cfg.MaxLines)
		delta := session.Deltas().ComputeDelta(client.ID, snapshot)
		if delta == nil {
			continue
		}
		client.SendMessage(models.ServerMessage{
			Type:        models.MsgDelta,
			SessionName: session.Name(),
			Delta:       delta,
		})
	}
}
