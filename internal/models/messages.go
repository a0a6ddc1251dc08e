package models

// Client → server message types.
const (
	MsgListSessions  = "list-sessions"
	MsgAttachSession = "attach-session"
	MsgInput         = "input"
	MsgResize        = "resize"
	MsgListWindows   = "list-windows"
	MsgSelectWindow  = "select-window"
	MsgCreateSession = "create-session"
	MsgKillSession   = "kill-session"
	MsgRenameSession = "rename-session"
	MsgCreateWindow  = "create-window"
	MsgKillWindow    = "kill-window"
	MsgRenameWindow  = "rename-window"
	MsgGetStats      = "get-stats"
	MsgPing          = "ping"
)

// Server → client message types.
const (
	MsgSessionsList   = "sessions-list"
	MsgAttached       = "attached"
	MsgOutput         = "output"
	MsgDelta          = "delta"
	MsgDisconnected   = "disconnected"
	MsgWindowsList    = "windows-list"
	MsgWindowSelected = "window-selected"
	MsgPong           = "pong"
	MsgSessionCreated = "session-created"
	MsgSessionKilled  = "session-killed"
	MsgSessionRenamed = "session-renamed"
	MsgWindowCreated  = "window-created"
	MsgWindowKilled   = "window-killed"
	MsgWindowRenamed  = "window-renamed"
	MsgStats          = "stats"
	MsgError          = "error"
	MsgDotfileChanged = "dotfile-changed"
)

// ClientMessage is the JSON frame clients send. Type selects the operation;
// the remaining fields are populated per type.
type ClientMessage struct {
	Type        string `json:"type"`
	SessionName string `json:"sessionName,omitempty"`
	Name        string `json:"name,omitempty"`
	NewName     string `json:"newName,omitempty"`
	WindowName  string `json:"windowName,omitempty"`
	WindowIndex string `json:"windowIndex,omitempty"`
	Data        string `json:"data,omitempty"`
	Cols        uint16 `json:"cols,omitempty"`
	Rows        uint16 `json:"rows,omitempty"`
}

// ServerMessage is the JSON frame the server emits on the text path. The
// list fields use omitzero so a deliberately empty list reaches the wire as
// [] while messages that never touch the field omit it.
type ServerMessage struct {
	Type        string        `json:"type"`
	Sessions    []TmuxSession `json:"sessions,omitzero"`
	Windows     []TmuxWindow  `json:"windows,omitzero"`
	SessionName string        `json:"sessionName,omitempty"`
	WindowIndex *int          `json:"windowIndex,omitempty"`
	Data        string        `json:"data,omitempty"`
	Delta       any           `json:"delta,omitempty"`
	Success     *bool         `json:"success,omitempty"`
	Error       string        `json:"error,omitempty"`
	Stats       *SystemStats  `json:"stats,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// OutputMessage builds an Output frame.
func OutputMessage(data string) ServerMessage {
	return ServerMessage{Type: MsgOutput, Data: data}
}

// ErrorMessage builds a generic error frame.
func ErrorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MsgError, Message: msg}
}

// ResultMessage builds a success/error response of the given type.
func ResultMessage(msgType string, err error) ServerMessage {
	ok := err == nil
	msg := ServerMessage{Type: msgType, Success: &ok}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}
