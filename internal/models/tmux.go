// Package models holds the plain data types shared between services and
// handlers: tmux session/window descriptions, the WebSocket message schema,
// and system statistics.
package models

import "time"

// TmuxSession describes one session as reported by the tmux server.
type TmuxSession struct {
	Name       string    `json:"name"`
	Attached   bool      `json:"attached"`
	Created    time.Time `json:"created"`
	Windows    int       `json:"windows"`
	Dimensions string    `json:"dimensions"`
}

// TmuxWindow describes one window within a session.
type TmuxWindow struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Panes  int    `json:"panes"`
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	Name string `json:"name,omitempty"`
}

// RenameSessionRequest is the body of POST /v1/sessions/:name/rename.
type RenameSessionRequest struct {
	NewName string `json:"newName"`
}

// CreateWindowRequest is the body of POST /v1/sessions/:name/windows.
type CreateWindowRequest struct {
	WindowName string `json:"windowName,omitempty"`
}

// RenameWindowRequest is the body of window rename requests.
type RenameWindowRequest struct {
	NewName string `json:"newName"`
}
