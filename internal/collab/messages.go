package collab

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the closed set of wire message types.
type MessageType string

const (
	MsgCreateSession    MessageType = "create_session"
	MsgJoinSession      MessageType = "join_session"
	MsgLeaveSession     MessageType = "leave_session"
	MsgUserJoined       MessageType = "user_joined"
	MsgUserLeft         MessageType = "user_left"
	MsgUserStatusUpdate MessageType = "user_status_update"
	MsgSessionJoined    MessageType = "session_joined"
	MsgTerminalInput    MessageType = "terminal_input"
	MsgTerminalOutput   MessageType = "terminal_output"
	MsgCursorUpdate     MessageType = "cursor_update"
	MsgSelectionChange  MessageType = "selection_change"
	MsgPing             MessageType = "ping"
	MsgPong             MessageType = "pong"
)

// Valid reports whether t is part of the closed enumeration.
func (t MessageType) Valid() bool {
	switch t {
	case MsgCreateSession, MsgJoinSession, MsgLeaveSession,
		MsgUserJoined, MsgUserLeft, MsgUserStatusUpdate, MsgSessionJoined,
		MsgTerminalInput, MsgTerminalOutput, MsgCursorUpdate,
		MsgSelectionChange, MsgPing, MsgPong:
		return true
	}
	return false
}

// Envelope is the wire frame for every collaboration message. It exists
// only on the wire and is never persisted.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// Cursor is a participant's terminal cursor position.
type Cursor struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a participant's text selection range.
type Selection struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// User is one participant in a shared session.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	Color       string    `json:"color,omitempty"`
	Cursor      Cursor    `json:"cursor"`
	IsActive    bool      `json:"isActive"`
	LastSeen    time.Time `json:"lastSeen"`
}

// SessionSettings controls what participants may do in a shared session.
type SessionSettings struct {
	MaxUsers          int  `json:"maxUsers"`
	AllowInput        bool `json:"allowInput"`
	AllowFileTransfer bool `json:"allowFileTransfer"`
	ShareCursor       bool `json:"shareCursor"`
}

// DefaultSessionSettings are applied when CreateSession options leave a
// field unset.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		MaxUsers:    8,
		AllowInput:  true,
		ShareCursor: true,
	}
}
