package collab

import (
	"encoding/json"
	"fmt"
	"log"
)

// sessionJoinedData is the relay's reply to join_session: the full
// participant roster at the moment of joining.
type sessionJoinedData struct {
	Users    []User          `json:"users"`
	Settings SessionSettings `json:"settings"`
}

// handleMessage dispatches one inbound frame. Malformed frames and
// unknown types emit error events but never drop the channel.
func (h *Hub) handleMessage(gen uint64, data []byte) {
	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[collab] unparseable frame: %v", err)
		h.publish(EventParseError, err.Error())
		return
	}
	if !env.Type.Valid() {
		h.publish(EventProtocolError, fmt.Sprintf("unknown message type %q", env.Type))
		return
	}

	switch env.Type {
	case MsgSessionJoined:
		h.handleSessionJoined(env)

	case MsgUserJoined:
		var user User
		if err := json.Unmarshal(env.Data, &user); err != nil || user.ID == "" {
			h.publish(EventProtocolError, "user_joined: missing user")
			return
		}
		h.mu.Lock()
		h.users[user.ID] = cloneUser(user)
		h.mu.Unlock()
		h.publish(EventUserJoined, user)

	case MsgUserLeft:
		if env.UserID == "" {
			h.publish(EventProtocolError, "user_left: missing userId")
			return
		}
		h.mu.Lock()
		delete(h.users, env.UserID)
		h.mu.Unlock()
		h.publish(EventUserLeft, env.UserID)

	case MsgUserStatusUpdate:
		h.handleUserStatus(env)

	case MsgTerminalInput:
		h.publish(EventTerminalInput, &env)

	case MsgTerminalOutput:
		h.publish(EventTerminalOutput, &env)

	case MsgCursorUpdate:
		h.handleCursor(env)

	case MsgSelectionChange:
		h.publish(EventSelectionChange, &env)

	case MsgPing:
		h.send(Envelope{Type: MsgPong})

	case MsgPong:
		h.mu.Lock()
		h.awaitingPong = false
		if h.pongDeadline != nil {
			h.pongDeadline.Cancel()
			h.pongDeadline = nil
		}
		h.mu.Unlock()

	default:
		// create_session/join_session/leave_session are client-to-relay
		// only; receiving one back is a relay bug, not a fatal error.
		h.publish(EventProtocolError, fmt.Sprintf("unexpected %s from relay", env.Type))
	}
}

// handleSessionJoined replaces the roster with the relay's authoritative
// participant list and adopts the session id from the envelope.
func (h *Hub) handleSessionJoined(env Envelope) {
	var joined sessionJoinedData
	if err := json.Unmarshal(env.Data, &joined); err != nil {
		h.publish(EventProtocolError, "session_joined: bad payload")
		return
	}

	h.mu.Lock()
	if env.SessionID != "" {
		h.sessionID = env.SessionID
	}
	if joined.Settings.MaxUsers > 0 {
		h.settings = joined.Settings
	}
	h.users = make(map[string]*User, len(joined.Users)+1)
	for i := range joined.Users {
		u := joined.Users[i]
		h.users[u.ID] = &u
	}
	if h.localUser.ID != "" {
		if _, ok := h.users[h.localUser.ID]; !ok {
			h.users[h.localUser.ID] = cloneUser(h.localUser)
		}
	}
	count := len(h.users)
	h.mu.Unlock()

	log.Printf("[collab] joined session %s with %d participants", env.SessionID, count)
	h.publish(EventSessionJoined, env.SessionID)
}

// handleUserStatus patches presence for a known participant.
func (h *Hub) handleUserStatus(env Envelope) {
	var user User
	if err := json.Unmarshal(env.Data, &user); err != nil || user.ID == "" {
		h.publish(EventProtocolError, "user_status_update: missing user")
		return
	}

	h.mu.Lock()
	if existing, ok := h.users[user.ID]; ok {
		existing.IsActive = user.IsActive
		if !user.LastSeen.IsZero() {
			existing.LastSeen = user.LastSeen
		}
	} else {
		h.users[user.ID] = cloneUser(user)
	}
	h.mu.Unlock()
	h.publish(EventUserStatus, user)
}

// handleCursor updates the sender's cursor in the roster and re-emits the
// frame for UI consumers.
func (h *Hub) handleCursor(env Envelope) {
	var cursor Cursor
	if err := json.Unmarshal(env.Data, &cursor); err != nil {
		h.publish(EventProtocolError, "cursor_update: bad payload")
		return
	}
	h.mu.Lock()
	if u, ok := h.users[env.UserID]; ok {
		u.Cursor = cursor
	}
	h.mu.Unlock()
	h.publish(EventCursorUpdate, &env)
}
