package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shellmux/shellmux/internal/collab"
)

type collabConnectRequest struct {
	URL  string      `json:"url"`
	User collab.User `json:"user"`
}

type collabJoinRequest struct {
	SessionID string      `json:"session_id"`
	User      collab.User `json:"user"`
}

// CollabStatus reports the channel state and current participants.
func CollabStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":             Collab.State(),
		"session_id":        Collab.SessionID(),
		"reconnect_attempt": Collab.ReconnectAttempt(),
		"users":             Collab.GetConnectedUsers(),
	})
}

// CollabConnect opens the collaboration channel to a relay.
func CollabConnect(w http.ResponseWriter, r *http.Request) {
	var req collabConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.URL == "" || req.User.ID == "" {
		writeError(w, http.StatusBadRequest, "url and user.id are required")
		return
	}
	if err := Collab.Connect(r.Context(), req.URL, req.User); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": Collab.State()})
}

// CollabDisconnect performs a clean close of the collaboration channel.
func CollabDisconnect(w http.ResponseWriter, r *http.Request) {
	Collab.Disconnect()
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": Collab.State()})
}

// CollabCreateSession creates a shared session owned by the local user.
func CollabCreateSession(w http.ResponseWriter, r *http.Request) {
	var settings collab.SessionSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		settings = collab.DefaultSessionSettings()
	}
	id, ok := Collab.CreateSession(settings)
	if !ok {
		writeError(w, http.StatusConflict, "Collaboration channel not connected")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// CollabJoinSession joins an existing shared session.
func CollabJoinSession(w http.ResponseWriter, r *http.Request) {
	var req collabJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.SessionID == "" || req.User.ID == "" {
		writeError(w, http.StatusBadRequest, "session_id and user.id are required")
		return
	}
	if !Collab.JoinSession(req.SessionID, req.User) {
		writeError(w, http.StatusConflict, "Collaboration channel not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": req.SessionID})
}

// CollabLeaveSession leaves the current shared session.
func CollabLeaveSession(w http.ResponseWriter, r *http.Request) {
	Collab.LeaveSession()
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}
