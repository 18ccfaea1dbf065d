package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shellmux/shellmux/internal/connection"
	"github.com/shellmux/shellmux/internal/registry"
)

type createTabRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
}

// ListTabs returns every tab in creation order plus the active tab id.
func ListTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tabs":       Tabs.AllTabs(),
		"active_tab": Tabs.ActiveTabID(),
		"max_tabs":   Tabs.MaxTabs(),
	})
}

// CreateTab creates a session and its tab. Rejected with 429 when the
// connect rate limit for this host/user is exhausted and 409 at the tab
// cap.
func CreateTab(w http.ResponseWriter, r *http.Request) {
	var req createTabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Port == 0 {
		req.Port = 22
	}
	cfg := connection.ConnectionConfig{
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		Password:   req.Password,
		PrivateKey: []byte(req.PrivateKey),
		Passphrase: req.Passphrase,
	}

	sess, tab, err := Tabs.CreateSession(cfg, req.Name)
	if err != nil {
		var limitErr *registry.ResourceLimitError
		var rateErr *connection.RateLimitedError
		var valErr *connection.ValidationError
		switch {
		case errors.As(err, &limitErr):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &rateErr):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.As(err, &valErr):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"tab":        tab,
		"session_id": sess.ID,
	})
}

// ConnectTab opens the tab's session transport.
func ConnectTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if err := Tabs.Connect(r.Context(), tabID); err != nil {
		if errors.Is(err, connection.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Tab not found")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	tab, _ := Tabs.GetTab(tabID)
	writeJSON(w, http.StatusOK, tab)
}

// ActivateTab makes the tab the single active one.
func ActivateTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if !Tabs.ActivateTab(tabID) {
		writeError(w, http.StatusNotFound, "Tab not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_tab": tabID})
}

// CloseTab disconnects the owning session and removes the tab.
func CloseTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if !Tabs.CloseTab(tabID) {
		writeError(w, http.StatusNotFound, "Tab not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SessionMetrics returns the session's performance measurements.
func SessionMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s := Sessions.GetSession(sessionID)
	if s == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    s.ID,
		"connected":     s.Connected(),
		"created_at":    s.CreatedAt,
		"last_activity": s.LastActivity(),
		"metrics":       s.Metrics(),
	})
}

// SessionEvents returns the session's lifecycle event history. History
// survives disconnect, so this works for closed sessions too.
func SessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"events":     Sessions.Events(sessionID),
	})
}

// OptimizeMobile switches the session to the low-bandwidth profile.
func OptimizeMobile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !Sessions.OptimizeForMobile(sessionID) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "optimized"})
}
