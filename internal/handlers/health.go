package handlers

import "net/http"

// Health reports liveness plus a few cheap counters.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": Sessions.SessionCount(),
		"tabs":     Tabs.TabCount(),
		"collab":   Collab.State(),
	})
}
