package handlers

import (
	"net/http"
	"strconv"

	"github.com/shellmux/shellmux/internal/logging"
)

// GetServerLogs returns the last N lines of the server log file.
// Query parameter "lines" defaults to 200, capped at 5000.
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	if lines > 5000 {
		lines = 5000
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read log file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}

// ClearServerLogs truncates the server log file.
func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear log file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
