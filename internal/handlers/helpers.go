// Package handlers exposes the HTTP and WebSocket API. Shared components
// are injected as package vars from main during startup.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shellmux/shellmux/internal/collab"
	"github.com/shellmux/shellmux/internal/connection"
	"github.com/shellmux/shellmux/internal/registry"
)

// Set from main.go during init.
var (
	Sessions *connection.Manager
	Tabs     *registry.Registry
	Collab   *collab.Hub
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
