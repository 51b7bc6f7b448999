package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/sshrelay/internal/relay"
)

// ListConnections returns the live relay connections.
func ListConnections(w http.ResponseWriter, r *http.Request) {
	if Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "Relay not initialized")
		return
	}

	conns := Gateway.Connections()
	if conns == nil {
		conns = []relay.ConnInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
		"active":      len(conns),
		"total":       Gateway.TotalCount(),
	})
}
