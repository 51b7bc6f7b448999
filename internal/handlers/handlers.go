package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gluk-w/claworc/sshrelay/internal/relay"
	"github.com/gluk-w/claworc/sshrelay/internal/sshaudit"
	"github.com/gluk-w/claworc/sshrelay/internal/sshmanager"
)

// Set from main.go during init. Handlers report 503 while a dependency is nil.
var (
	Auditor     *sshaudit.Auditor
	Gateway     *relay.Gateway
	RateLimiter *sshmanager.RateLimiter
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// writeError responds with {"detail": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
