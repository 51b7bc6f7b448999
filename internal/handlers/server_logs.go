package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/claworc/sshrelay/internal/logging"
)

const (
	defaultLogLines = 200
	maxLogLines     = 5000
)

// GetServerLogs returns the tail of the relay's own log file.
//
//	lines - number of lines (default 200, capped at 5000)
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid lines parameter")
			return
		}
		lines = min(n, maxLogLines)
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read server log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  content,
		"lines": lines,
	})
}
