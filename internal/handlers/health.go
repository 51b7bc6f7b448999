package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/sshrelay/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := database.Ping(); err != nil {
		dbStatus = "disconnected"
	}

	active := 0
	if Gateway != nil {
		active = Gateway.ActiveCount()
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             status,
		"database":           dbStatus,
		"active_connections": active,
	})
}
