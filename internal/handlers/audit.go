package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/claworc/sshrelay/internal/sshaudit"
)

// GetAuditLogs returns paginated relay audit entries, newest first.
//
// Query parameters:
//
//	event_type    - filter by event type
//	connection_id - filter by relay connection
//	host          - filter by upstream host
//	username      - filter by upstream username
//	since         - RFC3339 timestamp, only entries after this time
//	until         - RFC3339 timestamp, only entries before this time
//	limit         - max entries to return (default 50, max 1000)
//	offset        - pagination offset
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}

	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		EventType:    q.Get("event_type"),
		ConnectionID: q.Get("connection_id"),
		Host:         q.Get("host"),
		Username:     q.Get("username"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	result, err := Auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// PurgeAuditLogs deletes audit rows past the retention period. The audit
// file is not touched.
//
// Query parameters:
//
//	days - number of days to retain (uses configured default if omitted)
func PurgeAuditLogs(w http.ResponseWriter, r *http.Request) {
	if Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		days = n
	}

	deleted, err := Auditor.PurgeOlderThan(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge audit logs")
		return
	}

	if days == 0 {
		days = Auditor.RetentionDays()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":        deleted,
		"retention_days": days,
	})
}

// GetRateLimitStatus reports the connect rate-limit state of one client IP.
func GetRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if RateLimiter == nil {
		writeError(w, http.StatusServiceUnavailable, "Rate limiting disabled")
		return
	}
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "Missing ip parameter")
		return
	}
	writeJSON(w, http.StatusOK, RateLimiter.Status(ip))
}
