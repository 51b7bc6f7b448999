package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/claworc/sshrelay/internal/database"
	"github.com/gluk-w/claworc/sshrelay/internal/logging"
	"github.com/gluk-w/claworc/sshrelay/internal/relay"
	"github.com/gluk-w/claworc/sshrelay/internal/sshaudit"
	"github.com/gluk-w/claworc/sshrelay/internal/sshmanager"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	if err := database.Init(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("database.Init: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		database.DB = nil
	})
}

func setupAuditor(t *testing.T) *sshaudit.Auditor {
	t.Helper()
	setupTestDB(t)
	Auditor = sshaudit.NewAuditor(database.DB, 30)
	t.Cleanup(func() { Auditor = nil })
	return Auditor
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

// --- health ---

func TestHealthCheck_NoDatabase(t *testing.T) {
	database.DB = nil
	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))

	var body map[string]interface{}
	decodeBody(t, w, &body)
	if body["status"] != "unhealthy" || body["database"] != "disconnected" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthCheck_Healthy(t *testing.T) {
	setupTestDB(t)
	Gateway = relay.NewGateway(nil, nil, relay.Options{})
	t.Cleanup(func() { Gateway = nil })

	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	decodeBody(t, w, &body)
	if body["status"] != "healthy" || body["database"] != "connected" {
		t.Errorf("body = %v", body)
	}
	if body["active_connections"] != float64(0) {
		t.Errorf("active_connections = %v", body["active_connections"])
	}
}

// --- audit ---

func seedAudit(t *testing.T, a *sshaudit.Auditor) {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []sshaudit.AuditEntry{
		{EventType: sshaudit.EventConnectionEstablished, ConnectionID: "c1", Host: "web-1", Username: "alice", CreatedAt: base},
		{EventType: sshaudit.EventCommandExecution, Host: "web-1", Username: "alice", Details: "ls", CreatedAt: base.Add(time.Minute)},
		{EventType: sshaudit.EventCommandExecution, Host: "web-1", Username: "alice", Details: "pwd", CreatedAt: base.Add(2 * time.Minute)},
		{EventType: sshaudit.EventConnectionEstablished, ConnectionID: "c2", Host: "db-1", Username: "bob", CreatedAt: base.Add(3 * time.Minute)},
		{EventType: sshaudit.EventConnectionFailed, ConnectionID: "c3", Host: "db-1", Username: "mallory", CreatedAt: base.Add(4 * time.Minute)},
	}
	for _, e := range entries {
		if err := a.Log(e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestGetAuditLogs_NotInitialized(t *testing.T) {
	Auditor = nil
	w := httptest.NewRecorder()
	GetAuditLogs(w, httptest.NewRequest("GET", "/api/v1/audit", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestGetAuditLogs_Filters(t *testing.T) {
	seedAudit(t, setupAuditor(t))

	tests := []struct {
		query string
		total int64
	}{
		{"", 5},
		{"?event_type=command_execution", 2},
		{"?host=db-1", 2},
		{"?username=alice", 3},
		{"?connection_id=c2", 1},
		{"?since=2024-03-01T12:02:00Z", 3},
		{"?until=2024-03-01T12:01:00Z", 2},
		{"?host=web-1&event_type=connection_established", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			GetAuditLogs(w, httptest.NewRequest("GET", "/api/v1/audit"+tt.query, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			var result sshaudit.QueryResult
			decodeBody(t, w, &result)
			if result.Total != tt.total {
				t.Errorf("total = %d, want %d", result.Total, tt.total)
			}
		})
	}
}

func TestGetAuditLogs_PaginationNewestFirst(t *testing.T) {
	seedAudit(t, setupAuditor(t))

	w := httptest.NewRecorder()
	GetAuditLogs(w, httptest.NewRequest("GET", "/api/v1/audit?limit=2&offset=1", nil))
	var result sshaudit.QueryResult
	decodeBody(t, w, &result)

	if result.Total != 5 || result.Limit != 2 || result.Offset != 1 {
		t.Errorf("result meta = total %d limit %d offset %d", result.Total, result.Limit, result.Offset)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("entries = %d", len(result.Entries))
	}
	if result.Entries[0].ConnectionID != "c2" {
		t.Errorf("first entry = %+v, want connection c2", result.Entries[0])
	}
}

func TestGetAuditLogs_InvalidParams(t *testing.T) {
	setupAuditor(t)
	for _, q := range []string{"?since=yesterday", "?until=2024-13-01", "?limit=0", "?limit=x", "?offset=-1"} {
		w := httptest.NewRecorder()
		GetAuditLogs(w, httptest.NewRequest("GET", "/api/v1/audit"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestPurgeAuditLogs(t *testing.T) {
	a := setupAuditor(t)
	now := time.Now()
	a.Log(sshaudit.AuditEntry{EventType: sshaudit.EventConnectionEstablished, CreatedAt: now.AddDate(0, 0, -60)})
	a.Log(sshaudit.AuditEntry{EventType: sshaudit.EventConnectionEstablished, CreatedAt: now.AddDate(0, 0, -10)})
	a.Log(sshaudit.AuditEntry{EventType: sshaudit.EventConnectionEstablished, CreatedAt: now})

	w := httptest.NewRecorder()
	PurgeAuditLogs(w, httptest.NewRequest("POST", "/api/v1/audit/purge", nil))
	var body map[string]interface{}
	decodeBody(t, w, &body)
	if body["deleted"] != float64(1) || body["retention_days"] != float64(30) {
		t.Errorf("default purge body = %v", body)
	}

	w = httptest.NewRecorder()
	PurgeAuditLogs(w, httptest.NewRequest("POST", "/api/v1/audit/purge?days=5", nil))
	decodeBody(t, w, &body)
	if body["deleted"] != float64(1) || body["retention_days"] != float64(5) {
		t.Errorf("days=5 purge body = %v", body)
	}

	w = httptest.NewRecorder()
	PurgeAuditLogs(w, httptest.NewRequest("POST", "/api/v1/audit/purge?days=0", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("days=0 status = %d, want 400", w.Code)
	}
}

// --- rate limit ---

func TestGetRateLimitStatus(t *testing.T) {
	RateLimiter = nil
	w := httptest.NewRecorder()
	GetRateLimitStatus(w, httptest.NewRequest("GET", "/api/v1/audit/rate-limit?ip=1.2.3.4", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("nil limiter status = %d", w.Code)
	}

	RateLimiter = sshmanager.NewRateLimiter(sshmanager.RateLimitConfig{MaxAttemptsPerMinute: 5, MaxConsecFailures: 1, BlockDuration: time.Minute})
	t.Cleanup(func() { RateLimiter = nil })
	RateLimiter.Allow("1.2.3.4")
	RateLimiter.RecordFailure("1.2.3.4")

	w = httptest.NewRecorder()
	GetRateLimitStatus(w, httptest.NewRequest("GET", "/api/v1/audit/rate-limit?ip=1.2.3.4", nil))
	var status sshmanager.RateLimitStatus
	decodeBody(t, w, &status)
	if !status.Blocked || status.RecentAttempts != 1 || status.ConsecFailures != 1 {
		t.Errorf("status = %+v", status)
	}

	w = httptest.NewRecorder()
	GetRateLimitStatus(w, httptest.NewRequest("GET", "/api/v1/audit/rate-limit", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing ip status = %d", w.Code)
	}
}

// --- connections ---

func TestListConnections(t *testing.T) {
	Gateway = nil
	w := httptest.NewRecorder()
	ListConnections(w, httptest.NewRequest("GET", "/api/v1/connections", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("nil gateway status = %d", w.Code)
	}

	Gateway = relay.NewGateway(nil, nil, relay.Options{})
	t.Cleanup(func() { Gateway = nil })

	w = httptest.NewRecorder()
	ListConnections(w, httptest.NewRequest("GET", "/api/v1/connections", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"connections":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

// --- server logs ---

func TestGetServerLogs(t *testing.T) {
	logging.Init(filepath.Join(t.TempDir(), "server.log"))
	t.Cleanup(func() { logging.Close() })

	log.Printf("[relay] first line")
	log.Printf("[relay] second line")

	w := httptest.NewRecorder()
	GetServerLogs(w, httptest.NewRequest("GET", "/api/v1/logs?lines=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Logs  string `json:"logs"`
		Lines int    `json:"lines"`
	}
	decodeBody(t, w, &body)
	if !strings.Contains(body.Logs, "second line") || strings.Contains(body.Logs, "first line") {
		t.Errorf("logs = %q", body.Logs)
	}
	if body.Lines != 1 {
		t.Errorf("lines = %d, want 1", body.Lines)
	}

	w = httptest.NewRecorder()
	GetServerLogs(w, httptest.NewRequest("GET", "/api/v1/logs?lines=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("lines=abc status = %d, want 400", w.Code)
	}
}
