package sshaudit

import (
	"net"
	"net/http"
	"time"
)

// LogConnection logs that a relay connection reached its upstream host.
func (a *Auditor) LogConnection(connID, host, username, sourceIP string) {
	a.Log(AuditEntry{
		EventType:    EventConnectionEstablished,
		ConnectionID: connID,
		Host:         host,
		Username:     username,
		SourceIP:     sourceIP,
	})
}

// LogConnectionFailed logs a failed upstream handshake or shell allocation.
func (a *Auditor) LogConnectionFailed(connID, host, username, sourceIP, reason string) {
	a.Log(AuditEntry{
		EventType:    EventConnectionFailed,
		ConnectionID: connID,
		Host:         host,
		Username:     username,
		SourceIP:     sourceIP,
		Details:      reason,
	})
}

// LogDisconnection logs the end of a relay connection that had an upstream.
func (a *Auditor) LogDisconnection(connID, host, username, reason string, duration time.Duration) {
	a.Log(AuditEntry{
		EventType:    EventConnectionTerminated,
		ConnectionID: connID,
		Host:         host,
		Username:     username,
		Details:      reason + " duration=" + duration.Round(time.Millisecond).String(),
	})
}

// ExtractSourceIP returns the host part of r.RemoteAddr. Forwarding
// headers are not consulted here: behind a trusted proxy the router's RealIP
// middleware rewrites RemoteAddr first.
func ExtractSourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
