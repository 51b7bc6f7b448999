package relay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gluk-w/claworc/sshrelay/internal/database"
	"github.com/gluk-w/claworc/sshrelay/internal/sshaudit"
	"github.com/gluk-w/claworc/sshrelay/internal/sshmanager"
	"github.com/gluk-w/claworc/sshrelay/internal/sshtest"
)

func readUntilData(t *testing.T, c *websocket.Conn, target string) string {
	t.Helper()
	var got string
	for !strings.Contains(got, target) {
		msg := recv(t, c)
		if msg.Type != MsgData {
			t.Fatalf("unexpected %+v while waiting for %q (got %q)", msg, target, got)
		}
		got += msg.Data
	}
	return got
}

func TestRelayEndToEnd(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	dir := t.TempDir()

	fileSink, err := sshaudit.NewFileSink(filepath.Join(dir, "logs", "ssh_commands.log"))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	t.Cleanup(func() { fileSink.Close() })

	db, err := database.Open(filepath.Join(dir, "relay.db"))
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	auditor := sshaudit.NewAuditor(db, 0)

	dialer, err := sshmanager.NewSSHDialer(sshmanager.DialerOptions{HandshakeTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSSHDialer: %v", err)
	}
	gw, httpSrv := startGateway(t, dialer, sshaudit.MultiSink{fileSink, auditor}, Options{Auditor: auditor})
	c := dialClient(t, httpSrv)

	sendJSON(t, c, map[string]any{
		"type":     "connect",
		"host":     srv.Host(),
		"port":     srv.Port(),
		"username": srv.User(),
		"password": srv.Password(),
	})
	expectType(t, c, MsgConnected)
	readUntilData(t, c, "$ ")

	for _, chunk := range []string{"e", "c", "h", "o", " ", "h", "i", "x", "\x7f"} {
		sendJSON(t, c, dataMsg(chunk))
	}
	readUntilData(t, c, "echo hi")
	sendJSON(t, c, dataMsg("\r"))

	content := waitForFile(t, fileSink.Path(), "echo hi")
	if !strings.HasPrefix(content, "# SSH Command Log\n") {
		t.Errorf("missing header: %q", content)
	}
	lineRe := regexp.MustCompile(`(?m)^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\] \[tester@127\.0\.0\.1\] echo hi$`)
	if !lineRe.MatchString(content) {
		t.Errorf("audit file has no well-formed record:\n%s", content)
	}

	c.Close(websocket.StatusNormalClosure, "")
	if !srv.WaitActive(0, 5*time.Second) {
		t.Errorf("upstream SSH connection leaked: %d active", srv.ActiveConnections())
	}
	eventually(t, "deregistration", func() bool { return gw.ActiveCount() == 0 })

	var result *sshaudit.QueryResult
	eventually(t, "disconnect audit entry", func() bool {
		result, err = auditor.Query(sshaudit.QueryOptions{Host: srv.Host()})
		return err == nil && result.Total == 3
	})
	events := map[string]bool{}
	for _, l := range result.Entries {
		events[l.EventType] = true
		if l.ConnectionID != result.Entries[0].ConnectionID || l.ConnectionID == "" {
			t.Errorf("entry %+v not tied to connection %q", l, result.Entries[0].ConnectionID)
		}
	}
	for _, want := range []string{sshaudit.EventConnectionEstablished, sshaudit.EventCommandExecution, sshaudit.EventConnectionTerminated} {
		if !events[want] {
			t.Errorf("missing audit event %s in %+v", want, result.Entries)
		}
	}
}

func TestRelayEndToEndBadPassword(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	dialer, err := sshmanager.NewSSHDialer(sshmanager.DialerOptions{HandshakeTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSSHDialer: %v", err)
	}
	_, httpSrv := startGateway(t, dialer, nil, Options{})
	c := dialClient(t, httpSrv)

	sendJSON(t, c, map[string]any{
		"type":     "connect",
		"host":     srv.Host(),
		"port":     srv.Port(),
		"username": srv.User(),
		"password": "nope",
	})
	if msg := expectType(t, c, MsgError); msg.Message != errAuthFailed {
		t.Errorf("message = %q", msg.Message)
	}
	expectClose(t, c, closeUpstreamError)
}

func TestRelayEndToEndShellExit(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	dialer, err := sshmanager.NewSSHDialer(sshmanager.DialerOptions{HandshakeTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSSHDialer: %v", err)
	}
	_, httpSrv := startGateway(t, dialer, nil, Options{})
	c := dialClient(t, httpSrv)

	sendJSON(t, c, map[string]any{
		"type":     "connect",
		"host":     srv.Host(),
		"port":     srv.Port(),
		"username": srv.User(),
		"password": srv.Password(),
	})
	expectType(t, c, MsgConnected)
	readUntilData(t, c, "$ ")
	sendJSON(t, c, dataMsg("exit\r"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var msg outboundMessage
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("connection ended before disconnected: %v", err)
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == MsgDisconnected {
			break
		}
	}
	expectClose(t, c, websocket.StatusNormalClosure)
	if !srv.WaitActive(0, 5*time.Second) {
		t.Errorf("upstream SSH connection leaked: %d active", srv.ActiveConnections())
	}
}

func waitForFile(t *testing.T, path, substr string) string {
	t.Helper()
	var content string
	eventually(t, "audit file content", func() bool {
		b, err := os.ReadFile(path)
		content = string(b)
		return err == nil && strings.Contains(content, substr)
	})
	return content
}
