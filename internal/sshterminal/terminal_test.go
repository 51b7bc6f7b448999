package sshterminal

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/claworc/sshrelay/internal/sshtest"
	gossh "golang.org/x/crypto/ssh"
)

// readUntil reads from r until the accumulated output contains the target string
// or the timeout expires.
func readUntil(t *testing.T, r io.Reader, target string, timeout time.Duration) string {
	t.Helper()
	type chunk struct {
		data string
		err  error
	}
	ch := make(chan chunk, 1)
	var accumulated string
	deadline := time.After(timeout)
	for {
		go func() {
			buf := make([]byte, 4096)
			n, err := r.Read(buf)
			ch <- chunk{string(buf[:n]), err}
		}()
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got: %q", target, accumulated)
		case c := <-ch:
			accumulated += c.data
			if strings.Contains(accumulated, target) {
				return accumulated
			}
			if c.err != nil {
				t.Fatalf("read error waiting for %q: %v, accumulated: %q", target, c.err, accumulated)
			}
		}
	}
}

func TestCreateInteractiveSession_Echo(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	client := srv.Dial(t)

	session, err := CreateInteractiveSession(client, PTYOptions{})
	if err != nil {
		t.Fatalf("CreateInteractiveSession: %v", err)
	}
	defer session.Close()

	readUntil(t, session, "$ ", 5*time.Second)

	if _, err := session.Write([]byte("hello terminal")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, session, "hello terminal", 5*time.Second)

	if got := srv.PTYTerm(); got != DefaultTerm {
		t.Errorf("pty term = %q, want %q", got, DefaultTerm)
	}
}

func TestCreateInteractiveSession_CustomTerm(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	client := srv.Dial(t)

	session, err := CreateInteractiveSession(client, PTYOptions{Term: "vt100", Cols: 100, Rows: 30})
	if err != nil {
		t.Fatalf("CreateInteractiveSession: %v", err)
	}
	defer session.Close()
	readUntil(t, session, "$ ", 5*time.Second)

	if got := srv.PTYTerm(); got != "vt100" {
		t.Errorf("pty term = %q, want vt100", got)
	}
}

func TestCreateInteractiveSession_ShellExitGivesEOF(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{
		OnShell: func(ch gossh.Channel) {
			ch.Write([]byte("bye\r\n"))
		},
	})
	client := srv.Dial(t)

	session, err := CreateInteractiveSession(client, PTYOptions{})
	if err != nil {
		t.Fatalf("CreateInteractiveSession: %v", err)
	}
	defer session.Close()

	out, err := io.ReadAll(session)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "bye\r\n" {
		t.Errorf("output = %q, want %q", out, "bye\r\n")
	}
}

func TestCreateInteractiveSession_ShellRejected(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{RejectShell: true})
	client := srv.Dial(t)

	if _, err := CreateInteractiveSession(client, PTYOptions{}); err == nil {
		t.Fatal("expected error when server rejects shell")
	} else if !strings.Contains(err.Error(), "start shell") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResize(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	client := srv.Dial(t)

	session, err := CreateInteractiveSession(client, PTYOptions{})
	if err != nil {
		t.Fatalf("CreateInteractiveSession: %v", err)
	}
	defer session.Close()
	readUntil(t, session, "$ ", 5*time.Second)

	if err := session.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := session.Resize(9000, 9000); err != nil {
		t.Fatalf("Resize (clamped): %v", err)
	}
	if err := session.Resize(0, 10); err == nil {
		t.Error("expected error for zero columns")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(srv.WindowChanges()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := srv.WindowChanges()
	if len(got) != 2 {
		t.Fatalf("expected 2 window changes, got %v", got)
	}
	if got[0] != (sshtest.WindowSize{Cols: 120, Rows: 40}) {
		t.Errorf("first resize = %+v", got[0])
	}
	if got[1] != (sshtest.WindowSize{Cols: uint32(MaxTermCols), Rows: uint32(MaxTermRows)}) {
		t.Errorf("clamped resize = %+v", got[1])
	}
}

func TestClampSize(t *testing.T) {
	tests := []struct {
		cols, rows         uint16
		wantCols, wantRows uint16
	}{
		{80, 24, 80, 24},
		{501, 24, 500, 24},
		{80, 1000, 80, 500},
		{65535, 65535, 500, 500},
	}
	for _, tt := range tests {
		c, r := ClampSize(tt.cols, tt.rows)
		if c != tt.wantCols || r != tt.wantRows {
			t.Errorf("ClampSize(%d, %d) = %d, %d; want %d, %d", tt.cols, tt.rows, c, r, tt.wantCols, tt.wantRows)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	client := srv.Dial(t)

	session, err := CreateInteractiveSession(client, PTYOptions{})
	if err != nil {
		t.Fatalf("CreateInteractiveSession: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := io.ReadAll(session); err != nil {
		t.Errorf("read after close: %v", err)
	}
}
