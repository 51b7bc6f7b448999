// Package sshtest runs an in-process SSH server for tests. It accepts
// password (and optionally keyboard-interactive) logins, honours pty-req and
// window-change, and hands each interactive shell channel to a handler.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"
)

// Options configures the test server.
type Options struct {
	User     string
	Password string
	// KeyboardInteractiveOnly disables the password method so that clients
	// must answer a keyboard-interactive prompt instead.
	KeyboardInteractiveOnly bool
	// RejectShell makes every "shell" request fail.
	RejectShell bool
	// HandshakeDelay stalls the server before the SSH handshake.
	HandshakeDelay time.Duration
	// OnShell runs for each accepted shell. When it returns the server sends
	// exit-status 0 and closes the channel. Defaults to EchoShell.
	OnShell func(ch gossh.Channel)
}

// WindowSize is a recorded window-change request.
type WindowSize struct {
	Cols, Rows uint32
}

// Server is a running test SSH server.
type Server struct {
	opts     Options
	listener net.Listener
	hostKey  gossh.Signer

	active   atomic.Int64
	accepted atomic.Int64

	mu      sync.Mutex
	resizes []WindowSize
	ptyTerm string
}

// NewServer starts a server on 127.0.0.1 and stops it via t.Cleanup.
func NewServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.User == "" {
		opts.User = "tester"
	}
	if opts.Password == "" {
		opts.Password = "secret"
	}
	if opts.OnShell == nil {
		opts.OnShell = EchoShell
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("create host signer: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{opts: opts, listener: listener, hostKey: hostSigner}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
	})
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// User and Password are the accepted credentials.
func (s *Server) User() string     { return s.opts.User }
func (s *Server) Password() string { return s.opts.Password }

// HostKey returns the server's public host key.
func (s *Server) HostKey() gossh.PublicKey { return s.hostKey.PublicKey() }

// ActiveConnections is the number of authenticated SSH connections still open.
func (s *Server) ActiveConnections() int64 { return s.active.Load() }

// AcceptedConnections is the number of connections that completed a handshake.
func (s *Server) AcceptedConnections() int64 { return s.accepted.Load() }

// WindowChanges returns a copy of the window-change requests seen so far.
func (s *Server) WindowChanges() []WindowSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WindowSize, len(s.resizes))
	copy(out, s.resizes)
	return out
}

// PTYTerm returns the TERM value of the last pty-req.
func (s *Server) PTYTerm() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptyTerm
}

// WaitActive polls until ActiveConnections equals n or the timeout expires.
func (s *Server) WaitActive(n int64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.ActiveConnections() == n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return s.ActiveConnections() == n
}

func (s *Server) config() *gossh.ServerConfig {
	cfg := &gossh.ServerConfig{
		KeyboardInteractiveCallback: func(conn gossh.ConnMetadata, client gossh.KeyboardInteractiveChallenge) (*gossh.Permissions, error) {
			answers, err := client(conn.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if conn.User() == s.opts.User && len(answers) == 1 && answers[0] == s.opts.Password {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("keyboard-interactive rejected for %q", conn.User())
		},
	}
	if !s.opts.KeyboardInteractiveOnly {
		cfg.PasswordCallback = func(conn gossh.ConnMetadata, password []byte) (*gossh.Permissions, error) {
			if conn.User() == s.opts.User && string(password) == s.opts.Password {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		}
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

func (s *Server) handleConn(netConn net.Conn) {
	defer netConn.Close()
	if s.opts.HandshakeDelay > 0 {
		time.Sleep(s.opts.HandshakeDelay)
	}
	srvConn, chans, reqs, err := gossh.NewServerConn(netConn, s.config())
	if err != nil {
		return
	}
	s.accepted.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)
	defer srvConn.Close()
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch gossh.Channel, reqs <-chan *gossh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			s.mu.Lock()
			s.ptyTerm = parsePTYTerm(req.Payload)
			s.mu.Unlock()
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "window-change":
			s.recordResize(req.Payload)
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if s.opts.RejectShell {
				req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			go s.drainRequests(reqs)
			s.opts.OnShell(ch)
			status := struct{ Status uint32 }{0}
			ch.SendRequest("exit-status", false, gossh.Marshal(&status))
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) drainRequests(reqs <-chan *gossh.Request) {
	for req := range reqs {
		if req.Type == "window-change" {
			s.recordResize(req.Payload)
		}
		if req.WantReply {
			req.Reply(req.Type == "window-change", nil)
		}
	}
}

func (s *Server) recordResize(payload []byte) {
	if len(payload) < 8 {
		return
	}
	s.mu.Lock()
	s.resizes = append(s.resizes, WindowSize{
		Cols: binary.BigEndian.Uint32(payload[0:4]),
		Rows: binary.BigEndian.Uint32(payload[4:8]),
	})
	s.mu.Unlock()
}

func parsePTYTerm(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(binary.BigEndian.Uint32(payload[0:4]))
	if len(payload) < 4+n {
		return ""
	}
	return string(payload[4 : 4+n])
}

// EchoShell writes a "$ " prompt and echoes every byte it reads until the
// client closes stdin or sends "exit\r".
func EchoShell(ch gossh.Channel) {
	ch.Write([]byte("$ "))
	buf := make([]byte, 4096)
	var line []byte
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			ch.Write(buf[:n])
			for _, b := range buf[:n] {
				if b == '\r' || b == '\n' {
					if string(line) == "exit" {
						return
					}
					line = line[:0]
					continue
				}
				line = append(line, b)
			}
		}
		if err != nil {
			return
		}
	}
}

// Dial connects to s with its password and closes the client via t.Cleanup.
func (s *Server) Dial(t *testing.T) *gossh.Client {
	t.Helper()
	client, err := gossh.Dial("tcp", s.Addr(), &gossh.ClientConfig{
		User:            s.opts.User,
		Auth:            []gossh.AuthMethod{gossh.Password(s.opts.Password)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial SSH server: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
