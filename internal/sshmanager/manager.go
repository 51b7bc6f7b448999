package sshmanager

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"unicode/utf8"

	"github.com/gluk-w/claworc/sshrelay/internal/logutil"
	"github.com/gluk-w/claworc/sshrelay/internal/sshterminal"
)

// readBufferSize is the size of a single shell output read.
const readBufferSize = 32 * 1024

// Options configures a Manager.
type Options struct {
	PTY sshterminal.PTYOptions
}

// Manager drives one upstream shell session through
// Idle -> Connecting -> Connected -> ShellActive -> Closed and republishes
// what happens as Events. A Manager is single-use: once Closed it stays Closed.
type Manager struct {
	id     string
	dialer Dialer
	opts   Options

	mu          sync.Mutex
	state       State
	transitions []StateTransition
	upstream    Upstream
	shell       Shell
	cancel      context.CancelFunc

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an idle Manager. id is used in log lines only.
func New(id string, dialer Dialer, opts Options) *Manager {
	return &Manager{
		id:     id,
		dialer: dialer,
		opts:   opts,
		state:  StateIdle,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Connect starts the handshake in the background and returns immediately.
// It returns ErrNotIdle, without changing state, unless the manager is Idle.
// Progress is reported on Events: EventConnected, then EventShellReady and
// EventOutput, or EventError on failure.
func (m *Manager) Connect(ctx context.Context, p ConnectParams) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.setStateLocked(StateConnecting)
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, p)
	return nil
}

func (m *Manager) run(ctx context.Context, p ConnectParams) {
	defer m.wg.Done()

	up, err := m.dialer.Dial(ctx, p)
	if err != nil {
		m.fail(err)
		return
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		up.Close()
		return
	}
	m.upstream = up
	m.setStateLocked(StateConnected)
	m.mu.Unlock()
	m.emit(Event{Type: EventConnected})

	sh, err := up.Shell(m.opts.PTY)
	if err != nil {
		m.fail(&ShellError{Err: err})
		return
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		sh.Close()
		return
	}
	m.shell = sh
	m.setStateLocked(StateShellActive)
	m.mu.Unlock()

	if !m.emit(Event{Type: EventShellReady}) {
		return
	}
	m.pump(sh)
}

// pump republishes shell output until the stream ends. A UTF-8 sequence
// split across reads is held back and prefixed to the next chunk.
func (m *Manager) pump(sh Shell) {
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := sh.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completeUTF8(pending)
			if cut > 0 {
				if !m.emit(Event{Type: EventOutput, Data: string(pending[:cut])}) {
					return
				}
				pending = append(pending[:0], pending[cut:]...)
			}
		}
		if err != nil {
			if m.isClosed() {
				return
			}
			if len(pending) > 0 {
				m.emit(Event{Type: EventOutput, Data: string(pending)})
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("[ssh] session %s: shell read: %v", logutil.SanitizeForLog(m.id), err)
			}
			m.emit(Event{Type: EventDisconnected})
			m.Close()
			return
		}
	}
}

// completeUTF8 returns the length of the longest prefix of b that does not
// end in the middle of a UTF-8 sequence. Invalid bytes are not held back.
func completeUTF8(b []byte) int {
	// A sequence is at most utf8.UTFMax bytes, so only the tail can be partial.
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < 0x80 {
			return len(b)
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return len(b) - i
			}
			return len(b)
		}
	}
	return len(b)
}

// fail reports err to the owner and closes the session.
func (m *Manager) fail(err error) {
	if m.isClosed() {
		return
	}
	log.Printf("[ssh] session %s: %v", logutil.SanitizeForLog(m.id), err)
	m.emit(Event{Type: EventError, Err: err})
	m.Close()
}

// Write forwards p to the shell unmodified. It returns ErrShellNotActive
// outside ShellActive.
func (m *Manager) Write(p []byte) (int, error) {
	m.mu.Lock()
	sh := m.shell
	active := m.state == StateShellActive
	m.mu.Unlock()
	if !active || sh == nil {
		return 0, ErrShellNotActive
	}
	return sh.Write(p)
}

// Resize changes the PTY size. It returns ErrShellNotActive outside
// ShellActive.
func (m *Manager) Resize(cols, rows uint16) error {
	m.mu.Lock()
	sh := m.shell
	active := m.state == StateShellActive
	m.mu.Unlock()
	if !active || sh == nil {
		return ErrShellNotActive
	}
	return sh.Resize(cols, rows)
}

// Close terminates the shell and the upstream connection if they are live
// and moves the session to Closed. It is safe to call more than once and
// from any goroutine. A dial still in flight is cancelled and any
// connection it yields is closed.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		prev := m.state
		m.setStateLocked(StateClosed)
		sh, up, cancel := m.shell, m.upstream, m.cancel
		m.shell, m.upstream = nil, nil
		m.mu.Unlock()

		close(m.done)
		if cancel != nil {
			cancel()
		}
		if sh != nil {
			sh.Close()
		}
		if up != nil {
			err = up.Close()
		}
		if prev != StateIdle {
			log.Printf("[ssh] session %s closed (was %s)", logutil.SanitizeForLog(m.id), prev)
		}
	})
	return err
}

// Wait blocks until the background goroutine started by Connect has
// returned. It returns immediately if Connect was never called.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
