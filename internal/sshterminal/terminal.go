package sshterminal

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// Defaults for the PTY requested with every shell.
const (
	DefaultTerm        = "xterm-256color"
	DefaultCols uint16 = 80
	DefaultRows uint16 = 24
)

// MaxTermCols and MaxTermRows cap terminal resize requests.
const (
	MaxTermCols uint16 = 500
	MaxTermRows uint16 = 500
)

// PTYOptions describes the pseudo-terminal requested for a shell. Zero
// values fall back to the defaults above.
type PTYOptions struct {
	Term string
	Cols uint16
	Rows uint16
}

// TerminalSession is an interactive login shell on a PTY. Read returns the
// shell's combined stdout/stderr; Write feeds its stdin.
type TerminalSession struct {
	stdin   io.WriteCloser
	stdout  *io.PipeReader
	session *ssh.Session
}

// Read reads shell output. It returns io.EOF once the shell has exited or
// the channel was closed.
func (ts *TerminalSession) Read(p []byte) (int, error) {
	return ts.stdout.Read(p)
}

// Write sends bytes to the shell's stdin unmodified.
func (ts *TerminalSession) Write(p []byte) (int, error) {
	return ts.stdin.Write(p)
}

// Resize changes the terminal dimensions of the PTY, clamped to
// MaxTermCols x MaxTermRows. Zero dimensions are rejected.
func (ts *TerminalSession) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	cols, rows = ClampSize(cols, rows)
	return ts.session.WindowChange(int(rows), int(cols))
}

// Close terminates the SSH session and releases resources.
func (ts *TerminalSession) Close() error {
	ts.stdin.Close()
	err := ts.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ClampSize limits cols and rows to MaxTermCols and MaxTermRows.
func ClampSize(cols, rows uint16) (uint16, uint16) {
	if cols > MaxTermCols {
		cols = MaxTermCols
	}
	if rows > MaxTermRows {
		rows = MaxTermRows
	}
	return cols, rows
}

// CreateInteractiveSession opens a new session channel on client, requests
// a PTY and starts the user's login shell.
func CreateInteractiveSession(client *ssh.Client, opts PTYOptions) (*TerminalSession, error) {
	if opts.Term == "" {
		opts.Term = DefaultTerm
	}
	if opts.Cols == 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = DefaultRows
	}
	opts.Cols, opts.Rows = ClampSize(opts.Cols, opts.Rows)

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(opts.Term, int(opts.Rows), int(opts.Cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// stdout and stderr share one pipe so output keeps the order the remote
	// side produced it in.
	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	if err := session.Shell(); err != nil {
		session.Close()
		pw.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	go func() {
		pw.CloseWithError(exitToEOF(session.Wait()))
	}()

	return &TerminalSession{
		stdin:   stdin,
		stdout:  pr,
		session: session,
	}, nil
}

// exitToEOF maps a normal end of the remote shell to a nil error so readers
// see io.EOF.
func exitToEOF(err error) error {
	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	if err == nil || errors.As(err, &exitErr) || errors.As(err, &missingErr) {
		return nil
	}
	return err
}
