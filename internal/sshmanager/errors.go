package sshmanager

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotIdle is returned by Connect when a session was already started.
	ErrNotIdle = errors.New("already connected")
	// ErrShellNotActive is returned by Write and Resize outside ShellActive.
	ErrShellNotActive = errors.New("shell not active")
)

// ConnectError is a failed TCP dial or SSH handshake.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// authFailureText is the fixed part of the error x/crypto/ssh returns from
// clientHandshake (client_auth.go) once every auth method was rejected:
// "ssh: unable to authenticate, attempted methods [...], no supported
// methods remain". The package exports no sentinel for it.
const authFailureText = "ssh: unable to authenticate"

// IsAuth reports whether the handshake failed because every offered
// authentication method was rejected.
func (e *ConnectError) IsAuth() bool {
	return e.Err != nil && strings.Contains(e.Err.Error(), authFailureText)
}

// ShellError is a failure to open the session channel, request the PTY or
// start the shell.
type ShellError struct {
	Err error
}

func (e *ShellError) Error() string {
	return fmt.Sprintf("open shell: %v", e.Err)
}

func (e *ShellError) Unwrap() error { return e.Err }
