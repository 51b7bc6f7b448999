package sshmanager

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/gluk-w/claworc/sshrelay/internal/logutil"
	"github.com/gluk-w/claworc/sshrelay/internal/sshterminal"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectParams are the per-request credentials of one upstream session.
type ConnectParams struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns host:port.
func (p ConnectParams) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Shell is an interactive shell stream on an upstream connection.
type Shell interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	Close() error
}

// Upstream is an authenticated connection able to start a shell.
type Upstream interface {
	Shell(opts sshterminal.PTYOptions) (Shell, error)
	Close() error
}

// Dialer opens authenticated upstream connections.
type Dialer interface {
	Dial(ctx context.Context, p ConnectParams) (Upstream, error)
}

// DialerOptions configures an SSHDialer.
type DialerOptions struct {
	// HandshakeTimeout bounds TCP connect plus SSH handshake. Zero disables it.
	HandshakeTimeout time.Duration
	// KnownHostsPath enables host key verification against an OpenSSH
	// known_hosts file. Empty accepts any host key.
	KnownHostsPath string
}

// SSHDialer dials real SSH servers with password authentication, falling
// back to keyboard-interactive with the same password.
type SSHDialer struct {
	opts            DialerOptions
	hostKeyCallback ssh.HostKeyCallback
}

// NewSSHDialer creates a dialer. It fails if a known_hosts file was
// configured but cannot be loaded.
func NewSSHDialer(opts DialerOptions) (*SSHDialer, error) {
	cb := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsPath != "" {
		khCallback, err := knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", opts.KnownHostsPath, err)
		}
		cb = khCallback
	}
	return &SSHDialer{opts: opts, hostKeyCallback: cb}, nil
}

// Dial connects to p.Addr() and completes the SSH handshake. Cancelling ctx
// aborts a dial or handshake in progress.
func (d *SSHDialer) Dial(ctx context.Context, p ConnectParams) (Upstream, error) {
	addr := p.Addr()
	if d.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.HandshakeTimeout)
		defer cancel()
	}

	var nd net.Dialer
	netConn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	// NewClientConn has no context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { netConn.Close() })

	password := p.Password
	config := &ssh.ClientConfig{
		User: p.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         d.opts.HandshakeTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if !stop() {
		// ctx fired: the socket is closed or about to be.
		if err == nil {
			sshConn.Close()
		}
		netConn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ConnectError{Addr: addr, Err: ctxErr}
		}
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if err != nil {
		netConn.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	log.Printf("[ssh] connected to %s as %s", logutil.SanitizeForLog(addr), logutil.SanitizeForLog(p.Username))
	return &sshUpstream{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

type sshUpstream struct {
	client *ssh.Client
}

func (u *sshUpstream) Shell(opts sshterminal.PTYOptions) (Shell, error) {
	return sshterminal.CreateInteractiveSession(u.client, opts)
}

func (u *sshUpstream) Close() error {
	return u.client.Close()
}
