package relay

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gluk-w/claworc/sshrelay/internal/sshaudit"
	"github.com/gluk-w/claworc/sshrelay/internal/sshmanager"
	"github.com/gluk-w/claworc/sshrelay/internal/sshterminal"
)

// DefaultMaxMessageSize is the read limit for one client frame.
const DefaultMaxMessageSize = 64 * 1024

// writeTimeout bounds a single frame write to the client.
const writeTimeout = 10 * time.Second

// Options configures a Gateway. The zero value is usable.
type Options struct {
	// Auditor records connection lifecycle events. May be nil.
	Auditor *sshaudit.Auditor
	// Hosts restricts upstream targets. Nil allows all hosts.
	Hosts *HostPolicy
	// RateLimiter throttles connect attempts per client IP. May be nil.
	RateLimiter *sshmanager.RateLimiter
	// MaxMessageSize is the read limit per frame. Zero means DefaultMaxMessageSize.
	MaxMessageSize int64
	// PTY is requested for every shell.
	PTY sshterminal.PTYOptions
	// OriginPatterns is passed to the WebSocket handshake. Empty accepts any origin.
	OriginPatterns []string
}

// Gateway is the WebSocket endpoint of the relay. Each accepted WebSocket
// becomes one Conn with at most one upstream shell session.
type Gateway struct {
	dialer sshmanager.Dialer
	sink   sshaudit.Sink
	opts   Options

	mu       sync.RWMutex
	conns    map[string]*Conn
	closing  bool
	wg       sync.WaitGroup
	shutdown chan struct{}

	total atomic.Int64
}

// NewGateway creates a Gateway that dials upstreams with dialer and hands
// recorded commands to sink.
func NewGateway(dialer sshmanager.Dialer, sink sshaudit.Sink, opts Options) *Gateway {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Gateway{
		dialer:   dialer,
		sink:     sink,
		opts:     opts,
		conns:    make(map[string]*Conn),
		shutdown: make(chan struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it until either
// side goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	acceptOpts := &websocket.AcceptOptions{InsecureSkipVerify: true}
	if len(g.opts.OriginPatterns) > 0 {
		acceptOpts = &websocket.AcceptOptions{OriginPatterns: g.opts.OriginPatterns}
	}

	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	ws, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		log.Printf("[relay] failed to accept websocket from %s: %v", r.RemoteAddr, err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(g.opts.MaxMessageSize)

	c := newConn(g, ws, r)
	g.register(c)
	defer g.deregister(c)

	log.Printf("[relay] connection %s opened from %s", c.id, c.sourceIP)
	c.serve(r.Context())
}

func (g *Gateway) register(c *Conn) {
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	g.total.Add(1)
}

func (g *Gateway) deregister(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
}

// ActiveCount returns the number of open relay connections.
func (g *Gateway) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// TotalCount returns the number of relay connections accepted since start.
func (g *Gateway) TotalCount() int64 {
	return g.total.Load()
}

// Connections returns a snapshot of the open relay connections, oldest first.
func (g *Gateway) Connections() []ConnInfo {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	infos := make([]ConnInfo, len(conns))
	for i, c := range conns {
		infos[i] = c.Info()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Shutdown stops accepting connections, closes every open connection with
// a going-away status and waits for them to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if !g.closing {
		g.closing = true
		close(g.shutdown)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("relay shutdown incomplete"), ctx.Err())
	}
}
