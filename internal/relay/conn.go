package relay

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gluk-w/claworc/sshrelay/internal/logutil"
	"github.com/gluk-w/claworc/sshrelay/internal/sshaudit"
	"github.com/gluk-w/claworc/sshrelay/internal/sshmanager"
	"github.com/google/uuid"
)

// Close codes sent to the client. 4500 marks an upstream failure.
const (
	closeUpstreamError websocket.StatusCode = 4500
)

// maxPendingInput caps keystroke bytes queued for a shell that is not
// reading its input. Beyond it the connection is closed.
const maxPendingInput = 1 << 20

// ConnInfo is a snapshot of one relay connection.
type ConnInfo struct {
	ID          string     `json:"id"`
	SourceIP    string     `json:"source_ip"`
	State       string     `json:"state"`
	Host        string     `json:"host,omitempty"`
	Port        int        `json:"port,omitempty"`
	Username    string     `json:"username,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// sessionInfo is the target of the connection's single upstream session.
type sessionInfo struct {
	host        string
	port        int
	username    string
	connectedAt time.Time
}

// Conn is one client WebSocket and the upstream session it owns. Frame
// handling runs on the serve goroutine. Shell writes and the recorder run on
// the writer goroutine, in the order the frames arrived, so a shell that
// stops reading input never stalls output or teardown. The command buffer
// and session info are never shared with other connections.
type Conn struct {
	id        string
	gw        *Gateway
	ws        *websocket.Conn
	sourceIP  string
	createdAt time.Time
	upstream  *sshmanager.Manager
	recorder  *sshaudit.Recorder // set on serve before any input is queued

	// pending holds keystrokes not yet taken by the writer goroutine.
	pending      []string
	pendingBytes int

	// discard is closed when the relay starts the close handshake; the
	// reader then drops frames so it can reach the client's close frame.
	discard chan struct{}

	mu   sync.Mutex
	info sessionInfo
}

func newConn(g *Gateway, ws *websocket.Conn, r *http.Request) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:        id,
		gw:        g,
		ws:        ws,
		sourceIP:  sshaudit.ExtractSourceIP(r),
		createdAt: time.Now(),
		upstream:  sshmanager.New(id, g.dialer, sshmanager.Options{PTY: g.opts.PTY}),
		discard:   make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Info returns a snapshot of the connection.
func (c *Conn) Info() ConnInfo {
	c.mu.Lock()
	info := c.info
	c.mu.Unlock()

	ci := ConnInfo{
		ID:        c.id,
		SourceIP:  c.sourceIP,
		State:     c.upstream.State().String(),
		Host:      info.host,
		Port:      info.port,
		Username:  info.username,
		CreatedAt: c.createdAt,
	}
	if !info.connectedAt.IsZero() {
		t := info.connectedAt
		ci.ConnectedAt = &t
	}
	return ci
}

// serve runs the connection until the client goes away, the upstream ends
// or the gateway shuts down. The upstream is closed before serve returns.
func (c *Conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := c.ws.Read(ctx)
			if err != nil {
				// Closing here unblocks a shell write stuck on a full
				// channel window; the writer then drains without writing.
				c.upstream.Close()
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-c.discard:
			case <-ctx.Done():
				return
			}
		}
	}()

	input := make(chan string)
	writerDone := make(chan struct{})
	go c.writeLoop(input, writerDone)

	reason := "client closed"
	defer func() {
		close(input)
		c.teardown(reason, writerDone)
	}()

	for {
		// A nil channel disables the send case while nothing is queued.
		var in chan<- string
		var next string
		if len(c.pending) > 0 {
			in, next = input, c.pending[0]
		}

		select {
		case in <- next:
			c.pending[0] = ""
			c.pending = c.pending[1:]
			c.pendingBytes -= len(next)

		case data := <-frames:
			if done, why := c.handleFrame(ctx, data); done {
				reason = why
				return
			}

		case ev := <-c.upstream.Events():
			if done, why := c.handleEvent(ctx, ev); done {
				reason = why
				return
			}

		case err := <-readErr:
			if status := websocket.CloseStatus(err); status == -1 {
				log.Printf("[relay] connection %s read error: %v", c.id, err)
			}
			return

		case <-c.gw.shutdown:
			reason = "server shutdown"
			c.closeTransport(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

// closeTransport starts the WebSocket close handshake. It is called at most
// once, on the serve goroutine, right before serve returns.
func (c *Conn) closeTransport(code websocket.StatusCode, reason string) {
	close(c.discard)
	c.ws.Close(code, reason)
}

// writeLoop forwards queued keystrokes to the shell and feeds the recorder
// with every chunk the shell accepted.
func (c *Conn) writeLoop(input <-chan string, done chan<- struct{}) {
	defer close(done)
	for data := range input {
		if _, err := c.upstream.Write([]byte(data)); err != nil {
			continue
		}
		c.recorder.Feed(data)
	}
}

// teardown closes the upstream, waits for the writer and the session
// goroutine, and writes the final audit entry. It runs exactly once, on the
// serve goroutine.
func (c *Conn) teardown(reason string, writerDone <-chan struct{}) {
	c.upstream.Close()
	<-writerDone
	c.upstream.Wait()
	c.pending = nil

	c.mu.Lock()
	info := c.info
	c.mu.Unlock()

	if !info.connectedAt.IsZero() {
		c.gw.opts.Auditor.LogDisconnection(c.id, info.host, info.username, reason, time.Since(info.connectedAt))
	}
	log.Printf("[relay] connection %s closed (%s)", c.id, reason)
}

// handleFrame dispatches one client frame. It returns true when the
// connection must end.
func (c *Conn) handleFrame(ctx context.Context, raw []byte) (bool, string) {
	msg, err := parseInbound(raw)
	if err != nil {
		c.sendError(ctx, errInvalidFormat)
		return false, ""
	}

	switch msg.Type {
	case MsgConnect:
		c.handleConnect(ctx, msg)
	case MsgData:
		return c.handleData(ctx, *msg.Data)
	case MsgResize:
		c.handleResize(msg.Cols, msg.Rows)
	default:
		c.sendError(ctx, "Unknown message type: "+logutil.SanitizeForLog(msg.Type))
	}
	return false, ""
}

func (c *Conn) handleConnect(ctx context.Context, msg inboundMessage) {
	if c.upstream.State() != sshmanager.StateIdle {
		c.sendError(ctx, errAlreadyConnected)
		return
	}
	if msg.Host == "" || msg.Username == "" {
		c.sendError(ctx, errMissingFields)
		return
	}
	port := int(msg.Port)
	if port == 0 {
		port = DefaultSSHPort
	}
	if port < 1 || port > 65535 {
		c.sendError(ctx, errInvalidPort)
		return
	}
	if err := c.gw.opts.Hosts.Check(msg.Host); err != nil {
		log.Printf("[relay] connection %s: %v", c.id, err)
		c.sendError(ctx, errHostNotAllowed)
		return
	}
	if rl := c.gw.opts.RateLimiter; rl != nil {
		if err := rl.Allow(c.sourceIP); err != nil {
			c.sendError(ctx, err.Error())
			return
		}
	}

	params := sshmanager.ConnectParams{
		Host:     msg.Host,
		Port:     port,
		Username: msg.Username,
		Password: msg.Password,
	}
	if err := c.upstream.Connect(ctx, params); err != nil {
		if errors.Is(err, sshmanager.ErrNotIdle) {
			c.sendError(ctx, errAlreadyConnected)
			return
		}
		c.sendError(ctx, err.Error())
		return
	}

	c.mu.Lock()
	c.info = sessionInfo{host: msg.Host, port: port, username: msg.Username}
	c.mu.Unlock()
	c.recorder = sshaudit.NewRecorder(c.id, msg.Host, msg.Username, c.gw.sink)

	log.Printf("[relay] connection %s connecting to %s as %s", c.id,
		logutil.SanitizeForLog(params.Addr()), logutil.SanitizeForLog(msg.Username))
}

// handleData queues keystrokes for the writer goroutine. Outside
// ShellActive the data is dropped without a reply. It returns true when the
// queue limit was exceeded and the connection must end.
func (c *Conn) handleData(ctx context.Context, data string) (bool, string) {
	if c.upstream.State() != sshmanager.StateShellActive || data == "" {
		return false, ""
	}
	if c.pendingBytes+len(data) > maxPendingInput {
		log.Printf("[relay] connection %s: shell input backlog over %d bytes", c.id, maxPendingInput)
		c.sendError(ctx, errInputBacklog)
		c.closeTransport(websocket.StatusPolicyViolation, "input backlog exceeded")
		return true, "input backlog exceeded"
	}
	c.pending = append(c.pending, data)
	c.pendingBytes += len(data)
	return false, ""
}

func (c *Conn) handleResize(cols, rows uint16) {
	if cols == 0 || rows == 0 || c.upstream.State() != sshmanager.StateShellActive {
		return
	}
	if err := c.upstream.Resize(cols, rows); err != nil {
		log.Printf("[relay] connection %s resize: %v", c.id, err)
	}
}

// handleEvent translates an upstream event into client frames. It returns
// true when the connection must end.
func (c *Conn) handleEvent(ctx context.Context, ev sshmanager.Event) (bool, string) {
	switch ev.Type {
	case sshmanager.EventConnected:
		c.mu.Lock()
		c.info.connectedAt = time.Now()
		info := c.info
		c.mu.Unlock()
		if rl := c.gw.opts.RateLimiter; rl != nil {
			rl.RecordSuccess(c.sourceIP)
		}
		c.gw.opts.Auditor.LogConnection(c.id, info.host, info.username, c.sourceIP)
		return false, ""

	case sshmanager.EventShellReady:
		c.send(ctx, outboundMessage{Type: MsgConnected})
		return false, ""

	case sshmanager.EventOutput:
		c.send(ctx, outboundMessage{Type: MsgData, Data: ev.Data})
		return false, ""

	case sshmanager.EventDisconnected:
		c.send(ctx, outboundMessage{Type: MsgDisconnected})
		c.closeTransport(websocket.StatusNormalClosure, "upstream closed")
		return true, "upstream closed"

	case sshmanager.EventError:
		c.mu.Lock()
		info := c.info
		c.mu.Unlock()

		var ce *sshmanager.ConnectError
		if errors.As(ev.Err, &ce) && ce.IsAuth() {
			if rl := c.gw.opts.RateLimiter; rl != nil {
				rl.RecordFailure(c.sourceIP)
			}
		}
		c.gw.opts.Auditor.LogConnectionFailed(c.id, info.host, info.username, c.sourceIP, ev.Err.Error())
		c.send(ctx, outboundMessage{Type: MsgError, Message: clientErrorText(ev.Err)})
		c.closeTransport(closeUpstreamError, "upstream error")
		return true, "upstream error"
	}
	return false, ""
}

// clientErrorText renders an upstream failure for the client.
func clientErrorText(err error) string {
	var ce *sshmanager.ConnectError
	if errors.As(err, &ce) {
		if ce.IsAuth() {
			return errAuthFailed
		}
		return ce.Err.Error()
	}
	return err.Error()
}

func (c *Conn) sendError(ctx context.Context, message string) {
	c.send(ctx, outboundMessage{Type: MsgError, Message: message})
}

func (c *Conn) send(ctx context.Context, msg outboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		log.Printf("[relay] connection %s write %s: %v", c.id, msg.Type, err)
	}
}
