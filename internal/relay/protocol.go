package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Message types of the relay protocol. Every frame is a JSON object with a
// "type" field.
const (
	// client -> relay
	MsgConnect = "connect"
	MsgData    = "data"
	MsgResize  = "resize"

	// relay -> client
	MsgConnected    = "connected"
	MsgDisconnected = "disconnected"
	MsgError        = "error"
)

// Error texts sent to clients.
const (
	errInvalidFormat    = "Invalid message format"
	errAlreadyConnected = "Already connected to an SSH server"
	errMissingFields    = "Missing host or username"
	errInvalidPort      = "Invalid port"
	errHostNotAllowed   = "Host not allowed"
	errAuthFailed       = "All configured authentication methods failed"
	errInputBacklog     = "Input backlog exceeded"
)

// DefaultSSHPort is used when a connect message has no port.
const DefaultSSHPort = 22

// Port accepts a JSON number or a numeric string. Missing, null and empty
// values decode to 0.
type Port int

func (p *Port) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*p = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*p = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid port %q", s)
		}
		*p = Port(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid port %s", b)
	}
	*p = Port(n)
	return nil
}

// inboundMessage is the union of all client frames.
type inboundMessage struct {
	Type string `json:"type"`

	// connect
	Host     string `json:"host"`
	Port     Port   `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`

	// data
	Data *string `json:"data"`

	// resize
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// outboundMessage is the union of all relay frames.
type outboundMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// parseInbound decodes one client frame. It fails on invalid JSON, a missing
// type, and a data message without a string payload.
func parseInbound(raw []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	switch msg.Type {
	case "":
		return msg, fmt.Errorf("missing message type")
	case MsgData:
		if msg.Data == nil {
			return msg, fmt.Errorf("data message without data")
		}
	}
	return msg, nil
}
