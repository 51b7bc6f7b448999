package sshaudit

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Recorder rebuilds typed command lines from the raw keystroke stream of one
// relay connection and hands completed lines to a Sink.
//
// It is a heuristic, not a terminal emulator. Each fed chunk is classified
// as a whole:
//   - only backspace/DEL bytes: erase one character per byte
//   - contains CR or LF: the buffered line is complete
//   - anything else: appended verbatim
//
// Escape sequences (arrow keys, tab completion, cursor movement) are
// appended as raw bytes and end up in the recorded text.
//
// A Recorder belongs to a single connection and is not safe for concurrent
// use.
type Recorder struct {
	connID   string
	host     string
	username string
	sink     Sink
	buf      []byte
	now      func() time.Time
}

// NewRecorder creates a Recorder that attributes commands to
// username@host on relay connection connID. A nil sink discards records.
func NewRecorder(connID, host, username string, sink Sink) *Recorder {
	return &Recorder{
		connID:   connID,
		host:     host,
		username: username,
		sink:     sink,
		now:      time.Now,
	}
}

// Feed processes one inbound chunk of keystrokes.
func (r *Recorder) Feed(chunk string) {
	switch {
	case chunk == "":
		return
	case isErase(chunk):
		for i := 0; i < len(chunk) && len(r.buf) > 0; i++ {
			_, size := utf8.DecodeLastRune(r.buf)
			r.buf = r.buf[:len(r.buf)-size]
		}
	case strings.ContainsAny(chunk, "\r\n"):
		r.flush()
	default:
		r.buf = append(r.buf, chunk...)
	}
}

// Buffered returns the partially typed line.
func (r *Recorder) Buffered() string {
	return string(r.buf)
}

func (r *Recorder) flush() {
	text := strings.TrimSpace(string(r.buf))
	r.buf = r.buf[:0]
	if text == "" || r.sink == nil {
		return
	}
	r.sink.Append(CommandRecord{
		Timestamp:    r.now(),
		ConnectionID: r.connID,
		Username:     r.username,
		Host:         r.host,
		Text:         text,
	})
}

func isErase(chunk string) bool {
	for i := 0; i < len(chunk); i++ {
		if chunk[i] != '\b' && chunk[i] != 0x7f {
			return false
		}
	}
	return true
}
