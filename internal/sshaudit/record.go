package sshaudit

import (
	"fmt"
	"time"
)

// timestampLayout matches an ISO 8601 UTC timestamp with millisecond
// precision, e.g. 2024-03-01T12:30:45.123Z.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// CommandRecord is one reconstructed command typed into a relayed shell.
// It is immutable once handed to a Sink.
type CommandRecord struct {
	Timestamp time.Time
	// ConnectionID is the relay connection the command was typed on. It is
	// not part of the file line.
	ConnectionID string
	Username     string
	Host         string
	Text         string
}

// Line renders the record in the audit file format:
//
//	[<timestamp>] [<username>@<host>] <command>
//
// terminated by a newline.
func (r CommandRecord) Line() string {
	return fmt.Sprintf("[%s] [%s@%s] %s\n",
		r.Timestamp.UTC().Format(timestampLayout), r.Username, r.Host, r.Text)
}

// Sink receives command records. Append never reports failure to the caller:
// a sink that cannot persist a record logs the problem and moves on, so a
// broken audit store never interrupts a terminal session.
type Sink interface {
	Append(rec CommandRecord)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(rec CommandRecord)

func (f SinkFunc) Append(rec CommandRecord) { f(rec) }

// MultiSink fans each record out to every non-nil sink, in order.
type MultiSink []Sink

func (m MultiSink) Append(rec CommandRecord) {
	for _, s := range m {
		if s != nil {
			s.Append(rec)
		}
	}
}
