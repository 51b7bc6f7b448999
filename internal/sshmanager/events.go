package sshmanager

import "time"

// EventType identifies the type of session event.
type EventType string

const (
	// EventConnected fires when the SSH handshake succeeded.
	EventConnected EventType = "connected"
	// EventShellReady fires once the interactive shell is running.
	EventShellReady EventType = "shell_ready"
	// EventOutput carries shell output in Data.
	EventOutput EventType = "output"
	// EventDisconnected fires when the upstream ended the shell or connection.
	EventDisconnected EventType = "disconnected"
	// EventError fires on a handshake or shell allocation failure. Err is set.
	EventError EventType = "error"
)

// Event is published by a Manager to its owner.
type Event struct {
	Type      EventType
	Data      string
	Err       error
	Timestamp time.Time
}

// eventBuffer is the capacity of the events channel.
const eventBuffer = 64

// emit publishes e unless the manager has been closed.
func (m *Manager) emit(e Event) bool {
	e.Timestamp = time.Now()
	select {
	case m.events <- e:
		return true
	case <-m.done:
		return false
	}
}

// Events returns the channel on which the manager publishes session events.
// It is never closed; owners stop reading once they see EventDisconnected or
// EventError, or after calling Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}
