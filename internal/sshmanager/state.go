package sshmanager

import "time"

// State is the lifecycle state of one upstream shell session.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateShellActive State = "shell_active"
	StateClosed      State = "closed"
)

// String returns the string representation of a State.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is one of the defined constants.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateConnecting, StateConnected, StateShellActive, StateClosed:
		return true
	default:
		return false
	}
}

// canTransition reports whether from -> to is an edge of the lifecycle:
// Idle -> Connecting -> Connected -> ShellActive -> Closed, plus
// any non-terminal state -> Closed.
func canTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected
	case StateConnected:
		return to == StateShellActive
	}
	return false
}

// StateTransition records a state change for debugging.
type StateTransition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// maxTransitions limits the number of stored state transitions per session.
const maxTransitions = 50

// setStateLocked moves the session to s if the edge is legal and records the
// transition. Must be called with m.mu held. Returns false for illegal edges.
func (m *Manager) setStateLocked(s State) bool {
	if m.state == s || !canTransition(m.state, s) {
		return false
	}
	m.transitions = append(m.transitions, StateTransition{
		From:      m.state,
		To:        s,
		Timestamp: time.Now(),
	})
	if len(m.transitions) > maxTransitions {
		m.transitions = m.transitions[len(m.transitions)-maxTransitions:]
	}
	m.state = s
	return true
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transitions returns a copy of the state transition history.
func (m *Manager) Transitions() []StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]StateTransition, len(m.transitions))
	copy(result, m.transitions)
	return result
}
