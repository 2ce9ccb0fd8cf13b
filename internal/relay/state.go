package relay

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of an upstream session.
type State int

const (
	// StateIdle - session created, connect not yet called.
	StateIdle State = iota
	// StateConnecting - duplex transport being established.
	StateConnecting
	// StateHandshaking - transport up, waiting for the greeting frame.
	StateHandshaking
	// StateStreaming - send and receive both valid, concurrently.
	StateStreaming
	// StateClosing - end-of-audio sent or close requested, draining.
	StateClosing
	// StateClosed - transport closed without error. Terminal.
	StateClosed
	// StateFailed - unrecoverable transport or protocol error. Terminal,
	// carries a reason.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// Errors for invalid session operations.
var (
	ErrNotStreaming     = errors.New("relay: session is not streaming")
	ErrSessionTerminal  = errors.New("relay: session is in a terminal state")
	ErrAlreadyConnected = errors.New("relay: connect already called")
)

// sessionState is the thread-safe state machine backing a Session.
//
// Transitions:
//
//	IDLE → CONNECTING → HANDSHAKING → STREAMING → CLOSING → CLOSED
//	any non-terminal state → FAILED (with reason)
type sessionState struct {
	mu     sync.RWMutex
	state  State
	reason string
}

func newSessionState() *sessionState {
	return &sessionState{state: StateIdle}
}

// State returns the current state.
func (s *sessionState) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// FailReason returns the reason recorded when the session failed.
func (s *sessionState) FailReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// advance moves the state machine forward along the happy path. It refuses
// to leave a terminal state and refuses to move backwards.
func (s *sessionState) advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return ErrSessionTerminal
	}
	if to <= s.state {
		return fmt.Errorf("relay: invalid transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// fail moves to FAILED from any non-terminal state. Returns false if the
// session had already reached a terminal state.
func (s *sessionState) fail(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.state = StateFailed
	s.reason = reason
	return true
}

// isStreaming reports whether sends are currently valid.
func (s *sessionState) isStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateStreaming
}
