package relay

import (
	"errors"
	"sync"
)

// Errors for invalid result emissions.
var (
	ErrResultAfterFinal    = errors.New("relay: result after final")
	ErrResultAfterTerminal = errors.New("relay: result after terminal error")
)

// resultLifecycle guards the outward result sequence of one session: any
// number of partials, at most one final, at most one terminal error, and
// nothing after either. Thread-safe; the demultiplexer validates every
// emission against it.
type resultLifecycle struct {
	mu         sync.Mutex
	finalSent  bool
	terminated bool
}

// EmitPartial validates a partial emission.
func (l *resultLifecycle) EmitPartial() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminated {
		return ErrResultAfterTerminal
	}
	if l.finalSent {
		return ErrResultAfterFinal
	}
	return nil
}

// EmitFinal validates and records the single final emission.
func (l *resultLifecycle) EmitFinal() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminated {
		return ErrResultAfterTerminal
	}
	if l.finalSent {
		return ErrResultAfterFinal
	}
	l.finalSent = true
	return nil
}

// EmitError validates and records the single terminal error emission. The
// error always ends the sequence, so a final observed earlier also blocks it.
func (l *resultLifecycle) EmitError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminated {
		return ErrResultAfterTerminal
	}
	if l.finalSent {
		return ErrResultAfterFinal
	}
	l.terminated = true
	return nil
}

// Done reports whether the sequence has been sealed by a final or an error.
func (l *resultLifecycle) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalSent || l.terminated
}
