package relay

import (
	"context"
	"sync"
)

// stubUpstream is a scripted in-memory upstream for pump and demux tests.
// Receive serves the scripted frames in order, then returns recvErr
// (ErrUpstreamClosed by default).
type stubUpstream struct {
	mu      sync.Mutex
	sent    [][]byte
	endSent bool

	sendErr error
	endErr  error

	frames  []Frame
	idx     int
	recvErr error

	failed     bool
	failReason string
}

func (s *stubUpstream) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *stubUpstream) SendEnd() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endSent = true
	return s.endErr
}

func (s *stubUpstream) Receive(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx < len(s.frames) {
		f := s.frames[s.idx]
		s.idx++
		return f, nil
	}
	if s.recvErr != nil {
		return Frame{}, s.recvErr
	}
	return Frame{}, ErrUpstreamClosed
}

func (s *stubUpstream) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed {
		s.failed = true
		s.failReason = reason
	}
}

func (s *stubUpstream) failedWith() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed, s.failReason
}

func (s *stubUpstream) sentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *stubUpstream) endMarkerSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endSent
}
