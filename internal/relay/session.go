package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/observability/metrics"
)

// ErrNoData is the sentinel returned by Receive when the per-receive timeout
// elapses with no frame. It is not an error condition; it exists so the
// reader can keep checking its cancellation signal during upstream silence.
var ErrNoData = errors.New("relay: no data yet")

// ErrUpstreamClosed is returned by Receive once the upstream has closed the
// connection cleanly. Distinguishable from transport failures.
var ErrUpstreamClosed = errors.New("relay: upstream closed the connection")

// endOfAudioMarker is the protocol-defined end-of-audio control frame.
var endOfAudioMarker = []byte(`{"end": true}`)

// UpstreamError is an error frame reported by the provider, either as a
// handshake rejection or mid-stream.
type UpstreamError struct {
	Code string
	Desc string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s - %s", e.Code, e.Desc)
}

// SessionConfig holds the per-session connection settings.
type SessionConfig struct {
	Endpoint         string
	Credentials      Credentials
	HandshakeTimeout time.Duration
	ReceiveTimeout   time.Duration
}

// Session owns one duplex connection to the upstream provider. The ingress
// pump is its sole writer and the result demultiplexer its sole reader, so
// no lock is needed beyond the write mutex guarding the marker frame.
type Session struct {
	cfg   SessionConfig
	state *sessionState

	conn    *websocket.Conn
	writeMu sync.Mutex

	frames  chan []byte
	pending []byte // frame consumed during the greeting wait, replayed on first Receive

	readMu  sync.Mutex
	readErr error

	done      chan struct{}
	closeOnce sync.Once

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSession creates an idle session. Connect must be called before use.
func NewSession(cfg SessionConfig, logger zerolog.Logger) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = time.Second
	}
	return &Session{
		cfg:     cfg,
		state:   newSessionState(),
		frames:  make(chan []byte, 64),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: metrics.DefaultMetrics,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state.State()
}

// FailReason returns the reason recorded when the session failed.
func (s *Session) FailReason() string {
	return s.state.FailReason()
}

// Connect opens the transport with a fresh signed handshake and waits up to
// the handshake timeout for the upstream greeting. A missing greeting is
// advisory, not fatal: the session proceeds to streaming optimistically and
// a genuine credential problem surfaces as an error frame shortly after.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.state.advance(StateConnecting); err != nil {
		return ErrAlreadyConnected
	}

	hs := BuildHandshake(s.cfg.Endpoint, s.cfg.Credentials, time.Now())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, hs.URL, nil)
	if err != nil {
		s.state.fail(fmt.Sprintf("dial: %v", err))
		return fmt.Errorf("relay: dial upstream: %w", err)
	}
	s.conn = conn
	if err := s.state.advance(StateHandshaking); err != nil {
		conn.Close()
		return err
	}

	go s.readLoop()

	raw, err := s.receiveRaw(ctx, s.cfg.HandshakeTimeout)
	switch {
	case errors.Is(err, ErrNoData):
		s.metrics.RecordHandshakeTimeout()
		s.logger.Warn().Msg("no greeting from upstream, proceeding")
	case err != nil:
		reason := fmt.Sprintf("handshake: %v", err)
		s.state.fail(reason)
		s.closeTransport()
		return fmt.Errorf("relay: handshake: %w", err)
	default:
		frame, perr := ParseFrame(raw)
		if perr != nil {
			// Not fatal: stash it for the demultiplexer's fallback path.
			s.pending = raw
			break
		}
		switch frame.Action {
		case ActionError:
			uerr := &UpstreamError{Code: frame.Code, Desc: frame.Desc}
			s.state.fail(uerr.Error())
			s.closeTransport()
			return uerr
		case ActionStarted:
			s.logger.Debug().Msg("upstream greeting received")
		default:
			s.pending = raw
		}
	}

	return s.state.advance(StateStreaming)
}

// Send forwards one audio chunk's raw bytes over the transport. Only valid
// while the session is streaming.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if !s.state.isStreaming() {
		return ErrNotStreaming
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("relay: send audio: %w", err)
	}
	return nil
}

// SendEnd emits the end-of-audio control frame and moves the session to
// CLOSING. Safe to call when the transport is already gone; the caller
// treats that as a clean stop.
func (s *Session) SendEnd() error {
	// Advance before writing so no chunk can slip in after the marker.
	s.state.advance(StateClosing)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, endOfAudioMarker); err != nil {
		return fmt.Errorf("relay: send end marker: %w", err)
	}
	return nil
}

// Receive blocks until the next upstream frame arrives, the per-receive
// timeout elapses (ErrNoData), the context is cancelled, or the connection
// is gone (ErrUpstreamClosed for a clean peer close, the transport error
// otherwise). A top-level frame that is not valid JSON is returned as a
// synthetic result frame carrying the raw payload.
func (s *Session) Receive(ctx context.Context) (Frame, error) {
	raw, err := s.receiveRaw(ctx, s.cfg.ReceiveTimeout)
	if err != nil {
		return Frame{}, err
	}

	frame, perr := ParseFrame(raw)
	if perr != nil {
		s.logger.Warn().Str("payload", string(raw)).Msg("unparseable upstream frame, passing through")
		return Frame{Action: ActionResult, Data: string(raw)}, nil
	}
	return frame, nil
}

func (s *Session) receiveRaw(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if s.pending != nil {
		raw := s.pending
		s.pending = nil
		return raw, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case raw, ok := <-s.frames:
		if !ok {
			return nil, s.readError()
		}
		return raw, nil
	case <-timer.C:
		return nil, ErrNoData
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the session down cleanly. Idempotent. A session that has not
// failed ends in CLOSED.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
			s.conn.Close()
		}
		s.state.advance(StateClosed)
	})
}

// Fail records a terminal failure reason and tears the transport down.
func (s *Session) Fail(reason string) {
	s.state.fail(reason)
	s.closeTransport()
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) readLoop() {
	defer close(s.frames)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.setReadError(err)
			return
		}
		select {
		case s.frames <- raw:
		case <-s.done:
			return
		}
	}
}

func (s *Session) setReadError(err error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.readErr = err
}

func (s *Session) readError() error {
	s.readMu.Lock()
	err := s.readErr
	s.readMu.Unlock()

	if err == nil || isClosedConn(err) {
		return ErrUpstreamClosed
	}
	return err
}

// isClosedConn reports whether an error means the connection is simply gone,
// as opposed to a protocol or I/O fault worth surfacing.
func isClosedConn(err error) bool {
	if err == nil {
		return false
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure ||
			ce.Code == websocket.CloseGoingAway ||
			ce.Code == websocket.CloseNoStatusReceived ||
			ce.Code == websocket.CloseAbnormalClosure
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
