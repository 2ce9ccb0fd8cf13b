package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func testSessionConfig(endpoint string) SessionConfig {
	return SessionConfig{
		Endpoint:         endpoint,
		Credentials:      Credentials{AppID: "app", APIKey: "key"},
		HandshakeTimeout: 200 * time.Millisecond,
		ReceiveTimeout:   100 * time.Millisecond,
	}
}

func TestSession_ConnectWithGreeting(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})
		drainUntilEnd(conn)
	})

	s := NewSession(testSessionConfig(url), zerolog.Nop())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if s.State() != StateStreaming {
		t.Errorf("expected STREAMING, got %s", s.State())
	}

	s.Close()
	if s.State() != StateClosed {
		t.Errorf("expected CLOSED after Close, got %s", s.State())
	}
}

func TestSession_GreetingTimeoutProceeds(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		// Say nothing: the greeting is advisory.
		drainUntilEnd(conn)
	})

	s := NewSession(testSessionConfig(url), zerolog.Nop())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("greeting timeout must not fail connect: %v", err)
	}
	if s.State() != StateStreaming {
		t.Errorf("expected STREAMING, got %s", s.State())
	}
}

func TestSession_HandshakeRejection(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionError, Code: "10800", Desc: "over max connect limit"})
	})

	s := NewSession(testSessionConfig(url), zerolog.Nop())
	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to fail on error greeting")
	}

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if uerr.Error() != "10800 - over max connect limit" {
		t.Errorf("unexpected error text: %s", uerr.Error())
	}
	if s.State() != StateFailed {
		t.Errorf("expected FAILED, got %s", s.State())
	}
	if s.FailReason() != "10800 - over max connect limit" {
		t.Errorf("unexpected fail reason: %s", s.FailReason())
	}
}

func TestSession_DialFailure(t *testing.T) {
	s := NewSession(testSessionConfig("ws://127.0.0.1:1/v1/ws"), zerolog.Nop())
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if s.State() != StateFailed {
		t.Errorf("expected FAILED, got %s", s.State())
	}
}

func TestSession_NonGreetingFirstFrameIsReplayed(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionResult, Data: `{"text":"early"}`})
		drainUntilEnd(conn)
	})

	s := NewSession(testSessionConfig(url), zerolog.Nop())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	frame, err := s.Receive(context.Background())
	if err != nil {
		t.Fatalf("unexpected receive error: %v", err)
	}
	if frame.Action != ActionResult || frame.Data != `{"text":"early"}` {
		t.Errorf("expected replayed result frame, got %+v", frame)
	}
}

func TestSession_ReceiveTimeoutReturnsSentinel(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})
		drainUntilEnd(conn)
	})

	s := NewSession(testSessionConfig(url), zerolog.Nop())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	if _, err := s.Receive(context.Background()); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData during silence, got %v", err)
	}
}

func TestSession_SendRequiresStreaming(t *testing.T) {
	s := NewSession(testSessionConfig("ws://unused"), zerolog.Nop())
	if err := s.Send(context.Background(), []byte("audio")); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming before connect, got %v", err)
	}
}

func TestSession_NoSendAfterEndMarker(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})
		drainUntilEnd(conn)
	})

	s := NewSession(testSessionConfig(url), zerolog.Nop())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if err := s.Send(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("send while streaming: %v", err)
	}
	if err := s.SendEnd(); err != nil {
		t.Fatalf("send end: %v", err)
	}
	if s.State() != StateClosing {
		t.Errorf("expected CLOSING after end marker, got %s", s.State())
	}
	if err := s.Send(context.Background(), []byte("late")); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming after end marker, got %v", err)
	}
}

func TestSession_MalformedFrameIsPassedThrough(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})
		conn.WriteMessage(websocket.TextMessage, []byte("not a json frame"))
		drainUntilEnd(conn)
	})

	s := NewSession(testSessionConfig(url), zerolog.Nop())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	frame, err := s.Receive(context.Background())
	if err != nil {
		t.Fatalf("unexpected receive error: %v", err)
	}
	if frame.Action != ActionResult || frame.Data != "not a json frame" {
		t.Errorf("expected synthetic passthrough frame, got %+v", frame)
	}
}
