package relay

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
)

func testCoordinatorConfig(endpoint string) CoordinatorConfig {
	return CoordinatorConfig{
		Session:       testSessionConfig(endpoint),
		TeardownGrace: time.Second,
	}
}

func collect(t *testing.T, results <-chan models.TranscriptionResult, within time.Duration) []models.TranscriptionResult {
	t.Helper()
	var out []models.TranscriptionResult
	deadline := time.After(within)
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-deadline:
			t.Fatalf("result sequence did not terminate within %v (got %+v)", within, out)
		}
	}
}

func TestCoordinator_EndToEnd(t *testing.T) {
	var audioFrames atomic.Int64

	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})

		n := drainUntilEnd(conn)
		audioFrames.Store(int64(n))

		writeFrame(t, conn, Frame{Action: ActionResult, Data: resultData("你好", "1")})
		writeFrame(t, conn, Frame{Action: ActionResult, Data: resultData("你好世界", "0")})
		writeFrame(t, conn, Frame{Action: ActionEnd})
	})

	coord := NewCoordinator(testCoordinatorConfig(url), zerolog.Nop())
	source := feedSource([]byte("chunk-1"), []byte("chunk-2"), []byte("chunk-3"))

	results := collect(t, coord.Start(context.Background(), source), 5*time.Second)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	want := []models.TranscriptionResult{
		{Success: true, Transcript: "你好", IsFinal: false, Confidence: nominalConfidence},
		{Success: true, Transcript: "你好世界", IsFinal: true, Confidence: nominalConfidence},
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result %d: expected %+v, got %+v", i, want[i], results[i])
		}
	}
	if n := audioFrames.Load(); n != 3 {
		t.Errorf("expected upstream to observe 3 audio frames, got %d", n)
	}
}

func TestCoordinator_UpstreamErrorTerminates(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})
		writeFrame(t, conn, Frame{Action: ActionError, Code: "E1", Desc: "bad audio"})
		drainUntilEnd(conn)
	})

	coord := NewCoordinator(testCoordinatorConfig(url), zerolog.Nop())
	results := collect(t, coord.Start(context.Background(), feedSource()), 5*time.Second)

	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d: %+v", len(results), results)
	}
	if results[0].Success || results[0].Error != "E1 - bad audio" {
		t.Errorf("unexpected terminal result: %+v", results[0])
	}
	if state := coord.session.State(); state != StateFailed {
		t.Errorf("expected FAILED after provider error, got %s", state)
	}
}

func TestCoordinator_TransportErrorFailsSession(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})
		drainUntilEnd(conn)
		// Abort mid-stream with a server error close instead of results.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"))
	})

	coord := NewCoordinator(testCoordinatorConfig(url), zerolog.Nop())
	results := collect(t, coord.Start(context.Background(), feedSource([]byte("audio"))), 5*time.Second)

	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d: %+v", len(results), results)
	}
	if results[0].Success {
		t.Errorf("expected failure result, got %+v", results[0])
	}
	if !strings.Contains(results[0].Error, "transport error") {
		t.Errorf("expected transport error, got %q", results[0].Error)
	}

	if state := coord.session.State(); state != StateFailed {
		t.Errorf("expected FAILED after non-clean close, got %s", state)
	}
	if reason := coord.session.FailReason(); reason == "" {
		t.Error("expected a recorded fail reason")
	}
}

func TestCoordinator_HandshakeRejectionSurfacesOnce(t *testing.T) {
	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionError, Code: "10800", Desc: "over max connect limit"})
	})

	coord := NewCoordinator(testCoordinatorConfig(url), zerolog.Nop())
	results := collect(t, coord.Start(context.Background(), feedSource()), 5*time.Second)

	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d: %+v", len(results), results)
	}
	if results[0].Success || results[0].Error != "10800 - over max connect limit" {
		t.Errorf("unexpected terminal result: %+v", results[0])
	}
}

func TestCoordinator_ConnectFailureSurfacesOnce(t *testing.T) {
	cfg := testCoordinatorConfig("ws://127.0.0.1:1/v1/ws")
	coord := NewCoordinator(cfg, zerolog.Nop())

	results := collect(t, coord.Start(context.Background(), feedSource()), 5*time.Second)
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d: %+v", len(results), results)
	}
	if results[0].Success || results[0].Error == "" {
		t.Errorf("expected failure result, got %+v", results[0])
	}
}

func TestCoordinator_CancelStopsBothDirections(t *testing.T) {
	var audioFrames atomic.Int64

	url := newUpstreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		writeFrame(t, conn, Frame{Action: ActionStarted})
		// Keep reading and stay silent: no results, no end.
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				audioFrames.Add(1)
			}
		}
	})

	coord := NewCoordinator(testCoordinatorConfig(url), zerolog.Nop())

	source := make(chan []byte)
	feeding := make(chan struct{})
	go func() {
		defer close(feeding)
		for {
			select {
			case source <- []byte("audio"):
				time.Sleep(10 * time.Millisecond)
			case <-time.After(time.Second):
				return
			}
		}
	}()

	results := coord.Start(context.Background(), source)

	time.Sleep(100 * time.Millisecond)
	coord.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range results {
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not tear down within the grace period")
	}

	// No chunk may be sent after teardown completes.
	sentAtClose := audioFrames.Load()
	time.Sleep(150 * time.Millisecond)
	if after := audioFrames.Load(); after != sentAtClose {
		t.Errorf("audio still flowing after teardown: %d -> %d", sentAtClose, after)
	}

	<-feeding
}

func TestCoordinator_SessionIDsAreUnique(t *testing.T) {
	cfg := testCoordinatorConfig("ws://unused")
	a := NewCoordinator(cfg, zerolog.Nop())
	b := NewCoordinator(cfg, zerolog.Nop())

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("expected distinct non-empty session IDs, got %q and %q", a.ID(), b.ID())
	}
}
