package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// newUpstreamServer spins up a scripted stand-in for the upstream provider
// and returns its ws:// URL. The script owns the server side of one
// connection; auth query parameters are checked on every dial.
func newUpstreamServer(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) string {
	t.Helper()
	upg := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("appid") == "" || q.Get("ts") == "" || q.Get("signa") == "" {
			t.Error("dial missing appid/ts/signa query parameters")
		}
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		script(t, conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func writeFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	raw, err := json.Marshal(f)
	if err != nil {
		t.Errorf("marshal frame: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Logf("frame write failed (connection likely closed): %v", err)
	}
}

// drainUntilEnd consumes client messages until the end-of-audio marker or
// connection close, returning the number of binary audio frames observed.
func drainUntilEnd(conn *websocket.Conn) int {
	binary := 0
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return binary
		}
		switch msgType {
		case websocket.BinaryMessage:
			binary++
		case websocket.TextMessage:
			if strings.Contains(string(data), `"end"`) || strings.TrimSpace(string(data)) == "end" {
				return binary
			}
		}
	}
}
