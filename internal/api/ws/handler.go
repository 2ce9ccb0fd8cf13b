// Package ws exposes the caller-facing duplex websocket endpoint: binary
// frames carry raw audio chunks, a text frame marks end of audio, and
// transcription results stream back as one JSON object per result.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/config"
	"speech-relay-service/internal/events"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves relay sessions over websocket connections.
type Handler struct {
	cfg       *config.Configuration
	publisher *events.Publisher
	logger    zerolog.Logger
}

// NewHandler creates a websocket handler bound to the loaded configuration.
func NewHandler(cfg *config.Configuration, publisher *events.Publisher) *Handler {
	return &Handler{
		cfg:       cfg,
		publisher: publisher,
		logger:    logging.WithComponent("ws"),
	}
}

// Transcribe upgrades the connection and runs one relay session for its
// lifetime. The client's disconnect or end marker terminates the audio
// source; the session tears down and the connection closes once the result
// sequence ends.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	coord := relay.NewCoordinator(relay.CoordinatorConfig{
		Session: relay.SessionConfig{
			Endpoint: h.cfg.Speech.Endpoint,
			Credentials: relay.Credentials{
				AppID:  h.cfg.Speech.AppID,
				APIKey: h.cfg.Speech.APIKey,
			},
			HandshakeTimeout: h.cfg.Speech.HandshakeTimeout,
			ReceiveTimeout:   h.cfg.Speech.ReceiveTimeout,
		},
		TeardownGrace: h.cfg.Speech.TeardownGrace,
	}, h.logger)
	defer coord.Cancel()

	log := h.logger.With().Str("sessionId", coord.ID()).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("client session opened")

	done := make(chan struct{})
	defer close(done)

	source := make(chan []byte, 32)
	go h.readAudio(conn, source, done, log)

	results := coord.Start(r.Context(), source)
	for res := range results {
		if err := conn.WriteJSON(res); err != nil {
			log.Warn().Err(err).Msg("client write failed, cancelling session")
			coord.Cancel()
			break
		}
		if err := h.publisher.PublishResult(context.Background(), coord.ID(), res); err != nil {
			log.Warn().Err(err).Msg("event publish failed")
		}
	}
	// Let the coordinator finish teardown even if the client write failed.
	for range results {
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	log.Info().Msg("client session closed")
}

// readAudio pumps client frames into the audio source channel until the end
// marker arrives or the client disconnects. Both are normal terminations of
// the source; the relay then flushes its end-of-audio control frame upstream.
func (h *Handler) readAudio(conn *websocket.Conn, source chan<- []byte, done <-chan struct{}, log zerolog.Logger) {
	defer close(source)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("client audio stream ended")
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			select {
			case source <- data:
			case <-done:
				return
			}
		case websocket.TextMessage:
			if isEndMarker(data) {
				log.Debug().Msg("client end marker received")
				return
			}
		}
	}
}

// isEndMarker accepts both the plain "end" marker and its JSON form.
func isEndMarker(data []byte) bool {
	if strings.TrimSpace(string(data)) == "end" {
		return true
	}
	var m struct {
		End bool `json:"end"`
	}
	return json.Unmarshal(data, &m) == nil && m.End
}
