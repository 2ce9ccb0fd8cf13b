package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/observability/metrics"
)

// AudioChunk is one unit of caller-supplied audio. Sequence numbers are
// assigned by the pump, monotonically increasing from 1, and exist for
// logging and diagnostics; the upstream receives only the raw bytes.
type AudioChunk struct {
	Seq   int
	Bytes []byte
}

// upstream is the slice of Session the pump and demultiplexer depend on.
type upstream interface {
	Send(ctx context.Context, data []byte) error
	SendEnd() error
	Receive(ctx context.Context) (Frame, error)
	Fail(reason string)
}

// runPump drains the audio source into the session. Zero-length chunks are
// skipped. It stops when the source is exhausted, the context is cancelled,
// or the transport goes away mid-send; the peer closing is a legitimate stop
// condition, not an error. On any exit path it emits the single end-of-audio
// control frame, and a marker send that fails on an already-closed transport
// is still a clean stop.
func runPump(ctx context.Context, source <-chan []byte, up upstream, logger zerolog.Logger, m *metrics.Metrics) {
	defer func() {
		if err := up.SendEnd(); err != nil {
			logger.Debug().Err(err).Msg("end marker not delivered, transport already gone")
		}
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Int("chunks", seq).Msg("ingress pump cancelled")
			return
		case data, ok := <-source:
			if !ok {
				logger.Debug().Int("chunks", seq).Msg("audio source exhausted")
				return
			}
			if len(data) == 0 {
				m.RecordAudioSkipped()
				continue
			}

			seq++
			chunk := AudioChunk{Seq: seq, Bytes: data}
			if err := up.Send(ctx, chunk.Bytes); err != nil {
				if errors.Is(err, ErrNotStreaming) || errors.Is(err, context.Canceled) || isClosedConn(err) {
					logger.Debug().Err(err).Int("seq", chunk.Seq).Msg("ingress stopped, session no longer accepting audio")
				} else {
					logger.Warn().Err(err).Int("seq", chunk.Seq).Msg("audio send failed")
				}
				return
			}
			m.RecordAudioForwarded(len(data))
		}
	}
}
