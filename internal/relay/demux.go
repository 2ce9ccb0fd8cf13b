package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/metrics"
)

// nominalConfidence is the placeholder confidence attached to results. The
// upstream protocol does not supply a numeric confidence per partial result;
// a real value, if the provider ever sends one, must take precedence.
const nominalConfidence = 0.9

// demux consumes upstream frames from one session and produces the ordered
// result sequence. It is the session's sole reader.
type demux struct {
	up        upstream
	lifecycle *resultLifecycle
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// run loops on Receive until the sequence terminates: an end frame, an error
// frame, a final result, a clean peer close, a transport failure, or
// cancellation. It never emits more than one final and never emits anything
// after a terminal element.
func (d *demux) run(ctx context.Context, out chan<- models.TranscriptionResult) {
	for {
		frame, err := d.up.Receive(ctx)
		switch {
		case errors.Is(err, ErrNoData):
			if ctx.Err() != nil {
				return
			}
			continue
		case errors.Is(err, ErrUpstreamClosed):
			d.logger.Debug().Msg("upstream closed, result sequence complete")
			return
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return
		case err != nil:
			d.metrics.RecordUpstreamError("transport")
			reason := fmt.Sprintf("transport error: %v", err)
			d.up.Fail(reason)
			d.emit(ctx, out, models.TranscriptionResult{
				Success: false,
				Error:   reason,
			}, d.lifecycle.EmitError)
			return
		}

		d.metrics.RecordFrame(string(frame.Action))

		switch frame.Action {
		case ActionStarted:
			d.logger.Debug().Msg("upstream acknowledged session")

		case ActionResult:
			if frame.Data == "" {
				continue
			}
			text, final := ExtractTranscript(frame.Data)
			if IsNoise(text) {
				d.metrics.RecordFilteredResult()
				continue
			}
			res := models.TranscriptionResult{
				Success:    true,
				Transcript: text,
				IsFinal:    final,
				Confidence: nominalConfidence,
			}
			if final {
				if !d.emit(ctx, out, res, d.lifecycle.EmitFinal) {
					return
				}
				d.metrics.RecordFinalResult()
				// The final result seals the sequence; the trailing end
				// frame carries no content.
				return
			}
			if !d.emit(ctx, out, res, d.lifecycle.EmitPartial) {
				return
			}
			d.metrics.RecordPartialResult()

		case ActionEnd:
			// End frames carry no transcript. No synthetic final is invented.
			d.logger.Debug().Msg("upstream signalled end of stream")
			return

		case ActionError:
			d.metrics.RecordUpstreamError(frame.Code)
			res := frame.ErrorResult()
			d.up.Fail(res.Error)
			d.emit(ctx, out, res, d.lifecycle.EmitError)
			return

		default:
			d.logger.Warn().Str("action", string(frame.Action)).Msg("unknown upstream action, skipping")
		}
	}
}

// emit pushes one result after validating it against the result lifecycle.
// Returns false when the sequence is already sealed or the context is gone.
func (d *demux) emit(ctx context.Context, out chan<- models.TranscriptionResult, res models.TranscriptionResult, validate func() error) bool {
	if err := validate(); err != nil {
		d.logger.Warn().Err(err).Msg("result suppressed by lifecycle guard")
		return false
	}
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
