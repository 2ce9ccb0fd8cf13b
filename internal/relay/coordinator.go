// Package relay implements the real-time speech transcription relay: a
// session bridging a caller-supplied audio stream to the upstream streaming
// recognition provider over a signed duplex connection, relaying back a
// filtered ordered sequence of partial/final transcript results.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/metrics"
)

// CoordinatorConfig holds the settings for one relay session.
type CoordinatorConfig struct {
	Session       SessionConfig
	TeardownGrace time.Duration
}

// Coordinator owns one end-to-end relay session: it connects the upstream
// session, runs the ingress pump and the result demultiplexer concurrently
// against it, and exposes the demultiplexer's output as the externally
// observable result sequence. Sessions share no mutable state beyond the
// read-only credentials; one Coordinator serves one audio source.
type Coordinator struct {
	cfg     CoordinatorConfig
	id      string
	session *Session
	cancel  context.CancelFunc
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewCoordinator creates a coordinator for a single relay session.
func NewCoordinator(cfg CoordinatorConfig, logger zerolog.Logger) *Coordinator {
	if cfg.TeardownGrace <= 0 {
		cfg.TeardownGrace = 3 * time.Second
	}
	id := uuid.NewString()
	return &Coordinator{
		cfg:     cfg,
		id:      id,
		logger:  logger.With().Str("sessionId", id).Logger(),
		metrics: metrics.DefaultMetrics,
	}
}

// ID returns the session identifier.
func (c *Coordinator) ID() string {
	return c.id
}

// Start launches the relay session against the given audio source and
// returns the result sequence. The source is drained until it is closed or
// the session is cancelled; the returned channel is closed once the sequence
// terminates and both directions have been torn down. Errors, including
// connect failures, surface as a single terminal element of the sequence.
func (c *Coordinator) Start(ctx context.Context, source <-chan []byte) <-chan models.TranscriptionResult {
	ctx, c.cancel = context.WithCancel(ctx)
	out := make(chan models.TranscriptionResult, 16)
	go c.run(ctx, source, out)
	return out
}

// Cancel requests prompt teardown of the session. Cooperative: both tasks
// observe the signal at their next suspension point.
func (c *Coordinator) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) run(ctx context.Context, source <-chan []byte, out chan<- models.TranscriptionResult) {
	defer close(out)

	start := time.Now()
	c.metrics.RecordSessionStart()

	sess := NewSession(c.cfg.Session, c.logger)
	c.session = sess

	defer func() {
		success := sess.State() != StateFailed
		c.metrics.RecordSessionEnd(success, time.Since(start).Seconds())
		c.logger.Info().
			Str("state", sess.State().String()).
			Dur("duration", time.Since(start)).
			Msg("relay session ended")
	}()

	if err := sess.Connect(ctx); err != nil {
		c.logger.Error().Err(err).Msg("upstream connect failed")
		out <- connectFailure(err)
		return
	}
	c.logger.Info().Msg("upstream session streaming")

	lifecycle := &resultLifecycle{}
	d := &demux{up: sess, lifecycle: lifecycle, logger: c.logger, metrics: c.metrics}

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()

	var wg sync.WaitGroup
	demuxDone := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		runPump(pumpCtx, source, sess, c.logger, c.metrics)
	}()
	go func() {
		defer wg.Done()
		defer close(demuxDone)
		d.run(ctx, out)
	}()

	select {
	case <-demuxDone:
	case <-ctx.Done():
	}

	// Teardown: stop the pump first so no chunk is sent once the session is
	// closing, then await both tasks within the grace period, then close the
	// transport regardless.
	stopPump()
	if waitTimeout(&wg, c.cfg.TeardownGrace) {
		c.logger.Warn().Dur("grace", c.cfg.TeardownGrace).Msg("teardown grace elapsed, force-closing transport")
	}
	sess.Close()
	wg.Wait()
}

// connectFailure maps a connect error to the single terminal result of the
// sequence. Upstream handshake rejections keep the provider's code/message.
func connectFailure(err error) models.TranscriptionResult {
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		return models.TranscriptionResult{Success: false, Error: uerr.Error()}
	}
	return models.TranscriptionResult{Success: false, Error: fmt.Sprintf("connection failed: %v", err)}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return false
	case <-time.After(d):
		return true
	}
}
