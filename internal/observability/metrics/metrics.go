// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsSuccess prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Audio ingress metrics
	AudioBytesForwarded  prometheus.Counter
	AudioChunksForwarded prometheus.Counter
	AudioChunksSkipped   prometheus.Counter

	// Upstream frame metrics
	FramesReceived    *prometheus.CounterVec
	HandshakeTimeouts prometheus.Counter

	// Result metrics
	ResultsPartial  prometheus.Counter
	ResultsFinal    prometheus.Counter
	ResultsFiltered prometheus.Counter
	UpstreamErrors  *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active relay sessions",
		}),
		SessionsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_success_total",
			Help:      "Total number of sessions closed cleanly",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions ended in failure",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of relay sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		AudioBytesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_forwarded_total",
			Help:      "Total audio bytes forwarded upstream",
		}),
		AudioChunksForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_forwarded_total",
			Help:      "Total audio chunks forwarded upstream",
		}),
		AudioChunksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_skipped_total",
			Help:      "Total zero-length audio chunks skipped",
		}),

		FramesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total upstream frames received by action",
		}, []string{"action"}),
		HandshakeTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_timeouts_total",
			Help:      "Total greeting waits that timed out (session proceeded anyway)",
		}),

		ResultsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_partial_total",
			Help:      "Total partial transcription results emitted",
		}),
		ResultsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_final_total",
			Help:      "Total final transcription results emitted",
		}),
		ResultsFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_filtered_total",
			Help:      "Total degenerate results suppressed by the noise filter",
		}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total error frames received from the upstream provider",
		}, []string{"code"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new relay session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a relay session ending.
func (m *Metrics) RecordSessionEnd(success bool, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if success {
		m.SessionsSuccess.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
}

// RecordAudioForwarded records an audio chunk forwarded upstream.
func (m *Metrics) RecordAudioForwarded(bytes int) {
	m.AudioBytesForwarded.Add(float64(bytes))
	m.AudioChunksForwarded.Inc()
}

// RecordAudioSkipped records a zero-length chunk skipped by the pump.
func (m *Metrics) RecordAudioSkipped() {
	m.AudioChunksSkipped.Inc()
}

// RecordFrame records an upstream frame by action.
func (m *Metrics) RecordFrame(action string) {
	m.FramesReceived.WithLabelValues(action).Inc()
}

// RecordHandshakeTimeout records a greeting wait that elapsed without a frame.
func (m *Metrics) RecordHandshakeTimeout() {
	m.HandshakeTimeouts.Inc()
}

// RecordPartialResult records a partial result emitted to the caller.
func (m *Metrics) RecordPartialResult() {
	m.ResultsPartial.Inc()
}

// RecordFinalResult records a final result emitted to the caller.
func (m *Metrics) RecordFinalResult() {
	m.ResultsFinal.Inc()
}

// RecordFilteredResult records a result suppressed by the noise filter.
func (m *Metrics) RecordFilteredResult() {
	m.ResultsFiltered.Inc()
}

// RecordUpstreamError records an error frame from the provider.
func (m *Metrics) RecordUpstreamError(code string) {
	m.UpstreamErrors.WithLabelValues(code).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
