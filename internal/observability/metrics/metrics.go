// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_summary"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Session metrics
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge

	// Audio metrics
	AudioBytesReceived prometheus.Counter
	AudioBytesEvicted  prometheus.Counter
	ChunksEmitted      prometheus.Counter
	SilentChunks       prometheus.Counter
	RingBufferBytes    prometheus.Gauge
	SendQueueDropped   prometheus.Counter

	// Transcript metrics
	SegmentsReceived *prometheus.CounterVec // labels: final
	SegmentsDropped  *prometheus.CounterVec // labels: reason
	BatchesEmitted   prometheus.Counter
	SpeakersDetected prometheus.Gauge

	// Provider metrics
	ProviderRequests *prometheus.CounterVec   // labels: provider, outcome
	ProviderErrors   *prometheus.CounterVec   // labels: provider, error_type
	ProviderLatency  *prometheus.HistogramVec // labels: provider
	Failovers        *prometheus.CounterVec   // labels: from, to

	// Retry metrics
	RetriesScheduled   prometheus.Counter
	MaxRetriesExceeded prometheus.Counter
	ThresholdBreaches  prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec // labels: topic
	KafkaPublishErrors  *prometheus.CounterVec // labels: topic
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
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes appended to the ring buffer",
		}),
		AudioBytesEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_evicted_total",
			Help:      "Total audio bytes evicted from the ring buffer",
		}),
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_emitted_total",
			Help:      "Total fixed-duration audio chunks emitted",
		}),
		SilentChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_silent_total",
			Help:      "Total chunks classified as silence",
		}),
		RingBufferBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_buffer_bytes",
			Help:      "Bytes currently buffered in the ring buffer",
		}),
		SendQueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_queue_dropped_total",
			Help:      "Chunks dropped from the provider send queue under saturation",
		}),

		SegmentsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_received_total",
			Help:      "Total transcript segments received from providers",
		}, []string{"final"}),
		SegmentsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Total transcript segments dropped by the aggregator",
		}, []string{"reason"}),
		BatchesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_emitted_total",
			Help:      "Total aggregated transcript batches emitted",
		}),
		SpeakersDetected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speakers_detected",
			Help:      "Distinct speakers detected in the current session",
		}),

		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total STT provider operations",
		}, []string{"provider", "outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total STT provider errors",
		}, []string{"provider", "error_type"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "STT provider operation latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider"}),
		Failovers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failovers_total",
			Help:      "Total automatic provider failovers",
		}, []string{"from", "to"}),

		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total retries scheduled by the error controller",
		}),
		MaxRetriesExceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "max_retries_exceeded_total",
			Help:      "Total errors that exhausted their retry budget",
		}),
		ThresholdBreaches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_threshold_breaches_total",
			Help:      "Times the sliding-window error threshold was breached",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd() {
	m.SessionsActive.Dec()
}

// RecordAudioReceived records bytes appended to the ring buffer.
func (m *Metrics) RecordAudioReceived(n int) {
	m.AudioBytesReceived.Add(float64(n))
}

// RecordEviction records bytes evicted from the ring buffer.
func (m *Metrics) RecordEviction(n int) {
	m.AudioBytesEvicted.Add(float64(n))
}

// RecordChunk records an emitted chunk and its silence classification.
func (m *Metrics) RecordChunk(silent bool) {
	m.ChunksEmitted.Inc()
	if silent {
		m.SilentChunks.Inc()
	}
}

// RecordSegment records a transcript segment received from a provider.
func (m *Metrics) RecordSegment(final bool) {
	if final {
		m.SegmentsReceived.WithLabelValues("true").Inc()
	} else {
		m.SegmentsReceived.WithLabelValues("false").Inc()
	}
}

// RecordSegmentDropped records an aggregator filter drop.
func (m *Metrics) RecordSegmentDropped(reason string) {
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordProviderRequest records a provider operation and its latency.
func (m *Metrics) RecordProviderRequest(provider string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordProviderError records a classified provider error.
func (m *Metrics) RecordProviderError(provider, errorType string) {
	m.ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordFailover records an automatic provider switch.
func (m *Metrics) RecordFailover(from, to string) {
	m.Failovers.WithLabelValues(from, to).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
