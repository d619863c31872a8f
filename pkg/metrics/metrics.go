// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voxscribe_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SessionsOpen  prometheus.Gauge
	SessionsTotal *prometheus.CounterVec
	SessionsSwept prometheus.Counter

	TranscriptsInterim prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	AudioFramesForwarded prometheus.Counter
	AudioFramesDropped   *prometheus.CounterVec

	UpstreamErrors prometheus.Counter
}

// Default is the process-wide metrics instance.
var Default = New()

// New creates and registers all relay metrics.
func New() *Metrics {
	return &Metrics{
		SessionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of currently open client sessions",
		}),
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of client sessions opened",
		}, []string{"mode"}),
		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Total number of sessions terminated by the liveness sweeper",
		}),
		TranscriptsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim transcripts relayed to clients",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts relayed to clients",
		}),
		AudioFramesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_forwarded_total",
			Help:      "Total audio frames forwarded to the upstream recognizer",
		}),
		AudioFramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped instead of forwarded",
		}, []string{"reason"}),
		UpstreamErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of fatal upstream errors",
		}),
	}
}

// RecordSessionOpen records a client session opening.
func (m *Metrics) RecordSessionOpen(mode string) {
	m.SessionsOpen.Inc()
	m.SessionsTotal.WithLabelValues(mode).Inc()
}

// RecordSessionClose records a client session closing.
func (m *Metrics) RecordSessionClose() {
	m.SessionsOpen.Dec()
}

// RecordSessionSwept records a forced termination by the sweeper.
func (m *Metrics) RecordSessionSwept() {
	m.SessionsSwept.Inc()
}

// RecordTranscript records a transcript relayed to a client.
func (m *Metrics) RecordTranscript(isFinal bool) {
	if isFinal {
		m.TranscriptsFinal.Inc()
	} else {
		m.TranscriptsInterim.Inc()
	}
}

// RecordAudioForwarded records an audio frame forwarded upstream.
func (m *Metrics) RecordAudioForwarded() {
	m.AudioFramesForwarded.Inc()
}

// RecordAudioDropped records an audio frame dropped.
func (m *Metrics) RecordAudioDropped(reason string) {
	m.AudioFramesDropped.WithLabelValues(reason).Inc()
}

// RecordUpstreamError records a fatal upstream error.
func (m *Metrics) RecordUpstreamError() {
	m.UpstreamErrors.Inc()
}
