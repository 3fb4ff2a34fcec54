// Package metrics exposes Prometheus instruments for the capture and
// streaming pipeline and for the reference backend.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every recording method is a no-op on a nil receiver so
// components can be built without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	FramesCaptured prometheus.Counter
	CaptureLevel   prometheus.Gauge

	// Stream
	ChunksSent    prometheus.Counter
	BytesSent     prometheus.Counter
	ChunksDropped *prometheus.CounterVec
	Events        *prometheus.CounterVec
	Malformed     prometheus.Counter
	SessionState  prometheus.Gauge
	ConnectTime   prometheus.Histogram

	// Backend
	Recognitions        *prometheus.CounterVec
	RecognitionDuration prometheus.Histogram
	BackendSessions     prometheus.Gauge
}

// New registers all instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "livenotes_frames_captured_total",
			Help: "Audio frames delivered by the capture device",
		}),
		CaptureLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "livenotes_capture_level_rms",
			Help: "RMS level of the most recent captured frame",
		}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "livenotes_chunks_sent_total",
			Help: "PCM chunks written to the transcription channel",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "livenotes_bytes_sent_total",
			Help: "PCM bytes written to the transcription channel",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livenotes_chunks_dropped_total",
			Help: "PCM chunks dropped before transmission",
		}, []string{"reason"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livenotes_events_received_total",
			Help: "Transcript events received, by type",
		}, []string{"type"}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "livenotes_malformed_messages_total",
			Help: "Inbound frames that could not be parsed",
		}),
		SessionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "livenotes_session_state",
			Help: "Current stream session state (0 idle, 1 connecting, 2 live, 3 stopping, 4 closed, 5 failed)",
		}),
		ConnectTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livenotes_connect_seconds",
			Help:    "Time to open the transcription channel",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		Recognitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livenotes_backend_recognitions_total",
			Help: "Backend recognizer calls, by result",
		}, []string{"result"}),
		RecognitionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livenotes_backend_recognition_seconds",
			Help:    "Backend recognizer call latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		BackendSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "livenotes_backend_sessions",
			Help: "Open backend transcription sockets",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameCaptured(level float64) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	m.CaptureLevel.Set(level)
}

func (m *Metrics) ChunkSent(n int) {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) ChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) MalformedMessage() {
	if m == nil {
		return
	}
	m.Malformed.Inc()
}

func (m *Metrics) State(code int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(code))
}

func (m *Metrics) Connected(seconds float64) {
	if m == nil {
		return
	}
	m.ConnectTime.Observe(seconds)
}

func (m *Metrics) Recognition(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Recognitions.WithLabelValues(result).Inc()
	m.RecognitionDuration.Observe(seconds)
}

func (m *Metrics) BackendSessionOpened() {
	if m == nil {
		return
	}
	m.BackendSessions.Inc()
}

func (m *Metrics) BackendSessionClosed() {
	if m == nil {
		return
	}
	m.BackendSessions.Dec()
}
