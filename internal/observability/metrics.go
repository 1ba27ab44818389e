package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_console_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_console_sessions_total",
		Help: "Total number of voice sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_console_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_console_state_transitions_total",
		Help: "Total session state transitions",
	}, []string{"state"})

	// Transcript metrics
	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_console_transcript_entries_total",
		Help: "Total transcript entries created",
	}, []string{"role"})

	reconcilerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_console_reconciler_ops_total",
		Help: "Total transcript reconciliation operations",
	}, []string{"op"})

	droppedPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_console_dropped_payloads_total",
		Help: "Total inbound agent payloads dropped",
	}, []string{"reason"})

	// Token service metrics
	tokenFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_console_token_fetch_latency_seconds",
		Help:    "Token fetch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Data channel metrics
	dataBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_console_data_bytes_total",
		Help: "Total data channel bytes",
	}, []string{"direction"}) // direction: "in" or "out"

	// Playback metrics
	playbackRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_console_playback_retries_total",
		Help: "Total playback retries triggered by user gestures",
	})
)

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	startTime time.Time
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{startTime: time.Now()}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordStateTransition records a session state transition
func RecordStateTransition(state string) {
	stateTransitions.WithLabelValues(state).Inc()
}

// RecordTranscriptEntry records a newly created transcript entry
func RecordTranscriptEntry(role string) {
	transcriptEntries.WithLabelValues(role).Inc()
}

// RecordReconcilerOp records a reconciliation operation
func RecordReconcilerOp(op string) {
	reconcilerOps.WithLabelValues(op).Inc()
}

// RecordDroppedPayload records a dropped inbound agent payload
func RecordDroppedPayload(reason string) {
	droppedPayloads.WithLabelValues(reason).Inc()
}

// ObserveTokenFetch records a token fetch duration
func ObserveTokenFetch(d time.Duration) {
	tokenFetchLatency.Observe(d.Seconds())
}

// RecordDataBytes records data channel bytes in either direction
func RecordDataBytes(direction string, bytes int64) {
	dataBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPlaybackRetry records a gesture-triggered playback retry
func RecordPlaybackRetry() {
	playbackRetries.Inc()
}
