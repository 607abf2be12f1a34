package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meditation_gateway_active_sessions",
		Help: "Number of connected client sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meditation_gateway_sessions_total",
		Help: "Total number of client sessions",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meditation_gateway_session_duration_seconds",
		Help:    "Duration of client sessions in seconds",
		Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meditation_gateway_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_rate_limited_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"component"})

	// Narration metrics
	narrationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_narration_requests_total",
		Help: "Narration requests by outcome",
	}, []string{"outcome"})

	narrationStartLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meditation_gateway_narration_start_latency_seconds",
		Help:    "Time from a play request until the client reports playback",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	})

	// Music metrics
	musicUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_music_uploads_total",
		Help: "Background music uploads by outcome",
	}, []string{"outcome"})

	// Video metrics
	videoJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_video_jobs_total",
		Help: "Video generation jobs by final outcome",
	}, []string{"outcome"})

	videoPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_video_polls_total",
		Help: "Video status polls by reported status",
	}, []string{"status"})

	// Chat metrics
	chatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_chat_messages_total",
		Help: "Chat messages appended by role",
	}, []string{"role"})

	// Media metrics
	mediaBlobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meditation_gateway_media_blobs",
		Help: "Audio blobs currently held in memory",
	})

	mediaBlobBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meditation_gateway_media_blob_bytes",
		Help: "Bytes held by in-memory audio blobs",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meditation_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meditation_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single client session
type SessionMetrics struct {
	sessionID          string
	startTime          time.Time
	narrationStartTime time.Time
	mu                 sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records a newly connected session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordNarrationStart marks a narration request as accepted
func (m *SessionMetrics) RecordNarrationStart() {
	m.mu.Lock()
	m.narrationStartTime = time.Now()
	m.mu.Unlock()
	narrationRequests.WithLabelValues("accepted").Inc()
}

// RecordNarrationEnd records how the last accepted narration request ended.
// outcome is "played", "failed" or "cancelled".
func (m *SessionMetrics) RecordNarrationEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if outcome == "played" && !m.narrationStartTime.IsZero() {
		narrationStartLatency.Observe(time.Since(m.narrationStartTime).Seconds())
	}
	m.narrationStartTime = time.Time{}
	narrationRequests.WithLabelValues(outcome).Inc()
}

// RecordTTSRequest records one text-to-speech request
func RecordTTSRequest(status string, latency time.Duration) {
	ttsRequests.WithLabelValues(status).Inc()
	ttsLatency.Observe(latency.Seconds())
}

// RecordRateLimited records a request rejected by a rate limiter
func RecordRateLimited(component string) {
	rateLimited.WithLabelValues(component).Inc()
}

// RecordNarrationRejected records a narration request refused while busy
func RecordNarrationRejected() {
	narrationRequests.WithLabelValues("busy").Inc()
}

// RecordMusicUpload records a background music upload attempt
func RecordMusicUpload(outcome string) {
	musicUploads.WithLabelValues(outcome).Inc()
}

// RecordVideoJob records the final outcome of a video job
func RecordVideoJob(outcome string) {
	videoJobs.WithLabelValues(outcome).Inc()
}

// RecordVideoPoll records one status poll
func RecordVideoPoll(status string) {
	videoPolls.WithLabelValues(status).Inc()
}

// RecordChatMessage records a chat message appended to a conversation
func RecordChatMessage(role string) {
	chatMessages.WithLabelValues(role).Inc()
}

// SetMediaBlobs updates the in-memory blob gauges
func SetMediaBlobs(count int, bytes int64) {
	mediaBlobs.Set(float64(count))
	mediaBlobBytes.Set(float64(bytes))
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
