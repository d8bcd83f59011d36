package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitrack_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	reconcilePassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitrack_reconcile_passes_total",
			Help: "Total number of completed reconciliation passes.",
		},
	)

	reconcileDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbitrack_reconcile_duration_seconds",
			Help:    "Wall time of a reconciliation pass including the sweep delay.",
			Buckets: prometheus.DefBuckets,
		},
	)

	elementFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitrack_element_fetches_total",
			Help: "Element fetches by outcome (changed, unchanged, fetch_error, parse_error, propagation_error).",
		},
		[]string{"outcome"},
	)

	trackedBodies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbitrack_tracked_bodies",
			Help: "Number of bodies currently tracked.",
		},
	)

	hiddenBodies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbitrack_hidden_bodies",
			Help: "Number of tracked bodies currently hidden.",
		},
	)

	sweptBodiesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitrack_swept_bodies_total",
			Help: "Total number of bodies removed by the sweep step.",
		},
	)

	artifactDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbitrack_artifact_generation_seconds",
			Help:    "Time spent sampling an orbit and building its render artifacts.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	frameRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitrack_frame_rotations_total",
			Help: "Rotations applied to named frames.",
		},
		[]string{"frame"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitrack_stream_connections_total",
			Help: "Stream connect and disconnect events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbitrack_streams_active",
			Help: "Currently open change streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitrack_stream_messages_total",
			Help: "Messages written to change streams.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbitrack_stream_bytes_total",
			Help: "Bytes written to change streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitrack_stream_errors_total",
			Help: "Change stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		reconcilePassesTotal,
		reconcileDurationSeconds,
		elementFetchesTotal,
		trackedBodies,
		hiddenBodies,
		sweptBodiesTotal,
		artifactDurationSeconds,
		frameRotationsTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordReconcile records one finished reconciliation pass.
func RecordReconcile(d time.Duration) {
	reconcilePassesTotal.Inc()
	reconcileDurationSeconds.Observe(d.Seconds())
}

// IncElementFetch counts one element fetch with the given outcome.
func IncElementFetch(outcome string) {
	elementFetchesTotal.WithLabelValues(outcome).Inc()
}

// SetTracked publishes the tracked and hidden body counts.
func SetTracked(tracked, hidden int) {
	trackedBodies.Set(float64(tracked))
	hiddenBodies.Set(float64(hidden))
}

// AddSwept counts bodies removed by a sweep.
func AddSwept(n int) {
	sweptBodiesTotal.Add(float64(n))
}

// ObserveArtifactGeneration records how long building one body's artifacts took.
func ObserveArtifactGeneration(d time.Duration) {
	artifactDurationSeconds.Observe(d.Seconds())
}

// IncFrameRotation counts one rotation applied to the named frame.
func IncFrameRotation(frame string) {
	frameRotationsTotal.WithLabelValues(frame).Inc()
}

// IncStreamConnections counts a stream "connect" or "disconnect" event.
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

// IncStreamsActive increments the open stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the open stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts one message written to a stream.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes counts bytes written to a stream.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are exact paths reported under their own label.
var knownRoutes = map[string]bool{
	"/healthz":               true,
	"/readyz":                true,
	"/metrics":               true,
	"/api/v1/tracked":        true,
	"/api/v1/states":         true,
	"/api/v1/passes":         true,
	"/api/v1/frames":         true,
	"/api/v1/frames/rotate":  true,
	"/api/v1/stream/changes": true,
}

const satellitePrefix = "/api/v1/satellites/"

// normalizeRoute collapses per-satellite paths to one label and unknown
// paths to "other" so label cardinality stays bounded.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, satellitePrefix); ok {
		id, action, _ := strings.Cut(rest, "/")
		if _, err := strconv.Atoi(id); err != nil {
			return "other"
		}
		switch action {
		case "state", "hide", "show", "hidden", "refresh", "passes":
			return satellitePrefix + "{norad_id}/" + action
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streaming handlers keep working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
