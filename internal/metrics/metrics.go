package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codementor"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Current number of open WebSocket connections",
	})

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_joins_total",
		Help:      "Room joins by assigned role",
	}, []string{"role"})

	teardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_teardowns_total",
		Help:      "Rooms removed from the registry by reason",
	}, []string{"reason"})

	edits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "edits_total",
		Help:      "Edits that reached a room, by outcome",
	}, []string{"outcome"})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Verified submissions by result",
	}, []string{"result"})

	rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_rejected_total",
		Help:      "Inbound frames answered with an error event, by error code",
	}, []string{"code"})
)

// Teardown reasons.
const (
	ReasonMentorLeft = "mentor_left"
	ReasonEmpty      = "empty"
)

// ConnectionOpened records a new WebSocket connection.
func ConnectionOpened() { connectionsActive.Inc() }

// ConnectionClosed records a closed WebSocket connection.
func ConnectionClosed() { connectionsActive.Dec() }

// SetRoomsActive sets the live room gauge.
func SetRoomsActive(n int) { roomsActive.Set(float64(n)) }

// RoomJoined counts a join with the role it was assigned.
func RoomJoined(role string) { joins.WithLabelValues(role).Inc() }

// RoomTornDown counts a room leaving the registry.
func RoomTornDown(reason string) { teardowns.WithLabelValues(reason).Inc() }

// EditApplied counts an edit written to a room.
func EditApplied() { edits.WithLabelValues("applied").Inc() }

// EditDropped counts an edit refused by a room.
func EditDropped() { edits.WithLabelValues("dropped").Inc() }

// Submission counts a verified submission.
func Submission(correct bool) {
	result := "incorrect"
	if correct {
		result = "correct"
	}
	submissions.WithLabelValues(result).Inc()
}

// FrameRejected counts an error event sent back to a client.
func FrameRejected(code string) { rejected.WithLabelValues(code).Inc() }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for the WebSocket upgrade to pass through the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics labelled by the matched chi route, so
// path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
