// Package metrics holds the Prometheus collectors shared by both servers.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts REST requests by route template, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_http_requests_total",
		Help: "Total HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	// HTTPLatency records REST request latency by route template.
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatline_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// RealtimeEvents counts realtime events handed to the transport.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_realtime_events_total",
		Help: "Realtime events emitted by event name and target kind",
	}, []string{"event", "target"})

	// RealtimeDrops counts events that never reached a session: a full session
	// buffer, an overflowing hub queue, or an undeliverable Kafka record.
	RealtimeDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_realtime_drops_total",
		Help: "Realtime events dropped by reason",
	}, []string{"reason"})

	// ActiveSessions is the number of live websocket sessions on this instance.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatline_websocket_sessions",
		Help: "Number of live websocket sessions",
	})

	// FriendshipTransitions counts requestOrAccept/remove outcomes.
	FriendshipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_friendship_transitions_total",
		Help: "Friendship state transitions by outcome",
	}, []string{"outcome"})

	// MessagesPosted counts messages stored, split by channel kind.
	MessagesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_messages_posted_total",
		Help: "Messages posted by channel kind",
	}, []string{"kind"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request counts and latency keyed by the mux route
// template, so ids in paths do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
