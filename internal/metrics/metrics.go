// Package metrics holds the Prometheus collectors for the x-ray service.
//
// Collectors are registered against an injected Registerer so tests can use a
// private registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "xray_"

// Ingest outcomes.
const (
	OutcomeStored    = "stored"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Metrics bundles every collector the service exports.
type Metrics struct {
	ingestMessages    *prometheus.CounterVec
	ingestDuration    prometheus.Histogram
	ingestRetries     prometheus.Counter
	ingestDeadLetters prometheus.Counter
	httpRequests      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ingestMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Queue messages handled by outcome",
			},
			[]string{"outcome"},
		),
		ingestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_duration_seconds",
				Help:    "Time spent handling one queue message",
				Buckets: prometheus.DefBuckets,
			},
		),
		ingestRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_retries_total",
				Help: "Persist attempts retried after a storage failure",
			},
		),
		ingestDeadLetters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_dead_letters_total",
				Help: "Messages recorded as dead letters",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route pattern and status code",
			},
			[]string{"route", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.ingestMessages, m.ingestDuration, m.ingestRetries, m.ingestDeadLetters, m.httpRequests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m, nil
}

// ObserveIngest records one handled message.
func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestMessages.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(d.Seconds())
}

// IncRetry counts one retried persist attempt.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.ingestRetries.Inc()
}

// IncDeadLetter counts one dead-lettered message.
func (m *Metrics) IncDeadLetter() {
	if m == nil {
		return
	}
	m.ingestDeadLetters.Inc()
}

// Middleware counts requests by chi route pattern and response status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
