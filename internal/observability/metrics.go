// Package observability exposes the Prometheus collectors shared by the
// client components and the development server.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spese"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	ClientRequests        *prometheus.CounterVec
	ClientRequestDuration *prometheus.HistogramVec
	Mutations             *prometheus.CounterVec
	Resyncs               *prometheus.CounterVec
	StaleResponses        *prometheus.CounterVec
	SessionTransitions    *prometheus.CounterVec
	CachedExpenses        prometheus.Gauge

	// devserver
	ServerRequests *prometheus.CounterVec
	ServerDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClientRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Requests sent to the expense service.",
			},
			[]string{"method", "route", "status"},
		),
		ClientRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Latency of requests sent to the expense service.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Create, update and delete outcomes by component.",
			},
			[]string{"component", "op", "result"}, // result=ok|rejected|failed
		),
		Resyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resyncs_total",
				Help:      "Authoritative reloads by component and result.",
			},
			[]string{"component", "result"},
		),
		StaleResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_responses_total",
				Help:      "Responses discarded because the session changed while they were in flight.",
			},
			[]string{"component"},
		),
		SessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session transitions by kind.",
			},
			[]string{"kind"}, // login|logout|invalidate|restore
		),
		CachedExpenses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_expenses",
				Help:      "Number of expenses held by the local cache.",
			},
		),
		ServerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "devserver",
				Name:      "http_requests_total",
				Help:      "Requests handled by the development server.",
			},
			[]string{"method", "route", "status"},
		),
		ServerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "devserver",
				Name:      "http_request_duration_seconds",
				Help:      "Development server latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(
		m.ClientRequests, m.ClientRequestDuration, m.Mutations, m.Resyncs,
		m.StaleResponses, m.SessionTransitions, m.CachedExpenses,
		m.ServerRequests, m.ServerDuration,
	)
	return m
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.ClientRequests.WithLabelValues(method, route, code).Inc()
	m.ClientRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Mutation(component, op, result string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(component, op, result).Inc()
}

func (m *Metrics) Resync(component string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.Resyncs.WithLabelValues(component, result).Inc()
}

func (m *Metrics) Stale(component string) {
	if m == nil {
		return
	}
	m.StaleResponses.WithLabelValues(component).Inc()
}

func (m *Metrics) Transition(kind string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetCached(n int) {
	if m == nil {
		return
	}
	m.CachedExpenses.Set(float64(n))
}

// GinMiddleware records devserver requests by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.ServerRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.ServerDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
