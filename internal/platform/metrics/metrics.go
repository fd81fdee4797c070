// Package metrics exposes Prometheus collectors for the HTTP layer, the
// appointment state machine and the database pool.
package metrics

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vetcare"

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Applied appointment status changes. An empty from marks direct creation.",
		}, []string{"from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_rejections_total",
			Help:      "Bookings refused because the slot was not available, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.transitions,
		m.rejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// TransitionApplied counts a status change.
func (m *Metrics) TransitionApplied(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// BookingRejected counts a refused booking.
func (m *Metrics) BookingRejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// RegisterPool exports connection pool gauges read at scrape time.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	gauge := func(name, help string, fn func(*pgxpool.Stat) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn(pool.Stat())) })
	}
	m.registry.MustRegister(
		gauge("total_conns", "Open connections.", (*pgxpool.Stat).TotalConns),
		gauge("acquired_conns", "Connections in use.", (*pgxpool.Stat).AcquiredConns),
		gauge("idle_conns", "Idle connections.", (*pgxpool.Stat).IdleConns),
		gauge("max_conns", "Configured maximum connections.", (*pgxpool.Stat).MaxConns),
	)
}

// Middleware records request count and latency. The route label is the
// registered path pattern, so ids do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
}
