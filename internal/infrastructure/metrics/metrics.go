// Package metrics exposes Prometheus counters for approval events, timeout
// sweeps and HTTP traffic.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Metrics owns a registry and the collectors registered on it
type Metrics struct {
	registry *prometheus.Registry

	// EventsTotal counts dispatched approval events by type
	EventsTotal *prometheus.CounterVec
	// SweepRuns counts completed timeout sweeps
	SweepRuns prometheus.Counter
	// SweepActions counts sweep outcomes by result
	SweepActions *prometheus.CounterVec
	// SweepErrors counts sweeps that failed outright
	SweepErrors prometheus.Counter
	// HTTPRequestsTotal counts API requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration tracks API latency
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, plus the Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_events_total",
				Help: "Total number of approval events dispatched",
			},
			[]string{"type"},
		),
		SweepRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "approval_sweep_runs_total",
				Help: "Total number of completed timeout sweeps",
			},
		),
		SweepActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_sweep_actions_total",
				Help: "Timeout sweep outcomes by result",
			},
			[]string{"result"},
		),
		SweepErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "approval_sweep_errors_total",
				Help: "Total number of timeout sweeps that failed",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// Registry returns the registry backing m
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Register counts every event passing through d
func (m *Metrics) Register(d dispatcher.Dispatcher) error {
	return d.Subscribe(dispatcher.Subscription{
		Name: "metrics.events",
		Handler: func(ctx context.Context, evt *event.Event) error {
			m.EventsTotal.WithLabelValues(evt.Type.String()).Inc()
			return nil
		},
	})
}

// ObserveSweep records the outcome of one sweep
func (m *Metrics) ObserveSweep(report *service.SweepReport, err error) {
	if err != nil {
		m.SweepErrors.Inc()
		return
	}
	m.SweepRuns.Inc()
	if report == nil {
		return
	}
	m.SweepActions.WithLabelValues("escalated").Add(float64(report.Escalated))
	m.SweepActions.WithLabelValues("expired").Add(float64(report.Expired))
	m.SweepActions.WithLabelValues("completed").Add(float64(report.Completed))
	m.SweepActions.WithLabelValues("failed").Add(float64(report.Failed))
}

// Middleware records request counts and latency by route template
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := c.Request.Method
		m.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
