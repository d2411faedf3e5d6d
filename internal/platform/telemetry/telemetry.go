// Package telemetry exposes Prometheus metrics for the API and the batch
// commands. The server serves them on /metrics; batch commands push them to a
// Pushgateway when one is configured.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "enikshay"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	reconcileRuns  *prometheus.CounterVec
	reconcileCases *prometheus.CounterVec

	episodeUpdates *prometheus.CounterVec
	lastSuccess    *prometheus.GaugeVec
}

// New creates a Metrics with its own registry. withRuntime adds the Go and
// process collectors, which only make sense for the long-running server.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation runs by command and outcome.",
		}, []string{"command", "outcome"}),
		reconcileCases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cases_total",
			Help:      "Cases closed and persons failed by reconciliation command.",
		}, []string{"command", "result"}),
		episodeUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "episode_update",
			Name:      "episodes_total",
			Help:      "Episodes processed by the episode updater by result.",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful batch run.",
		}, []string{"batch"}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.reconcileRuns, m.reconcileCases,
		m.episodeUpdates, m.lastSuccess,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry; tests gather from it.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request counts and latency labelled by the matched route
// rather than the raw path, so ids do not explode the label space.
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
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// ReconcileRun records one reconciliation run. aborted runs count their partial
// totals too.
func (m *Metrics) ReconcileRun(command string, closed, errors int, aborted bool) {
	outcome := "completed"
	if aborted {
		outcome = "aborted"
	}
	m.reconcileRuns.WithLabelValues(command, outcome).Inc()
	m.reconcileCases.WithLabelValues(command, "closed").Add(float64(closed))
	m.reconcileCases.WithLabelValues(command, "error").Add(float64(errors))
	if !aborted {
		m.lastSuccess.WithLabelValues("reconcile_" + command).SetToCurrentTime()
	}
}

// EpisodeUpdateRun records the totals of one episode updater run.
func (m *Metrics) EpisodeUpdateRun(updated, unchanged, errors int) {
	m.episodeUpdates.WithLabelValues("updated").Add(float64(updated))
	m.episodeUpdates.WithLabelValues("unchanged").Add(float64(unchanged))
	m.episodeUpdates.WithLabelValues("error").Add(float64(errors))
	m.lastSuccess.WithLabelValues("update_episodes").SetToCurrentTime()
}

// Push sends the registry to a Pushgateway under job, grouped by domain. The
// gateway rejects gathered metrics that carry their own job label.
func (m *Metrics) Push(url, job, domain string) error {
	return push.New(url, job).
		Gatherer(m.registry).
		Grouping("domain", domain).
		Push()
}
