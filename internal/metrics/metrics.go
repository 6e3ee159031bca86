// Package metrics provides Prometheus instrumentation for flagdeck.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only flagdeck metrics appear on the /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by flagdeck.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	CommandsTotal       *prometheus.CounterVec
	CommandDuration     *prometheus.HistogramVec
	StoreWritesTotal    *prometheus.CounterVec
	Features            prometheus.Gauge
	Groups              prometheus.Gauge
	ChangeLogEntries    prometheus.Gauge
}

// New creates and registers all flagdeck metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagdeck_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flagdeck_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagdeck_commands_total",
			Help: "Total number of state commands by outcome.",
		}, []string{"command", "result"}),

		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flagdeck_command_duration_seconds",
			Help:    "State command latency in seconds, including the store write.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),

		StoreWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagdeck_store_writes_total",
			Help: "Total number of state blob writes by result.",
		}, []string{"result"}),

		Features: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagdeck_features",
			Help: "Number of features in the current state.",
		}),

		Groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagdeck_client_groups",
			Help: "Number of client groups in the current state.",
		}),

		ChangeLogEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagdeck_change_log_entries",
			Help: "Number of entries in the bounded change log.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CommandsTotal,
		m.CommandDuration,
		m.StoreWritesTotal,
		m.Features,
		m.Groups,
		m.ChangeLogEntries,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency. Requests are labelled with
// the ServeMux pattern that matched, or "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(sw.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// ObserveCommand counts a state command and records its latency.
func (m *Metrics) ObserveCommand(command, result string, elapsed time.Duration) {
	m.CommandsTotal.WithLabelValues(command, result).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObservePersist counts a state blob write.
func (m *Metrics) ObservePersist(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreWritesTotal.WithLabelValues(result).Inc()
}

// ObserveState updates the state size gauges.
func (m *Metrics) ObserveState(features, groups, changes int) {
	m.Features.Set(float64(features))
	m.Groups.Set(float64(groups))
	m.ChangeLogEntries.Set(float64(changes))
}
