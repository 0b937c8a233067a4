package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsCollector implements smpp.MetricsCollector using Prometheus
type PrometheusMetricsCollector struct {
	registry *prometheus.Registry

	// Counters
	pduProcessedTotal     *prometheus.CounterVec
	bindTotal             *prometheus.CounterVec
	responseTimeoutsTotal *prometheus.CounterVec

	// Gauges
	activeSessions  *prometheus.GaugeVec
	pendingRequests *prometheus.GaugeVec

	// Histograms
	responseLatency *prometheus.HistogramVec

	server *http.Server
}

var _ smpp.MetricsCollector = (*PrometheusMetricsCollector)(nil)

// NewPrometheusMetricsCollector creates a collector registering its metrics
// under namespace and subsystem on a private registry.
func NewPrometheusMetricsCollector(namespace, subsystem string) *PrometheusMetricsCollector {
	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.pduProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      smpp.MetricPDUProcessed,
			Help:      "Total number of PDUs processed",
		},
		[]string{"command_id", "direction", "result"},
	)

	pmc.bindTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      smpp.MetricBind,
			Help:      "Total number of bind attempts",
		},
		[]string{"bind_type", "result"},
	)

	pmc.responseTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      smpp.MetricResponseTimeouts,
			Help:      "Total number of requests that got no response in time",
		},
		[]string{"command_id"},
	)

	pmc.activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      smpp.MetricActiveSessions,
			Help:      "Number of open sessions",
		},
		[]string{"role"},
	)

	pmc.pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      smpp.MetricPendingRequests,
			Help:      "Number of requests awaiting a response",
		},
		[]string{"role"},
	)

	pmc.responseLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      smpp.MetricResponseLatency,
			Help:      "Time between sending a request and receiving its response",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"command_id"},
	)

	pmc.registry.MustRegister(
		pmc.pduProcessedTotal,
		pmc.bindTotal,
		pmc.responseTimeoutsTotal,
		pmc.activeSessions,
		pmc.pendingRequests,
		pmc.responseLatency,
	)

	return pmc
}

// Registry exposes the registry the collector's metrics live in.
func (p *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return p.registry
}

// IncCounter increments a counter metric. Unknown names are ignored.
func (p *PrometheusMetricsCollector) IncCounter(name string, labels map[string]string) {
	switch name {
	case smpp.MetricPDUProcessed:
		p.pduProcessedTotal.With(labels).Inc()
	case smpp.MetricBind:
		p.bindTotal.With(labels).Inc()
	case smpp.MetricResponseTimeouts:
		p.responseTimeoutsTotal.With(labels).Inc()
	}
}

// SetGauge sets a gauge metric
func (p *PrometheusMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	switch name {
	case smpp.MetricActiveSessions:
		p.activeSessions.With(labels).Set(value)
	case smpp.MetricPendingRequests:
		p.pendingRequests.With(labels).Set(value)
	}
}

// ObserveHistogram observes a value for a histogram metric
func (p *PrometheusMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	if name == smpp.MetricResponseLatency {
		p.responseLatency.With(labels).Observe(value)
	}
}

// RecordDuration records a duration in seconds
func (p *PrometheusMetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	p.ObserveHistogram(name, duration.Seconds(), labels)
}

// Handler serves the collector's registry in the Prometheus text format.
func (p *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve starts the HTTP endpoint for the metrics on port at path. Errors
// after startup are passed to onError.
func (p *PrometheusMetricsCollector) Serve(port int, path string, onError func(error)) {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())

	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
}

// Stop stops the metrics HTTP server
func (p *PrometheusMetricsCollector) Stop() error {
	if p.server != nil {
		return p.server.Close()
	}
	return nil
}

// NoOpMetricsCollector provides a no-op implementation for when metrics are disabled
type NoOpMetricsCollector struct{}

// NewNoOpMetricsCollector creates a no-op metrics collector
func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}

func (n *NoOpMetricsCollector) IncCounter(string, map[string]string)                    {}
func (n *NoOpMetricsCollector) SetGauge(string, float64, map[string]string)             {}
func (n *NoOpMetricsCollector) ObserveHistogram(string, float64, map[string]string)     {}
func (n *NoOpMetricsCollector) RecordDuration(string, time.Duration, map[string]string) {}

// FromConfig returns a Prometheus collector when metrics are enabled and a
// no-op collector otherwise. A positive port starts the HTTP endpoint.
func FromConfig(cfg smpp.MetricsConfig, logger smpp.Logger) (smpp.MetricsCollector, func() error) {
	if !cfg.Enabled {
		return NewNoOpMetricsCollector(), func() error { return nil }
	}
	pmc := NewPrometheusMetricsCollector(cfg.Namespace, cfg.Subsystem)
	if cfg.Port > 0 {
		pmc.Serve(cfg.Port, cfg.Path, func(err error) {
			logger.Error("Metrics server failed", "error", err)
		})
		logger.Info("Metrics server started", "port", cfg.Port, "path", cfg.Path)
	}
	return pmc, pmc.Stop
}
