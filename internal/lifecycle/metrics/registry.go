package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lifecycle/internal/lifecycle"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Publisher metrics
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	guardRejections prometheus.Counter

	// Connection metrics
	connectTotal    *prometheus.CounterVec
	connectionState prometheus.Gauge

	// Caller metrics
	userOperationTotal *prometheus.CounterVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_publish_total",
				Help: "Total number of lifecycle publish calls",
			},
			[]string{"event_type", "status"}, // status: acked, timeout, unavailable, transport_error, encoding_error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifecycle_publish_duration_seconds",
				Help:    "Time from publish call to acknowledgment or failure",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),

		guardRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lifecycle_guard_rejections_total",
				Help: "Publish calls rejected without I/O because the broker was unavailable",
			},
		),

		connectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_connect_total",
				Help: "Total number of broker handshake attempts",
			},
			[]string{"status"}, // status: success, error
		),

		connectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lifecycle_connection_state",
				Help: "Broker connection state (0 disconnected, 1 connected, 2 failed)",
			},
		),

		userOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_user_operation_total",
				Help: "Total number of user mutations by outcome",
			},
			[]string{"operation", "status"}, // operation: create, delete
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lifecycle_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lifecycle_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.guardRejections,
		r.connectTotal,
		r.connectionState,
		r.userOperationTotal,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// RecordPublish records the outcome and latency of a publish call
func (r *Registry) RecordPublish(eventType string, duration time.Duration, err error) {
	r.publishTotal.WithLabelValues(eventType, lifecycle.Outcome(err)).Inc()
	r.publishDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordGuardRejection counts a publish call rejected in degraded mode
func (r *Registry) RecordGuardRejection() {
	r.guardRejections.Inc()
}

// RecordConnect records a broker handshake attempt
func (r *Registry) RecordConnect(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.connectTotal.WithLabelValues(status).Inc()
}

// SetConnectionState publishes the current broker connection state
func (r *Registry) SetConnectionState(state lifecycle.ConnState) {
	r.connectionState.Set(float64(state))
}

// RecordUserOperation records a user mutation; publish failures are not
// part of its status
func (r *Registry) RecordUserOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.userOperationTotal.WithLabelValues(operation, status).Inc()
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
