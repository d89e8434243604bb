package push

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/wspush/pkg/message"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "wspush").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "wspush",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Dispatch outcomes used as metric labels.
const (
	outcomeDelivered       = "delivered"
	outcomeClosed          = "closed"
	outcomeUnknownApp      = "unknown_app"
	outcomeSessionNotFound = "session_not_found"
	outcomeViewNotFound    = "view_not_found"
	outcomeDeliveryFailed  = "delivery_failed"
	outcomeInvalid         = "invalid"
)

// Metrics holds the Prometheus collectors of the push core.
// A nil *Metrics records nothing.
type Metrics struct {
	dispatches     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	flushedBytes   *prometheus.CounterVec
	flushErrors    prometheus.Counter
	tasks          *prometheus.CounterVec
	connections    prometheus.Gauge
	connectionsAll prometheus.Counter
}

// NewMetrics creates and registers the collectors.
//
// Metrics collected:
//   - wspush_dispatches_total: dispatches by message kind and outcome
//   - wspush_dispatch_duration_seconds: dispatch latency by message kind
//   - wspush_flushed_bytes_total: reply bytes flushed by frame type
//   - wspush_flush_errors_total: replies lost to I/O errors
//   - wspush_broadcast_tasks_total: broadcast tasks by result
//   - wspush_connections: currently open connections
//   - wspush_connections_total: connections accepted
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatches_total",
			Help:        "Total number of dispatches by message kind and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Dispatch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind"}),

		flushedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flushed_bytes_total",
			Help:        "Total reply bytes flushed to connections",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		flushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flush_errors_total",
			Help:        "Total replies that failed to flush",
			ConstLabels: config.ConstLabels,
		}),

		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcast_tasks_total",
			Help:        "Total broadcast tasks by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections",
			Help:        "Number of open connections",
			ConstLabels: config.ConstLabels,
		}),

		connectionsAll: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total connections accepted",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) observeDispatch(kind message.Kind, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind.String(), outcomeOf(err)).Inc()
	m.duration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) observeClosed(kind message.Kind) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(kind.String(), outcomeClosed).Inc()
}

func (m *Metrics) observeFlush(kind message.Kind, n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.flushErrors.Inc()
		return
	}
	frame := "text"
	if kind == message.KindBinary {
		frame = "binary"
	}
	m.flushedBytes.WithLabelValues(frame).Add(float64(n))
}

func (m *Metrics) observeTask(result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
}

// ConnectionOpened records a newly accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsAll.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// outcomeOf maps a dispatch error to a low-cardinality label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeDelivered
	case errors.Is(err, ErrUnknownApplication):
		return outcomeUnknownApp
	case errors.Is(err, ErrSessionNotFound):
		return outcomeSessionNotFound
	case errors.Is(err, ErrViewNotFound):
		return outcomeViewNotFound
	case errors.Is(err, ErrDeliveryFailed):
		return outcomeDeliveryFailed
	default:
		return outcomeInvalid
	}
}
