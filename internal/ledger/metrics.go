package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics records ledger operation outcomes.
type Metrics interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	AddVolume(kind Kind, currency string, amount decimal.Decimal)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) ObserveOperation(string, string, time.Duration) {}
func (NoopMetrics) AddVolume(Kind, string, decimal.Decimal)        {}

// PrometheusMetrics exports ledger counters and latencies.
type PrometheusMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	volume     *prometheus.CounterVec
}

// NewPrometheusMetrics registers the ledger collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2},
		}, []string{"operation"}),
		volume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_completed_volume_total",
			Help: "Sum of completed transaction amounts.",
		}, []string{"kind", "currency"}),
	}
}

func (m *PrometheusMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) AddVolume(kind Kind, currency string, amount decimal.Decimal) {
	m.volume.WithLabelValues(string(kind), currency).Add(amount.InexactFloat64())
}
