package metrics

import (
	"errors"
	"time"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "membership"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	promotions    prometheus.Counter
	sweepItems    *prometheus.CounterVec
	sweepLastRun  prometheus.Gauge
	sweepDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_operations_total",
			Help:      "Subscription lifecycle operations by outcome.",
		}, []string{"operation", "outcome"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_promotions_total",
			Help:      "Automatic tier promotions triggered by order activity.",
		}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_items_total",
			Help:      "Subscriptions processed by the expiry sweep.",
		}, []string{"result"}),
		sweepLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_last_run_timestamp_seconds",
			Help:      "Unix time the last expiry sweep finished.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_duration_seconds",
			Help:      "Duration of expiry sweep passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.operations, m.promotions, m.sweepItems, m.sweepLastRun, m.sweepDuration)
	return m
}

// Outcome classifies an operation error into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, xerrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, xerrors.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, xerrors.ErrConflict):
		return "conflict"
	case errors.Is(err, xerrors.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, xerrors.ErrConfiguration):
		return "misconfigured"
	default:
		return "error"
	}
}

func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) IncPromotions() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

func (m *Metrics) ObserveSweep(res membership.SweepResult, took time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues("succeeded").Add(float64(res.Succeeded))
	m.sweepItems.WithLabelValues("failed").Add(float64(res.Failed))
	m.sweepDuration.Observe(took.Seconds())
	m.sweepLastRun.Set(float64(finishedAt.Unix()))
}
