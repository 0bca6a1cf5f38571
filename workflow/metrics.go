package workflow

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts transitions and batch items. A nil *Metrics records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	batchItems  *prometheus.CounterVec
	printed     prometheus.Counter
}

// NewMetrics registers the workflow collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "necessity_workflow",
			Name:      "transitions_total",
			Help:      "State transitions attempted, by action and result.",
		}, []string{"action", "result"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "necessity_workflow",
			Name:      "batch_items_total",
			Help:      "Items processed by bulk operations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		printed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "necessity_workflow",
			Name:      "printed_total",
			Help:      "Substitutions released for printing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.batchItems, m.printed)
	}
	return m
}

func (m *Metrics) observeTransition(action Action, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action), resultLabel(err)).Inc()
}

func (m *Metrics) observePrinted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.printed.Add(float64(n))
}

func observeBatch[K comparable](m *Metrics, res BatchResult[K]) {
	if m == nil {
		return
	}
	applied := res.Applied()
	if applied > 0 {
		m.batchItems.WithLabelValues(res.Operation, "ok").Add(float64(applied))
	}
	if res.SkippedCount > 0 {
		m.batchItems.WithLabelValues(res.Operation, "skipped").Add(float64(res.SkippedCount))
	}
	if res.FailureCount > 0 {
		m.batchItems.WithLabelValues(res.Operation, "failed").Add(float64(res.FailureCount))
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state"
	case errors.Is(err, ErrStageLocked):
		return "stage_locked"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
