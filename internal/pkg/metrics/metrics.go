// Package metrics holds the worker's Prometheus instruments. All instruments
// live on a caller-supplied registry so tests can use a throwaway one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Task outcomes recorded on TasksTotal.
const (
	OutcomeForwarded   = "forwarded"
	OutcomeCompensated = "compensated"
	OutcomeRejected    = "rejected"
)

// Ledger entry kinds recorded on LedgerAppends.
const (
	EntryCharge = "charge"
	EntryRefund = "refund"
)

type Metrics struct {
	TasksTotal    *prometheus.CounterVec
	Compensations prometheus.Counter
	LedgerAppends *prometheus.CounterVec
	TaskDuration  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_tasks_total",
			Help: "Tasks consumed from the payment queue, by terminal outcome.",
		}, []string{"outcome"}),
		Compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_compensations_total",
			Help: "Compensations that actually reversed a charge (refund row + balance credit).",
		}),
		LedgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_ledger_appends_total",
			Help: "Rows appended to the payment ledger, by entry kind.",
		}, []string{"kind"}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_task_duration_seconds",
			Help:    "Wall-clock time spent processing one task end to end.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.TasksTotal, m.Compensations, m.LedgerAppends, m.TaskDuration)
	return m
}

// NewNop returns metrics bound to a registry nobody scrapes. Handy for tests
// and for constructing components before the real registry exists.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
