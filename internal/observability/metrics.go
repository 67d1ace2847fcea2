package observability

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"entitygraph/pkg/storage"
)

// Metrics exports statement counters and latencies to Prometheus.
type Metrics struct {
	statements   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rowsAffected *prometheus.CounterVec
}

var _ storage.Observer = (*Metrics)(nil)

// NewMetrics registers the collectors on reg under namespace. Collectors
// already registered by an earlier call are reused.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Statements and transaction boundaries issued by sessions.",
		}, []string{"kind", "table", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statement_duration_seconds",
			Help:      "Statement latency as seen by the session.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"kind"}),
		rowsAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows returned by selects and affected by writes.",
		}, []string{"kind", "table"}),
	}
	var err error
	if m.statements, err = register(reg, m.statements); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.rowsAffected, err = register(reg, m.rowsAffected); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe implements storage.Observer.
func (m *Metrics) Observe(_ context.Context, ev storage.Event) {
	outcome := "success"
	if ev.Err != nil {
		outcome = "error"
	}
	kind := string(ev.Kind)
	m.statements.WithLabelValues(kind, ev.Table, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
	if ev.Table != "" && ev.RowsAffected > 0 {
		m.rowsAffected.WithLabelValues(kind, ev.Table).Add(float64(ev.RowsAffected))
	}
}

// StatementsCounter returns the counter for one kind, table and outcome
// ("success" or "error").
func (m *Metrics) StatementsCounter(kind storage.EventKind, table, outcome string) prometheus.Counter {
	return m.statements.WithLabelValues(string(kind), table, outcome)
}
