package ledger

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	mutations     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	auditFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donatrack_mutations_total",
			Help: "Mutations executed by the coordinator, by action and outcome.",
		}, []string{"action", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donatrack_notifications_total",
			Help: "Post-commit notifications, by outcome.",
		}, []string{"outcome"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donatrack_audit_append_failures_total",
			Help: "Audit appends that failed.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.mutations, err = register(reg, m.mutations); err != nil {
		return nil, err
	}
	if m.notifications, err = register(reg, m.notifications); err != nil {
		return nil, err
	}
	if m.auditFailures, err = register(reg, m.auditFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) mutation(action Action, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.mutations.WithLabelValues(string(action), outcome).Inc()
}

// register adds c to reg, or returns the collector already registered under
// the same descriptor so several services can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("collector registered with a different type: %w", err)
		}
		return existing, nil
	}
	return c, nil
}
