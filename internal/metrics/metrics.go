package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "onboarding"

// TicketMetrics counts lifecycle outcomes. A nil *TicketMetrics is valid and
// records nothing.
type TicketMetrics struct {
	ticketsCreated prometheus.Counter
	decisions      *prometheus.CounterVec
	customers      *prometheus.CounterVec
}

func NewTicketMetrics(registerer prometheus.Registerer) *TicketMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &TicketMetrics{
		ticketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Onboarding tickets submitted by requesters.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_decisions_total",
			Help:      "Approve/reject attempts by decision and result.",
		}, []string{"decision", "result"}),
		customers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "customers_resolved_total",
			Help:      "Customers resolved during approval, created or reused.",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.ticketsCreated, m.decisions, m.customers)
	return m
}

func (m *TicketMetrics) TicketCreated() {
	if m == nil {
		return
	}
	m.ticketsCreated.Inc()
}

// Decision records an approve/reject attempt; result is "ok" or an error class.
func (m *TicketMetrics) Decision(decision, result string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, result).Inc()
}

func (m *TicketMetrics) CustomerResolved(created bool) {
	if m == nil {
		return
	}
	outcome := "reused"
	if created {
		outcome = "created"
	}
	m.customers.WithLabelValues(outcome).Inc()
}
