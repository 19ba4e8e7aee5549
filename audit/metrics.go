package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics creates new audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new audit metrics registered with the
// provided registerer, allowing callers to use a private registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
	}

	// Duplicate registration is safe: descriptors are identical.
	_ = registerer.Register(m.eventsTotal)

	m.Init()

	return m
}

// Init pre-populates common label combinations so the Vec metrics emit
// lines immediately after startup. Idempotent.
func (m *Metrics) Init() {
	if m.eventsTotal == nil {
		return
	}

	types := []EventType{EventTypeAuthentication, EventTypeSigning, EventTypeCertificate}
	actions := []Action{ActionApplyAuth, ActionSignRequest, ActionValidateCert}
	outcomes := []Outcome{OutcomeSuccess, OutcomeFailure}

	for _, t := range types {
		for _, a := range actions {
			for _, o := range outcomes {
				m.eventsTotal.WithLabelValues(string(t), string(a), string(o))
			}
		}
	}
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	if m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}
