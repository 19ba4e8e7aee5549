package awssign

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains signing engine metrics.
type Metrics struct {
	signsTotal       *prometheus.CounterVec
	resolutionsTotal *prometheus.CounterVec
}

// NewMetrics creates new signing metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new signing metrics registered with
// the provided registerer, allowing callers to use a private registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		signsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "awssign",
				Name:      "signs_total",
				Help:      "Total number of signing operations by version",
			},
			[]string{"version", "outcome"},
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "awssign",
				Name:      "credential_resolutions_total",
				Help:      "Total number of credential resolutions by provider",
			},
			[]string{"provider", "outcome"},
		),
	}

	// Duplicate registration is safe: descriptors are identical.
	_ = registerer.Register(m.signsTotal)
	_ = registerer.Register(m.resolutionsTotal)

	m.Init()

	return m
}

// Init pre-populates common label combinations so the Vec metrics emit
// lines immediately after startup. Idempotent.
func (m *Metrics) Init() {
	if m.signsTotal == nil {
		return
	}
	for _, version := range []string{"v4", "v2", "s3-legacy", "presign"} {
		for _, outcome := range []string{"success", "failure"} {
			m.signsTotal.WithLabelValues(version, outcome)
		}
	}
	for _, provider := range []string{"static", "environment", "shared-file", "instance-metadata", "container-metadata", "credential-process", "cache"} {
		for _, outcome := range []string{"success", "failure"} {
			m.resolutionsTotal.WithLabelValues(provider, outcome)
		}
	}
}

// RecordSign records one signing operation.
func (m *Metrics) RecordSign(version string, success bool) {
	if m == nil || m.signsTotal == nil {
		return
	}
	m.signsTotal.WithLabelValues(version, outcome(success)).Inc()
}

// RecordResolution records one credential resolution attempt.
func (m *Metrics) RecordResolution(provider string, success bool) {
	if m == nil || m.resolutionsTotal == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(provider, outcome(success)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
