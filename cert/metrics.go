package cert

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains certificate engine metrics.
type Metrics struct {
	loadsTotal            *prometheus.CounterVec
	validationsTotal      *prometheus.CounterVec
	revocationChecksTotal *prometheus.CounterVec
	validationDuration    *prometheus.HistogramVec
	storeSize             prometheus.Gauge
}

// NewMetrics creates new certificate metrics registered with the
// default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new certificate metrics registered
// with the provided registerer, allowing callers to use a private
// registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		loadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cert",
				Name:      "loads_total",
				Help:      "Total number of certificate load attempts",
			},
			[]string{"format", "outcome"},
		),
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cert",
				Name:      "validations_total",
				Help:      "Total number of certificate validations",
			},
			[]string{"outcome"},
		),
		revocationChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cert",
				Name:      "revocation_checks_total",
				Help:      "Total number of revocation checks by method",
			},
			[]string{"method", "outcome"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cert",
				Name:      "validation_duration_seconds",
				Help:      "Certificate validation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		storeSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cert",
				Name:      "store_size",
				Help:      "Number of certificates in the store",
			},
		),
	}

	// Duplicate registration is safe: descriptors are identical.
	_ = registerer.Register(m.loadsTotal)
	_ = registerer.Register(m.validationsTotal)
	_ = registerer.Register(m.revocationChecksTotal)
	_ = registerer.Register(m.validationDuration)
	_ = registerer.Register(m.storeSize)

	m.Init()

	return m
}

// Init pre-populates common label combinations so the Vec metrics emit
// lines immediately after startup. Idempotent.
func (m *Metrics) Init() {
	if m.loadsTotal == nil {
		return
	}

	outcomes := []string{"success", "failure"}
	for _, format := range []Format{FormatPEM, FormatDER, FormatPKCS12} {
		for _, outcome := range outcomes {
			m.loadsTotal.WithLabelValues(string(format), outcome)
		}
	}
	for _, outcome := range outcomes {
		m.validationsTotal.WithLabelValues(outcome)
	}
	for _, method := range []RevocationMethod{MethodOCSP, MethodCRL, MethodCache} {
		for _, outcome := range outcomes {
			m.revocationChecksTotal.WithLabelValues(string(method), outcome)
		}
	}
}

// RecordLoad records a certificate load attempt.
func (m *Metrics) RecordLoad(format Format, success bool) {
	if m == nil || m.loadsTotal == nil {
		return
	}
	m.loadsTotal.WithLabelValues(string(format), outcomeLabel(success)).Inc()
}

// RecordValidation records a validation verdict.
func (m *Metrics) RecordValidation(valid bool) {
	if m == nil || m.validationsTotal == nil {
		return
	}
	m.validationsTotal.WithLabelValues(outcomeLabel(valid)).Inc()
}

// ObserveValidationDuration records how long a validation took.
func (m *Metrics) ObserveValidationDuration(valid bool, d time.Duration) {
	if m == nil || m.validationDuration == nil {
		return
	}
	m.validationDuration.WithLabelValues(outcomeLabel(valid)).Observe(d.Seconds())
}

// RecordRevocationCheck records a revocation check by method.
func (m *Metrics) RecordRevocationCheck(method string, good bool) {
	if m == nil || m.revocationChecksTotal == nil {
		return
	}
	m.revocationChecksTotal.WithLabelValues(method, outcomeLabel(good)).Inc()
}

// SetStoreSize records the current certificate store size.
func (m *Metrics) SetStoreSize(n int) {
	if m == nil || m.storeSize == nil {
		return
	}
	m.storeSize.Set(float64(n))
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
