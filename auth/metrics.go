package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains authentication dispatcher metrics.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	cacheTotal      *prometheus.CounterVec
	rateLimitsTotal *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec

	mu           sync.Mutex
	latencySum   time.Duration
	latencyCount int64
}

// NewMetrics creates new authentication metrics registered with the
// default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new authentication metrics
// registered with the provided registerer, allowing callers to use a
// private registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Total number of authentication attempts by scheme",
			},
			[]string{"scheme", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "duration_seconds",
				Help:      "Authentication duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scheme"},
		),
		cacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "token_cache_total",
				Help:      "Total number of token cache lookups",
			},
			[]string{"result"},
		),
		rateLimitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "rate_limited_total",
				Help:      "Total number of rate limited authentication attempts",
			},
			[]string{"scheme"},
		),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"scheme"},
		),
	}

	// Duplicate registration is safe: descriptors are identical.
	_ = registerer.Register(m.attemptsTotal)
	_ = registerer.Register(m.duration)
	_ = registerer.Register(m.cacheTotal)
	_ = registerer.Register(m.rateLimitsTotal)
	_ = registerer.Register(m.violationsTotal)

	m.Init()

	return m
}

// Init pre-populates common label combinations so the Vec metrics emit
// lines immediately after startup. Idempotent.
func (m *Metrics) Init() {
	if m.attemptsTotal == nil {
		return
	}

	schemes := []Scheme{
		SchemeBasic, SchemeBearer, SchemeAPIKey, SchemeOAuth2,
		SchemeCertificate, SchemeNTLM, SchemeAWS, SchemeDigest,
		SchemeHawk, SchemeJWT, SchemeCustom,
	}
	for _, scheme := range schemes {
		for _, outcome := range []string{"success", "failure"} {
			m.attemptsTotal.WithLabelValues(string(scheme), outcome)
		}
		m.rateLimitsTotal.WithLabelValues(string(scheme))
		m.violationsTotal.WithLabelValues(string(scheme))
	}
	for _, result := range []string{"hit", "miss"} {
		m.cacheTotal.WithLabelValues(result)
	}
}

// RecordAttempt records an authentication attempt and folds its latency
// into the rolling average.
func (m *Metrics) RecordAttempt(scheme Scheme, success bool, d time.Duration) {
	if m == nil || m.attemptsTotal == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(string(scheme), outcomeLabel(success)).Inc()
	m.duration.WithLabelValues(string(scheme)).Observe(d.Seconds())

	m.mu.Lock()
	m.latencySum += d
	m.latencyCount++
	m.mu.Unlock()
}

// RecordCacheHit records a token cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil || m.cacheTotal == nil {
		return
	}
	m.cacheTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a token cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil || m.cacheTotal == nil {
		return
	}
	m.cacheTotal.WithLabelValues("miss").Inc()
}

// RecordRateLimited records a rate limited attempt.
func (m *Metrics) RecordRateLimited(scheme Scheme) {
	if m == nil || m.rateLimitsTotal == nil {
		return
	}
	m.rateLimitsTotal.WithLabelValues(string(scheme)).Inc()
}

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(scheme Scheme) {
	if m == nil || m.violationsTotal == nil {
		return
	}
	m.violationsTotal.WithLabelValues(string(scheme)).Inc()
}

// AverageLatency returns the rolling average authentication latency
// since the last reset.
func (m *Metrics) AverageLatency() time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latencyCount == 0 {
		return 0
	}
	return m.latencySum / time.Duration(m.latencyCount)
}

// ResetLatency clears the rolling latency window.
func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.latencySum = 0
	m.latencyCount = 0
	m.mu.Unlock()
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
