package goIdentity

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricAssertionLoginSuccess counts sessions issued from verified assertions.
	MetricAssertionLoginSuccess MetricID = iota
	// MetricAssertionLoginFailure counts rejected assertion logins.
	MetricAssertionLoginFailure
	// MetricUserProvisioned counts users created on first federated sight.
	MetricUserProvisioned
	// MetricPasswordLoginSuccess counts successful local password logins.
	MetricPasswordLoginSuccess
	// MetricPasswordLoginFailure counts failed local password logins.
	MetricPasswordLoginFailure
	// MetricLoginRateLimited counts password logins denied by the attempt limiter.
	MetricLoginRateLimited
	// MetricResetRequest counts every reset request, known or unknown address.
	MetricResetRequest
	// MetricResetTokenIssued counts reset tokens persisted.
	MetricResetTokenIssued
	// MetricResetRateLimited counts reset requests and redemptions denied by the limiter.
	MetricResetRateLimited
	// MetricResetRedeemSuccess counts successful redemptions.
	MetricResetRedeemSuccess
	// MetricResetRedeemFailure counts failed redemptions.
	MetricResetRedeemFailure
	// MetricResetRedeemNotFound counts redemptions of unknown tokens.
	MetricResetRedeemNotFound
	// MetricResetRedeemExpired counts redemptions of expired tokens.
	MetricResetRedeemExpired
	// MetricResetRedeemConsumed counts redemptions of already used tokens.
	MetricResetRedeemConsumed
	// MetricResetRedeemMalformed counts redemptions of unparseable tokens.
	MetricResetRedeemMalformed
	// MetricAdminForcedReset counts admin-forced password resets.
	MetricAdminForcedReset
	// MetricMailDelivered counts reset mails accepted by the mailer.
	MetricMailDelivered
	// MetricMailFailed counts reset mails the mailer rejected.
	MetricMailFailed
	// MetricMailDropped counts reset mails discarded because the delivery queue was full.
	MetricMailDropped
	// MetricSessionCreated counts created sessions.
	MetricSessionCreated
	// MetricSessionRejected counts validate calls that failed closed.
	MetricSessionRejected
	// MetricSessionDestroyed counts single-session logouts.
	MetricSessionDestroyed
	// MetricSessionDestroyAll counts destroy-all-for-user operations.
	MetricSessionDestroyAll
	// MetricSweepDeleted counts reset-token rows removed by the sweeper.
	MetricSweepDeleted
	// MetricValidateLatency is the session validate latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a metrics registry. A disabled registry ignores writes.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records a latency sample. Only MetricValidateLatency is histogrammed.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies the current values. A disabled registry returns empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
