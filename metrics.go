package portalauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram kept by Metrics.
type MetricID uint16

const (
	// MetricRefreshSuccess counts exchanges that replaced the session.
	MetricRefreshSuccess MetricID = iota
	// MetricRefreshFailure counts exchanges that destroyed the session.
	MetricRefreshFailure
	// MetricRefreshShared counts callers that joined an in-flight exchange.
	MetricRefreshShared
	MetricSessionCreated
	MetricSessionDestroyed
	MetricStaticTokenSet
	MetricStaticTokenIssued
	MetricSignInSuccess
	MetricSignInFailure
	MetricLogout
	MetricRoleMismatch
	MetricPortalSwitch
	MetricRequestSuccess
	MetricRequestUnauthorized
	MetricRequestForbidden
	MetricRequestNotFound
	MetricRequestRateLimited
	MetricRequestServerError
	MetricRequestTimeout
	MetricRequestNetworkError
	MetricRequestBadRequest
	// MetricRequestLatency is a histogram of gateway round trips.
	MetricRequestLatency
	// MetricRefreshLatency is a histogram of token exchanges.
	MetricRefreshLatency
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

// Metrics holds lock-free counters and fixed-bucket latency histograms.
// A nil or disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every metric.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns Metrics configured by cfg.
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

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in histogram id. Only latency IDs accept observations.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
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

// Snapshot copies every counter and, with latency enabled, every histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricRequestLatency, MetricRefreshLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricRequestLatency || id == MetricRefreshLatency
}

func requestMetric(k Kind) MetricID {
	switch k {
	case KindUnauthorized:
		return MetricRequestUnauthorized
	case KindForbidden:
		return MetricRequestForbidden
	case KindNotFound:
		return MetricRequestNotFound
	case KindRateLimited:
		return MetricRequestRateLimited
	case KindServerError:
		return MetricRequestServerError
	case KindNetworkTimeout:
		return MetricRequestTimeout
	case KindNetworkError:
		return MetricRequestNetworkError
	default:
		return MetricRequestBadRequest
	}
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
