package portalauth

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gatewayOutcomeMix approximates production traffic: mostly 2xx with a tail
// of expired sessions, hidden resources, throttling and backend faults.
var gatewayOutcomeMix = [...]Kind{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	KindUnauthorized,
	KindNotFound,
	KindRateLimited,
	KindServerError,
}

var gatewayLatencyMix = [...]time.Duration{
	3 * time.Millisecond,
	18 * time.Millisecond,
	40 * time.Millisecond,
	120 * time.Millisecond,
	700 * time.Millisecond,
}

// recordGatewayCall mirrors what Gateway.Request records after each call.
func recordGatewayCall(m *Metrics, kind Kind, d time.Duration) {
	m.Observe(MetricRequestLatency, d)
	if kind == 0 {
		m.Inc(MetricRequestSuccess)
		return
	}
	m.Inc(requestMetric(kind))
}

func BenchmarkGatewayCallMetricsParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			recordGatewayCall(m,
				gatewayOutcomeMix[i%len(gatewayOutcomeMix)],
				gatewayLatencyMix[i%len(gatewayLatencyMix)])
			i++
		}
	})
}

func BenchmarkGatewayCallMetricsDisabledParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			recordGatewayCall(m, gatewayOutcomeMix[i%len(gatewayOutcomeMix)], time.Millisecond)
			i++
		}
	})
}

func BenchmarkGatewayCallMetricsNil(b *testing.B) {
	var m *Metrics
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		recordGatewayCall(m, KindRateLimited, time.Millisecond)
	}
}

// BenchmarkRefreshFanInParallel reproduces the counter traffic of a shared
// refresh: one caller per wave records the exchange and its latency, every
// other caller in the wave records that it joined.
func BenchmarkRefreshFanInParallel(b *testing.B) {
	for _, wave := range []int{2, 16, 64} {
		b.Run(fmt.Sprintf("wave=%d", wave), func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
			var seq atomic.Uint64
			b.ReportAllocs()
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if seq.Add(1)%uint64(wave) == 0 {
						m.Inc(MetricRefreshSuccess)
						m.Observe(MetricRefreshLatency, 35*time.Millisecond)
						continue
					}
					m.Inc(MetricRefreshShared)
				}
			})
		})
	}
}

// BenchmarkSnapshotDuringTraffic measures exporter scrapes while gateway
// calls keep recording.
func BenchmarkSnapshotDuringTraffic(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				recordGatewayCall(m, gatewayOutcomeMix[i%len(gatewayOutcomeMix)], gatewayLatencyMix[i%len(gatewayLatencyMix)])
				i++
			}
		}()
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap := m.Snapshot()
		if len(snap.Histograms) != 2 {
			b.Fatalf("histograms = %d", len(snap.Histograms))
		}
	}
	b.StopTimer()

	close(stop)
	wg.Wait()
}
