package portalauth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSignInSuccess)

	if got := m.Value(MetricSignInSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("expected empty snapshot when disabled")
	}
}

func TestMetricsNilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricRequestLatency, time.Millisecond)
	if m.Value(MetricLogout) != 0 || m.Enabled() {
		t.Fatal("nil metrics should read as zero and disabled")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricRequestLatency, d)
	}
	m.Observe(MetricLogout, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRequestLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Counters[MetricRequestLatency]; ok {
		t.Fatal("histogram ids should not appear as counters")
	}
	if snap.Counters[MetricLogout] != 0 {
		t.Fatal("Observe on a counter id must be ignored")
	}
}

func TestRequestMetricCoversEveryKind(t *testing.T) {
	seen := map[MetricID]Kind{}
	for k := KindUnauthorized; k <= KindBadRequest; k++ {
		id := requestMetric(k)
		if prev, dup := seen[id]; dup {
			t.Fatalf("kinds %s and %s share metric %d", prev, k, id)
		}
		seen[id] = k
	}
}

func TestGatewayRecordsRequestMetrics(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	resp, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	_, _ = c.Gateway().Request(context.Background(), "/api/v1/resource?fail=1", RequestOptions{})

	snap := c.MetricsSnapshot()
	if snap.Counters[MetricRequestSuccess] != 1 || snap.Counters[MetricRequestServerError] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
	var total uint64
	for _, v := range snap.Histograms[MetricRequestLatency] {
		total += v
	}
	if total != 2 {
		t.Fatalf("expected 2 latency observations, got %d", total)
	}
}
