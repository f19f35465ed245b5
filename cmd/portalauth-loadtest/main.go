// Command portalauth-loadtest drives many concurrent gateway calls through a
// set of portalauth clients against an embedded stub backend, with access
// tokens short enough that refreshes happen during the run. It reports
// latency percentiles and, through the OpenTelemetry exporter, how well
// refreshes were shared.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vejapro/portalauth"
	"github.com/vejapro/portalauth/internal/stub"
	"github.com/vejapro/portalauth/jwt"
	otelexport "github.com/vejapro/portalauth/metrics/export/otel"
	"github.com/vejapro/portalauth/session"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"
)

const (
	loadUser     = "load@vejapro.lt"
	loadPassword = "load-password-123"
)

func main() {
	var (
		clients     = flag.Int("clients", 8, "number of portalauth clients (one session each)")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "gateway calls to perform")
		tokenTTL    = flag.Duration("token-ttl", 3*time.Second, "access token lifetime issued by the stub")
		margin      = flag.Duration("refresh-margin", 2*time.Second, "client refresh margin")
		latency     = flag.Duration("backend-latency", 20*time.Millisecond, "artificial latency of credential endpoints")
		redisAddr   = flag.String("redis-addr", "", "redis address for session persistence; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	rdb, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	rtt, err := session.NewRedisBackend(rdb, "loadtest", 0).Ping(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("redis round-trip %s\n", rtt)

	backend, srv, err := startStub(rdb, *tokenTTL, *latency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		os.Exit(1)
	}
	defer srv.Close()

	pool, err := buildClients(ctx, srv, rdb, *clients, *margin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clients: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		for _, c := range pool {
			c.Close()
		}
	}()

	fmt.Printf("running %d calls over %d clients with %d workers...\n", *ops, *clients, *concurrency)
	stats, failures := runRequests(ctx, pool, *ops, *concurrency)

	refresh, err := collectRefresh(ctx, poolSource(pool))
	if err != nil {
		fmt.Fprintf(os.Stderr, "collect metrics: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("request", stats)
	for kind, n := range failures {
		fmt.Printf("  failed %-16s %d\n", kind, n)
	}
	fmt.Printf("refresh: backend_calls=%d exchanges=%d failures=%d shared_waiters=%d shared_ratio=%.3f\n",
		backend.RefreshCalls(), refresh.exchanges, refresh.failures, refresh.shared, refresh.ratio)
}

// poolSource sums the metrics of every client in the pool.
type poolSource []*portalauth.Client

func (p poolSource) MetricsSnapshot() portalauth.MetricsSnapshot {
	out := portalauth.MetricsSnapshot{
		Counters:   map[portalauth.MetricID]uint64{},
		Histograms: map[portalauth.MetricID][]uint64{},
	}
	for _, c := range p {
		snap := c.MetricsSnapshot()
		for id, v := range snap.Counters {
			out.Counters[id] += v
		}
		for id, buckets := range snap.Histograms {
			sum := out.Histograms[id]
			if len(sum) < len(buckets) {
				sum = append(sum, make([]uint64, len(buckets)-len(sum))...)
			}
			for i, v := range buckets {
				sum[i] += v
			}
			out.Histograms[id] = sum
		}
	}
	return out
}

func (p poolSource) AuditDropped() uint64 {
	var n uint64
	for _, c := range p {
		n += c.AuditDropped()
	}
	return n
}

type refreshSummary struct {
	exchanges int64
	failures  int64
	shared    int64
	ratio     float64
}

// collectRefresh reads the refresh instruments of src through an OTel
// manual reader.
func collectRefresh(ctx context.Context, src otelexport.MetricsSource) (refreshSummary, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	exp, err := otelexport.NewExporterFromSource(provider.Meter("portalauth-loadtest"), src)
	if err != nil {
		return refreshSummary{}, err
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return refreshSummary{}, err
	}

	var out refreshSummary
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, p := range data.DataPoints {
					switch m.Name {
					case otelexport.RefreshSharedName:
						out.shared = p.Value
					case otelexport.RefreshExchangesName:
						out.exchanges += p.Value
						if v, ok := p.Attributes.Value("result"); ok && v.AsString() == "failure" {
							out.failures = p.Value
						}
					}
				}
			case metricdata.Gauge[float64]:
				if m.Name == otelexport.RefreshRatioName && len(data.DataPoints) > 0 {
					out.ratio = data.DataPoints[0].Value
				}
			}
		}
	}
	return out, nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() { _ = client.Close(); mr.Close() }, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func startStub(rdb redis.UniversalClient, ttl, latency time.Duration) (*stub.Server, *httptest.Server, error) {
	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     ttl,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("portalauth-loadtest-signing-key1"),
	})
	if err != nil {
		return nil, nil, err
	}
	backend, err := stub.New(stub.Config{
		Signer:  signer,
		Refresh: stub.NewRedisRefreshStore(rdb, "loadtest"),
		AnonKey: "anon-key",
		Latency: latency,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := backend.AddUser(loadUser, loadPassword, "ADMIN"); err != nil {
		return nil, nil, err
	}
	return backend, httptest.NewServer(backend.Handler()), nil
}

func buildClients(ctx context.Context, srv *httptest.Server, rdb redis.UniversalClient, n int, margin time.Duration) ([]*portalauth.Client, error) {
	pool := make([]*portalauth.Client, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := range pool {
		g.Go(func() error {
			cfg := portalauth.DefaultConfig()
			cfg.API.BaseURL = srv.URL
			cfg.Identity.BaseURL = srv.URL
			cfg.Identity.APIKey = "anon-key"
			cfg.Session.RefreshMargin = margin
			cfg.Session.RedisPrefix = fmt.Sprintf("loadtest:c%d", i)
			cfg.Metrics.Enabled = true
			cfg.Metrics.EnableLatencyHistograms = true

			c, err := portalauth.New().
				WithConfig(cfg).
				WithRedis(rdb).
				WithHTTPClient(srv.Client()).
				WithLogger(zerolog.Nop()).
				Build()
			if err != nil {
				return err
			}
			pool[i] = c
			if _, err := c.Sessions().SignIn(gctx, loadUser, loadPassword); err != nil {
				return fmt.Errorf("client %d sign-in: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range pool {
			if c != nil {
				c.Close()
			}
		}
		return nil, err
	}
	return pool, nil
}

func runRequests(ctx context.Context, pool []*portalauth.Client, ops, concurrency int) (phaseStats, map[string]int64) {
	var (
		cursor    int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
		failures  = map[string]int64{}
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return nil
				}
				c := pool[r.Intn(len(pool))]

				t0 := time.Now()
				err := c.Gateway().GetJSON(gctx, "/api/v1/admin/projects", nil)
				d := time.Since(t0)

				mu.Lock()
				latencies = append(latencies, d)
				if err != nil {
					kind := "other"
					if re, ok := portalauth.AsRequestError(err); ok {
						kind = re.Kind.String()
					}
					failures[kind]++
				}
				mu.Unlock()
			}
		})
	}
	_ = g.Wait()

	var failed int64
	for _, n := range failures {
		failed += n
	}
	return computeStats(time.Since(start), latencies, failed), failures
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
