// Package prometheus exposes portalauth counters and latency histograms to
// Prometheus.
//
// [PrometheusExporter] renders the text exposition format behind an
// [http.Handler]. [Collector] plugs the same series into a client_golang
// registry. Counter names are portalauth_*_total; histograms are
// portalauth_request_latency_seconds and portalauth_refresh_latency_seconds.
//
// Neither registers anything globally; callers mount the handler or
// register the collector.
package prometheus
