// Package otel binds portalauth metrics to an OpenTelemetry meter.
//
// [NewExporter] registers one callback that reads a snapshot per collection
// and reports it through a small set of instruments: gateway requests by
// outcome, token exchanges by result, shared refresh waiters and the
// resulting [RefreshSharedRatio], session events by type, and cumulative
// latency buckets keyed by their "le" bound. The caller owns the
// MeterProvider.
package otel
