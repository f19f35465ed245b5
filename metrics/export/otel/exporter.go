package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/vejapro/portalauth"
	"github.com/vejapro/portalauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Instrument names.
const (
	RequestsName         = "portalauth.gateway.requests"
	RequestLatencyName   = "portalauth.gateway.latency.bucket"
	RefreshExchangesName = "portalauth.refresh.exchanges"
	RefreshSharedName    = "portalauth.refresh.shared"
	RefreshRatioName     = "portalauth.refresh.shared_ratio"
	RefreshLatencyName   = "portalauth.refresh.latency.bucket"
	SessionEventsName    = "portalauth.session.events"
	AuditDroppedName     = "portalauth.audit.dropped"
)

// MetricsSource is satisfied by *portalauth.Client.
type MetricsSource interface {
	MetricsSnapshot() portalauth.MetricsSnapshot
	AuditDropped() uint64
}

type labeled struct {
	id    portalauth.MetricID
	value string
}

var requestOutcomes = []labeled{
	{portalauth.MetricRequestSuccess, "success"},
	{portalauth.MetricRequestUnauthorized, portalauth.KindUnauthorized.String()},
	{portalauth.MetricRequestForbidden, portalauth.KindForbidden.String()},
	{portalauth.MetricRequestNotFound, portalauth.KindNotFound.String()},
	{portalauth.MetricRequestRateLimited, portalauth.KindRateLimited.String()},
	{portalauth.MetricRequestServerError, portalauth.KindServerError.String()},
	{portalauth.MetricRequestTimeout, portalauth.KindNetworkTimeout.String()},
	{portalauth.MetricRequestNetworkError, portalauth.KindNetworkError.String()},
	{portalauth.MetricRequestBadRequest, portalauth.KindBadRequest.String()},
}

var sessionEvents = []labeled{
	{portalauth.MetricSessionCreated, "created"},
	{portalauth.MetricSessionDestroyed, "destroyed"},
	{portalauth.MetricStaticTokenSet, "static_set"},
	{portalauth.MetricStaticTokenIssued, "static_issued"},
	{portalauth.MetricSignInSuccess, "sign_in_success"},
	{portalauth.MetricSignInFailure, "sign_in_failure"},
	{portalauth.MetricLogout, "logout"},
	{portalauth.MetricRoleMismatch, "role_mismatch"},
	{portalauth.MetricPortalSwitch, "portal_switch"},
}

// RefreshSharedRatio is the fraction of refresh callers that joined an
// in-flight exchange instead of starting one. It is 0 before any refresh.
func RefreshSharedRatio(s portalauth.MetricsSnapshot) float64 {
	exchanges := s.Counters[portalauth.MetricRefreshSuccess] + s.Counters[portalauth.MetricRefreshFailure]
	shared := s.Counters[portalauth.MetricRefreshShared]
	if exchanges+shared == 0 {
		return 0
	}
	return float64(shared) / float64(exchanges+shared)
}

// Exporter observes portalauth metrics on every collection cycle of the
// meter's reader.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration

	requests       metric.Int64ObservableCounter
	requestLatency metric.Int64ObservableGauge
	exchanges      metric.Int64ObservableCounter
	shared         metric.Int64ObservableCounter
	ratio          metric.Float64ObservableGauge
	refreshLatency metric.Int64ObservableGauge
	events         metric.Int64ObservableCounter
	auditDropped   metric.Int64ObservableCounter
}

// NewExporter registers the instruments for client on meter.
func NewExporter(meter metric.Meter, client *portalauth.Client) (*Exporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, client)
}

// NewExporterFromSource is NewExporter over any MetricsSource, such as an
// aggregate of several clients.
func NewExporterFromSource(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var err error

	if e.requests, err = meter.Int64ObservableCounter(RequestsName,
		metric.WithDescription("Gateway calls by outcome.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", RequestsName, err)
	}
	if e.requestLatency, err = meter.Int64ObservableGauge(RequestLatencyName,
		metric.WithDescription("Cumulative gateway latency bucket counts by upper bound in seconds.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", RequestLatencyName, err)
	}
	if e.exchanges, err = meter.Int64ObservableCounter(RefreshExchangesName,
		metric.WithDescription("Token exchanges by result.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", RefreshExchangesName, err)
	}
	if e.shared, err = meter.Int64ObservableCounter(RefreshSharedName,
		metric.WithDescription("Refresh callers that joined an in-flight exchange.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", RefreshSharedName, err)
	}
	if e.ratio, err = meter.Float64ObservableGauge(RefreshRatioName,
		metric.WithDescription("Share of refresh callers served by another caller's exchange."),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create %s: %w", RefreshRatioName, err)
	}
	if e.refreshLatency, err = meter.Int64ObservableGauge(RefreshLatencyName,
		metric.WithDescription("Cumulative token exchange latency bucket counts by upper bound in seconds.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", RefreshLatencyName, err)
	}
	if e.events, err = meter.Int64ObservableCounter(SessionEventsName,
		metric.WithDescription("Session lifecycle events by type.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", SessionEventsName, err)
	}
	if e.auditDropped, err = meter.Int64ObservableCounter(AuditDroppedName,
		metric.WithDescription("Audit events dropped on a full dispatcher buffer.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", AuditDroppedName, err)
	}

	e.registration, err = meter.RegisterCallback(e.observe,
		e.requests, e.requestLatency, e.exchanges, e.shared, e.ratio,
		e.refreshLatency, e.events, e.auditDropped,
	)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	s := e.source.MetricsSnapshot()

	for _, r := range requestOutcomes {
		o.ObserveInt64(e.requests, int64(s.Counters[r.id]),
			metric.WithAttributes(attribute.String("outcome", r.value)))
	}
	for _, ev := range sessionEvents {
		o.ObserveInt64(e.events, int64(s.Counters[ev.id]),
			metric.WithAttributes(attribute.String("event", ev.value)))
	}

	o.ObserveInt64(e.exchanges, int64(s.Counters[portalauth.MetricRefreshSuccess]),
		metric.WithAttributes(attribute.String("result", "success")))
	o.ObserveInt64(e.exchanges, int64(s.Counters[portalauth.MetricRefreshFailure]),
		metric.WithAttributes(attribute.String("result", "failure")))
	o.ObserveInt64(e.shared, int64(s.Counters[portalauth.MetricRefreshShared]))
	o.ObserveFloat64(e.ratio, RefreshSharedRatio(s))

	observeBuckets(o, e.requestLatency, s.Histograms[portalauth.MetricRequestLatency])
	observeBuckets(o, e.refreshLatency, s.Histograms[portalauth.MetricRefreshLatency])

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// observeBuckets reports one cumulative data point per bucket, keyed by le.
// Histograms absent from the snapshot are skipped.
func observeBuckets(o metric.Observer, g metric.Int64ObservableGauge, raw []uint64) {
	if raw == nil {
		return
	}
	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	for i, le := range internaldefs.HistogramBounds {
		o.ObserveInt64(g, int64(cumulative[i]), metric.WithAttributes(attribute.String("le", le)))
	}
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
