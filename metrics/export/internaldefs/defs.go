package internaldefs

import (
	"github.com/vejapro/portalauth"
)

// CounterDef names one portalauth counter for export.
type CounterDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// HistogramDef names one portalauth latency histogram for export.
type HistogramDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: portalauth.MetricRefreshSuccess, Name: "portalauth_refresh_success_total", Help: "Token exchanges that replaced the session."},
	{ID: portalauth.MetricRefreshFailure, Name: "portalauth_refresh_failure_total", Help: "Token exchanges that destroyed the session."},
	{ID: portalauth.MetricRefreshShared, Name: "portalauth_refresh_shared_total", Help: "Callers that joined an in-flight token exchange."},
	{ID: portalauth.MetricSessionCreated, Name: "portalauth_session_created_total", Help: "Refreshable sessions stored."},
	{ID: portalauth.MetricSessionDestroyed, Name: "portalauth_session_destroyed_total", Help: "Sessions destroyed after a failure."},
	{ID: portalauth.MetricStaticTokenSet, Name: "portalauth_static_token_set_total", Help: "Static tokens stored or cleared."},
	{ID: portalauth.MetricStaticTokenIssued, Name: "portalauth_static_token_issued_total", Help: "Static tokens issued by the backend."},
	{ID: portalauth.MetricSignInSuccess, Name: "portalauth_sign_in_success_total", Help: "Successful password sign-ins."},
	{ID: portalauth.MetricSignInFailure, Name: "portalauth_sign_in_failure_total", Help: "Failed password sign-ins."},
	{ID: portalauth.MetricLogout, Name: "portalauth_logout_total", Help: "Logout operations."},
	{ID: portalauth.MetricRoleMismatch, Name: "portalauth_role_mismatch_total", Help: "Sessions rejected for holding the wrong role."},
	{ID: portalauth.MetricPortalSwitch, Name: "portalauth_portal_switch_total", Help: "Active portal switches."},
	{ID: portalauth.MetricRequestSuccess, Name: "portalauth_request_success_total", Help: "Gateway calls answered with 2xx."},
	{ID: portalauth.MetricRequestUnauthorized, Name: "portalauth_request_unauthorized_total", Help: "Gateway calls answered with 401."},
	{ID: portalauth.MetricRequestForbidden, Name: "portalauth_request_forbidden_total", Help: "Gateway calls reported as forbidden."},
	{ID: portalauth.MetricRequestNotFound, Name: "portalauth_request_not_found_total", Help: "Gateway calls reported as not found."},
	{ID: portalauth.MetricRequestRateLimited, Name: "portalauth_request_rate_limited_total", Help: "Gateway calls answered with 429."},
	{ID: portalauth.MetricRequestServerError, Name: "portalauth_request_server_error_total", Help: "Gateway calls answered with 5xx."},
	{ID: portalauth.MetricRequestTimeout, Name: "portalauth_request_timeout_total", Help: "Gateway calls aborted by their timeout."},
	{ID: portalauth.MetricRequestNetworkError, Name: "portalauth_request_network_error_total", Help: "Gateway calls that got no response."},
	{ID: portalauth.MetricRequestBadRequest, Name: "portalauth_request_bad_request_total", Help: "Gateway calls answered with any other non-2xx status."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: portalauth.MetricRequestLatency, Name: "portalauth_request_latency_seconds", Help: "Gateway round trip latency."},
	{ID: portalauth.MetricRefreshLatency, Name: "portalauth_refresh_latency_seconds", Help: "Token exchange latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
