package portalauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vejapro/portalauth/internal/detail"
	"github.com/vejapro/portalauth/internal/idp"
)

const (
	notFoundDetail    = "not found or no access"
	serverErrorDetail = "server error"
)

// Gateway performs authenticated calls against the backend.
//
// Every call refreshes the session first, sends the bearer token, and is
// bounded by a timeout. Failures are returned as *RequestError; a 2xx
// response is returned unmodified and the caller closes its body.
type Gateway struct {
	store   *SessionStore
	http    *http.Client
	cfg     RequestConfig
	baseURL string
	metrics *Metrics
	logger  zerolog.Logger
	closed  *atomic.Bool
}

// Request sends one call to rawURL. A path-only rawURL is resolved against
// Config.API.BaseURL.
func (g *Gateway) Request(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	if g.closed != nil && g.closed.Load() {
		return nil, ErrClientClosed
	}

	started := time.Now()
	resp, err := g.do(ctx, rawURL, opts)
	g.metrics.Observe(MetricRequestLatency, time.Since(started))

	if err != nil {
		if re, ok := AsRequestError(err); ok {
			g.metrics.Inc(requestMetric(re.Kind))
		}
		return nil, err
	}
	g.metrics.Inc(MetricRequestSuccess)
	return resp, nil
}

func (g *Gateway) do(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	if err := g.store.RefreshIfNeeded(ctx); err != nil {
		if re, ok := AsRequestError(err); ok {
			return nil, re
		}
		return nil, classifyTransport(err)
	}

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	body, jsonBody, err := encodeBody(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(rctx, method, g.resolve(rawURL), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if opts.Header != nil {
		req.Header = opts.Header.Clone()
	}

	token := g.store.Token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if jsonBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := req.Header.Get(g.cfg.RequestIDHeader)
	if requestID == "" {
		requestID = requestIDFromContext(ctx)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		req.Header.Set(g.cfg.RequestIDHeader, requestID)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		cancel()
		re := classifyTransport(err)
		re.RequestID = requestID
		g.logger.Warn().
			Str("method", method).
			Str("path", req.URL.Path).
			Str("kind", re.Kind.String()).
			Str("request_id", requestID).
			Msg("request failed")
		return nil, re
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	defer cancel()

	raw := drain(resp.Body)
	msg, _ := detail.Parse(raw)
	if id := resp.Header.Get(g.cfg.RequestIDHeader); id != "" {
		requestID = id
	}

	re := g.classify(ctx, resp, msg, token, opts)
	re.RequestID = requestID
	if re.Kind == KindServerError {
		g.logger.Warn().
			Str("method", method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Str("request_id", requestID).
			Msg("server error")
	}
	return nil, re
}

// classify maps a non-2xx response and runs the session side effects of
// 401 and 403.
func (g *Gateway) classify(ctx context.Context, resp *http.Response, msg, token string, opts RequestOptions) *RequestError {
	re := statusError(resp.StatusCode, msg)

	switch re.Kind {
	case KindUnauthorized:
		g.store.handleUnauthorized(ctx, token)
	case KindForbidden:
		if opts.RequiredRole.Known() && !g.store.Role().Satisfies(opts.RequiredRole) {
			g.store.EnsureRoleOrLogout(ctx, opts.RequiredRole)
			re.Detail = "insufficient role"
			break
		}
		if g.store.policy(g.store.Portal()).ObscureForbidden {
			re.Kind = KindNotFound
			re.Detail = notFoundDetail
		}
	case KindRateLimited:
		re.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return re
}

// statusError maps an HTTP status onto the request taxonomy. msg is the
// parsed error detail, possibly empty.
func statusError(status int, msg string) *RequestError {
	switch {
	case status == http.StatusUnauthorized:
		return newRequestError(KindUnauthorized, status, orDefault(msg, "session expired"), nil)
	case status == http.StatusForbidden:
		return newRequestError(KindForbidden, status, orDefault(msg, "access denied"), nil)
	case status == http.StatusNotFound:
		return newRequestError(KindNotFound, status, notFoundDetail, nil)
	case status == http.StatusTooManyRequests:
		return newRequestError(KindRateLimited, status, "rate limited, try again later", nil)
	case status >= 500:
		return newRequestError(KindServerError, status, orDefault(msg, serverErrorDetail), nil)
	default:
		return newRequestError(KindBadRequest, status, orDefault(msg, http.StatusText(status)), nil)
	}
}

func classifyTransport(err error) *RequestError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return newRequestError(KindNetworkTimeout, 0, "request timed out", err)
	}
	return newRequestError(KindNetworkError, 0, "network error", err)
}

// fromIDPError maps a credential endpoint failure onto the request taxonomy.
func fromIDPError(err error) error {
	var se *idp.StatusError
	if errors.As(err, &se) {
		re := statusError(se.Status, se.Detail)
		re.RequestID = se.RequestID
		re.cause = err
		return re
	}
	if errors.Is(err, idp.ErrDecode) || errors.Is(err, idp.ErrMissingAccessToken) {
		return newRequestError(KindServerError, 0, "malformed credential response", err)
	}
	return classifyTransport(err)
}

// GetJSON sends a GET and decodes a JSON response into out.
func (g *Gateway) GetJSON(ctx context.Context, rawURL string, out any) error {
	return g.SendJSON(ctx, http.MethodGet, rawURL, nil, out)
}

// SendJSON encodes in as the request body, sends it with method and decodes
// the JSON response into out. A nil in sends no body; a nil out discards
// the response.
func (g *Gateway) SendJSON(ctx context.Context, method, rawURL string, in, out any) error {
	opts := RequestOptions{
		Method: method,
		Header: http.Header{"Accept": []string{"application/json"}},
	}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		opts.Body = data
	}

	resp, err := g.Request(ctx, rawURL, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (g *Gateway) resolve(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.IsAbs() {
		return rawURL
	}
	if g.baseURL == "" {
		return rawURL
	}
	return strings.TrimRight(g.baseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
}

func encodeBody(b any) (io.Reader, bool, error) {
	switch v := b.(type) {
	case nil:
		return nil, false, nil
	case string:
		return strings.NewReader(v), true, nil
	case []byte:
		return bytes.NewReader(v), true, nil
	case io.Reader:
		return v, false, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, err
		}
		return bytes.NewReader(data), true, nil
	}
}

// drain reads at most detail.MaxBody bytes for detail parsing, discards a
// bounded remainder so the connection can be reused, and closes body.
func drain(body io.ReadCloser) []byte {
	defer body.Close()
	raw, _ := io.ReadAll(io.LimitReader(body, detail.MaxBody))
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4*detail.MaxBody))
	return raw
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// cancelOnClose releases the per-request timeout once the caller is done
// with a successful response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
