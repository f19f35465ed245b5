package portalauth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAttachesBearerAndDefaults(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	require.NoError(t, c.Sessions().SetStatic(context.Background(), "Bearer abc123"))

	var got http.Header
	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"name":"Jonas"}`, string(body))
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, map[string]any{"id": 7})
	})

	resp, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{
		Method: "post",
		Body:   `{"name":"Jonas"}`,
		Header: http.Header{"X-Trace": []string{"t-1"}},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer abc123", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "t-1", got.Get("X-Trace"))
	assert.Len(t, got.Get("X-Request-ID"), 36)
}

func TestRequestKeepsCallerContentTypeAndRequestID(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)

	var got http.Header
	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := WithRequestID(context.Background(), "req-fixed")
	resp, err := c.Gateway().Request(ctx, fb.srv.URL+"/api/v1/resource", RequestOptions{
		Method: http.MethodPut,
		Body:   "a=b",
		Header: http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "application/x-www-form-urlencoded", got.Get("Content-Type"))
	assert.Equal(t, "req-fixed", got.Get("X-Request-ID"))
	assert.Empty(t, got.Get("Authorization"))
}

func TestRequestRateLimitedIsNotRetried(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	require.NoError(t, c.Sessions().SetStatic(context.Background(), "abc123"))

	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	require.ErrorIs(t, err, ErrRateLimited)

	re, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, re.Kind)
	assert.Equal(t, http.StatusTooManyRequests, re.Status)
	assert.Equal(t, 30*time.Second, re.RetryAfter)
	assert.Equal(t, int32(1), fb.resourceCalls.Load())
	assert.Equal(t, uint64(1), c.MetricsSnapshot().Counters[MetricRequestRateLimited])
}

func TestRequestUnauthorizedWithRefreshableSession(t *testing.T) {
	fb := newFakeBackend(t)
	c, rec := newTestClient(t, fb, nil)
	require.NoError(t, c.Sessions().SetStatic(context.Background(), "static"))
	setExpiringSession(t, c, fb, "ADMIN", time.Hour)

	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"detail": "Token expired"})
	})

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	require.ErrorIs(t, err, ErrUnauthorized)
	re, _ := AsRequestError(err)
	assert.Equal(t, http.StatusUnauthorized, re.Status)
	assert.Equal(t, "Token expired", re.Detail)

	assert.False(t, c.Sessions().IsSet())
	navs := rec.Navigations()
	require.Len(t, navs, 1)
	assert.Equal(t, NavSessionExpired, navs[0].Reason)
	assert.Empty(t, rec.Prompts())

	_, err = c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, rec.Navigations(), 1)
}

func TestRequestUnauthorizedWithStaticTokenPrompts(t *testing.T) {
	fb := newFakeBackend(t)
	c, rec := newTestClient(t, fb, nil)
	require.NoError(t, c.Sessions().SetStatic(context.Background(), "static"))

	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	require.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, "static", c.Sessions().Token())
	assert.Empty(t, rec.Navigations())
	assert.Equal(t, []Portal{PortalAdmin}, rec.Prompts())
}

func TestConcurrentRequestsShareOneRefresh(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	old := setExpiringSession(t, c, fb, "ADMIN", 30*time.Second)
	gate := fb.gateRefresh()

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			resp, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
			if err == nil {
				resp.Body.Close()
			}
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return fb.refreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fb.resourceCalls.Load())
	close(gate)

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), fb.refreshCalls.Load())
	fresh := "Bearer " + c.Sessions().Token()
	assert.NotEqual(t, "Bearer "+old, fresh)
	assert.Equal(t, []string{fresh, fresh}, fb.authHeaders())
}

func TestRequestTimeoutAbortsCall(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)

	var aborted atomic.Bool
	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			aborted.Store(true)
		case <-time.After(2 * time.Second):
			writeJSON(w, map[string]any{"late": true})
		}
	})

	started := time.Now()
	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, ErrNetworkTimeout)

	re, _ := AsRequestError(err)
	assert.Equal(t, 0, re.Status)
	assert.Less(t, time.Since(started), time.Second)
	assert.Eventually(t, aborted.Load, time.Second, 5*time.Millisecond)
}

func TestRequestNetworkError(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	fb.srv.Close()

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	require.ErrorIs(t, err, ErrNetworkError)
	re, _ := AsRequestError(err)
	assert.Equal(t, 0, re.Status)
	assert.Error(t, re.Unwrap())
}

func TestRequestServerErrorNeverLogsBody(t *testing.T) {
	fb := newFakeBackend(t)
	var logs syncBuffer
	c, _ := newTestClient(t, fb, nil, func(b *Builder) { b.WithLogger(zerolog.New(&logs)) })

	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "srv-42")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"database unavailable","trace":"password=hunter2"}`)
	})

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	require.ErrorIs(t, err, ErrServerError)
	re, _ := AsRequestError(err)
	assert.Equal(t, http.StatusServiceUnavailable, re.Status)
	assert.Equal(t, "database unavailable", re.Detail)
	assert.Equal(t, "srv-42", re.RequestID)

	out := logs.String()
	assert.Contains(t, out, `"request_id":"srv-42"`)
	assert.Contains(t, out, `"status":503`)
	assert.Contains(t, out, `"path":"/api/v1/resource"`)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "database unavailable")
}

func TestRequestServerErrorDefaultDetail(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "<html>stack trace</html>")
	})

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	re, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, KindServerError, re.Kind)
	assert.Equal(t, "server error", re.Detail)
}

func TestRequestForbiddenAndNotFound(t *testing.T) {
	status := func(code int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) }
	}

	t.Run("404", func(t *testing.T) {
		fb := newFakeBackend(t)
		c, _ := newTestClient(t, fb, nil)
		fb.setResource(status(http.StatusNotFound))
		_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
		require.ErrorIs(t, err, ErrNotFound)
		re, _ := AsRequestError(err)
		assert.Equal(t, "not found or no access", re.Detail)
	})

	t.Run("403 obscured on admin portal", func(t *testing.T) {
		fb := newFakeBackend(t)
		c, _ := newTestClient(t, fb, nil)
		require.NoError(t, c.Sessions().SetStatic(context.Background(), fb.mint("ADMIN")))
		fb.setResource(status(http.StatusForbidden))
		_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
		require.ErrorIs(t, err, ErrNotFound)
		re, _ := AsRequestError(err)
		assert.Equal(t, http.StatusForbidden, re.Status)
		assert.True(t, c.Sessions().IsSet())
	})

	t.Run("403 on client portal", func(t *testing.T) {
		fb := newFakeBackend(t)
		c, _ := newTestClient(t, fb, func(cfg *Config) { cfg.Session.DefaultPortal = PortalClient })
		fb.setResource(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			writeJSON(w, map[string]any{"detail": "Not your project"})
		})
		_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
		require.ErrorIs(t, err, ErrForbidden)
		re, _ := AsRequestError(err)
		assert.Equal(t, "Not your project", re.Detail)
	})

	t.Run("403 with role mismatch logs out", func(t *testing.T) {
		fb := newFakeBackend(t)
		c, rec := newTestClient(t, fb, nil)
		require.NoError(t, c.Sessions().SetStatic(context.Background(), fb.mint("EXPERT")))
		fb.setResource(status(http.StatusForbidden))
		_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{RequiredRole: RoleAdmin})
		require.ErrorIs(t, err, ErrForbidden)
		assert.False(t, c.Sessions().IsSet())
		navs := rec.Navigations()
		require.Len(t, navs, 1)
		assert.Equal(t, NavRoleMismatch, navs[0].Reason)
	})
}

func TestRequestOtherStatusIsBadRequest(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":[{"msg":"field required"},{"msg":"invalid date"}]}`)
	})

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	require.ErrorIs(t, err, ErrBadRequest)
	re, _ := AsRequestError(err)
	assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
	assert.Equal(t, "field required; invalid date", re.Detail)
}

func TestSendJSONAndGetJSON(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	require.NoError(t, c.Sessions().SetStatic(context.Background(), "abc123"))

	fb.setResource(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"status":"DONE"}`, string(body))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		}
		writeJSON(w, map[string]any{"id": "p-1", "status": "DONE"})
	})

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, c.Gateway().SendJSON(context.Background(), http.MethodPost, "/api/v1/resource", map[string]string{"status": "DONE"}, &out))
	assert.Equal(t, "p-1", out.ID)

	out.ID = ""
	require.NoError(t, c.Gateway().GetJSON(context.Background(), "/api/v1/resource", &out))
	assert.Equal(t, "DONE", out.Status)
}

func TestRequestAfterClose(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb, nil)
	c.Close()

	_, err := c.Gateway().Request(context.Background(), "/api/v1/resource", RequestOptions{})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(strings.Repeat("9", 3)+"x", now))
}
