package portalauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/vejapro/portalauth/jwt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBackend serves the refresh, static issuance and password grant
// endpoints plus /api/v1/resource, whose behavior each test sets.
type fakeBackend struct {
	t      *testing.T
	srv    *httptest.Server
	clock  *testClock
	signer *jwt.Manager
	seq    atomic.Int64

	refreshCalls  atomic.Int32
	resourceCalls atomic.Int32

	mu            sync.Mutex
	refreshGate   chan struct{}
	refreshStatus int
	refreshBody   string
	role          string
	resource      http.HandlerFunc
	seenAuth      []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("portalauth-test-signing-key-0001"),
	})
	require.NoError(t, err)

	fb := &fakeBackend{
		t:      t,
		clock:  newTestClock(),
		signer: signer,
		role:   "ADMIN",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/refresh", fb.handleRefresh)
	mux.HandleFunc("GET /api/v1/admin/token", fb.handleStatic)
	mux.HandleFunc("POST /auth/v1/token", fb.handleGrant)
	mux.HandleFunc("/api/v1/resource", fb.handleResource)

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) mint(role string) string {
	fb.t.Helper()
	token, _, err := fb.signer.Issue(jwt.Identity{
		Subject: fmt.Sprintf("user-%d", fb.seq.Add(1)),
		Role:    role,
	})
	require.NoError(fb.t, err)
	return token
}

func (fb *fakeBackend) setRole(role string) {
	fb.mu.Lock()
	fb.role = role
	fb.mu.Unlock()
}

func (fb *fakeBackend) setResource(h http.HandlerFunc) {
	fb.mu.Lock()
	fb.resource = h
	fb.mu.Unlock()
}

func (fb *fakeBackend) gateRefresh() chan struct{} {
	gate := make(chan struct{})
	fb.mu.Lock()
	fb.refreshGate = gate
	fb.mu.Unlock()
	return gate
}

func (fb *fakeBackend) failRefresh(status int, body string) {
	fb.mu.Lock()
	fb.refreshStatus = status
	fb.refreshBody = body
	fb.mu.Unlock()
}

func (fb *fakeBackend) authHeaders() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.seenAuth...)
}

func (fb *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fb.refreshCalls.Add(1)

	fb.mu.Lock()
	gate, status, body, role := fb.refreshGate, fb.refreshStatus, fb.refreshBody, fb.role
	fb.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}
	if body != "" {
		_, _ = w.Write([]byte(body))
		return
	}

	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.RefreshToken == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"access_token":  fb.mint(role),
		"refresh_token": in.RefreshToken + "-next",
		"expires_at":    fb.clock.Now().Add(time.Hour).Unix(),
	})
}

func (fb *fakeBackend) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Admin-Token-Secret") != "open-sesame" {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]any{"detail": "Invalid secret"})
		return
	}
	writeJSON(w, map[string]any{"token": fb.mint("ADMIN")})
}

func (fb *fakeBackend) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != "anon-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.Password != "correct-horse" {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]any{"message": "Invalid login credentials"})
		return
	}

	fb.mu.Lock()
	role := fb.role
	fb.mu.Unlock()
	writeJSON(w, map[string]any{
		"access_token":  fb.mint(role),
		"refresh_token": "r-grant",
		"expires_in":    3600,
	})
}

func (fb *fakeBackend) handleResource(w http.ResponseWriter, r *http.Request) {
	fb.resourceCalls.Add(1)

	fb.mu.Lock()
	fb.seenAuth = append(fb.seenAuth, r.Header.Get("Authorization"))
	h := fb.resource
	fb.mu.Unlock()

	if h != nil {
		h(w, r)
		return
	}
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// recorder captures navigations and token prompts.
type recorder struct {
	mu      sync.Mutex
	navs    []SignInTarget
	prompts []Portal
}

func (r *recorder) Navigate(_ context.Context, target SignInTarget) {
	r.mu.Lock()
	r.navs = append(r.navs, target)
	r.mu.Unlock()
}

func (r *recorder) PromptToken(_ context.Context, portal Portal) {
	r.mu.Lock()
	r.prompts = append(r.prompts, portal)
	r.mu.Unlock()
}

func (r *recorder) Navigations() []SignInTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SignInTarget(nil), r.navs...)
}

func (r *recorder) Prompts() []Portal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Portal(nil), r.prompts...)
}

func testConfig(fb *fakeBackend) Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = fb.srv.URL
	cfg.Identity.BaseURL = fb.srv.URL
	cfg.Identity.APIKey = "anon-key"
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestClient(t *testing.T, fb *fakeBackend, mutate func(*Config), extra ...func(*Builder)) (*Client, *recorder) {
	t.Helper()

	cfg := testConfig(fb)
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &recorder{}
	b := New().
		WithConfig(cfg).
		WithHTTPClient(fb.srv.Client()).
		WithNavigator(rec).
		WithPrompter(rec).
		WithClock(fb.clock.Now).
		WithLogger(zerolog.Nop())
	for _, fn := range extra {
		fn(b)
	}

	c, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, rec
}

// setExpiringSession stores a refreshable session that expires left from now.
func setExpiringSession(t *testing.T, c *Client, fb *fakeBackend, role string, left time.Duration) string {
	t.Helper()
	access := fb.mint(role)
	require.NoError(t, c.Sessions().SetSession(context.Background(), access, "r-1", fb.clock.Now().Add(left)))
	return access
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
