package portalauth

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vejapro/portalauth/internal/idp"
	"github.com/vejapro/portalauth/session"
)

// Builder assembles a Client. A Builder is single-use.
type Builder struct {
	config Config

	backend    session.Backend
	redis      redis.UniversalClient
	httpClient *http.Client

	navigator Navigator
	prompter  Prompter
	auditSink AuditSink
	logger    *zerolog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration; Build validates it.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the session backend. It takes precedence over WithRedis.
func (b *Builder) WithBackend(backend session.Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis persists sessions in Redis under Config.Session.RedisPrefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient sets the client used for every backend and identity call.
// Timeouts are applied per request; hc.Timeout is left as given.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithNavigator sets where the user is sent to sign in again.
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithPrompter sets how a static-token user is asked for a new token.
func (b *Builder) WithPrompter(p Prompter) *Builder {
	b.prompter = p
	return b
}

// WithAuditSink enables audit dispatch to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithLogger sets the logger for the store and gateway.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = &l
	return b
}

// WithClock replaces time.Now for expiry decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles request and refresh latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, restores the active portal's
// credentials from the backend and returns the Client. A missing identity
// provider only disables SignIn.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b.built = true

	logger := log.Logger.With().Str("component", "portalauth").Logger()
	if b.logger != nil {
		logger = *b.logger
	}

	backend := b.backend
	if backend == nil && b.redis != nil {
		backend = session.NewRedisBackend(b.redis, cfg.Session.RedisPrefix, cfg.Session.RedisTTL)
	}
	if backend == nil {
		backend = session.NewMemoryBackend()
	}

	hc := b.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	idpClient := idp.New(idp.Config{
		APIBaseURL:         cfg.API.BaseURL,
		RefreshPath:        cfg.API.RefreshPath,
		StaticTokenPath:    cfg.API.StaticTokenPath,
		StaticSecretHeader: cfg.API.StaticSecretHeader,
		IdentityBaseURL:    cfg.Identity.BaseURL,
		IdentityAPIKey:     cfg.Identity.APIKey,
		RequestIDHeader:    cfg.Request.RequestIDHeader,
	}, hc, now)
	if !idpClient.SignInAvailable() {
		logger.Info().Msg("identity provider not configured, sign-in unavailable")
	}

	metrics := NewMetrics(cfg.Metrics)
	audit := newAuditDispatcher(cfg.Audit, b.auditSink)

	store := newSessionStore(cfg, storeDeps{
		backend: backend,
		idp:     idpClient,
		nav:     b.navigator,
		prompt:  b.prompter,
		metrics: metrics,
		audit:   audit,
		logger:  logger,
		now:     now,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.RefreshTimeout)
	if err := store.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("restore session failed, starting signed out")
	}
	cancel()

	c := &Client{
		config:  cfg,
		store:   store,
		metrics: metrics,
		audit:   audit,
	}
	c.gateway = &Gateway{
		store:   store,
		http:    hc,
		cfg:     cfg.Request,
		baseURL: cfg.API.BaseURL,
		metrics: metrics,
		logger:  logger,
		closed:  &c.closed,
	}
	return c, nil
}

// Client bundles the SessionStore and Gateway of one application.
type Client struct {
	config  Config
	store   *SessionStore
	gateway *Gateway
	metrics *Metrics
	audit   *auditDispatcher
	closed  atomic.Bool
}

// Sessions returns the client's session store.
func (c *Client) Sessions() *SessionStore { return c.store }

// Gateway returns the client's authenticated request gateway.
func (c *Client) Gateway() *Gateway { return c.gateway }

// Config returns a copy of the validated configuration.
func (c *Client) Config() Config { return cloneConfig(c.config) }

// MetricsSnapshot returns the current counters and histograms.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Close flushes pending audit events. Gateway calls fail with
// ErrClientClosed afterwards.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.audit.Close()
}
