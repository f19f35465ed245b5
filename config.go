package portalauth

import (
	"errors"
	"strings"
	"time"
)

// Config holds every setting of a Client. Build validates a private copy.
type Config struct {
	Identity IdentityConfig
	API      APIConfig
	Session  SessionConfig
	Request  RequestConfig
	Portals  map[Portal]PortalPolicy
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig locates the identity provider used by SignIn. Missing or
// "__PLACEHOLDER__" values disable sign-in without failing Build.
type IdentityConfig struct {
	BaseURL string
	APIKey  string
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the backend credential endpoints.
type APIConfig struct {
	BaseURL            string
	RefreshPath        string
	StaticTokenPath    string
	StaticSecretHeader string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes the SessionStore.
type SessionConfig struct {
	// RefreshMargin is how long before expiry a refresh is attempted.
	RefreshMargin time.Duration
	// RefreshTimeout bounds one token exchange, independent of callers.
	RefreshTimeout time.Duration

	DefaultPortal Portal
	// SignInPath is the generic sign-in surface used after a role mismatch.
	SignInPath string

	RedisPrefix string
	// RedisTTL expires persisted slots; 0 keeps them until deleted.
	RedisTTL time.Duration
}

/*
====================================
REQUEST CONFIG
====================================
*/

// RequestConfig tunes the Gateway.
type RequestConfig struct {
	Timeout         time.Duration
	RequestIDHeader string
}

/*
====================================
PORTALS
====================================
*/

// PortalPolicy describes what a portal expects from its session.
type PortalPolicy struct {
	// RequiredRole, when known, must equal the session role.
	RequiredRole Role
	SignInPath   string
	// ObscureForbidden reports 403 responses as KindNotFound so callers
	// cannot tell a missing resource from a denied one.
	ObscureForbidden bool
}

/*
====================================
AUDIT / METRICS
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			RefreshPath:        "/api/v1/auth/refresh",
			StaticTokenPath:    "/api/v1/admin/token",
			StaticSecretHeader: "X-Admin-Token-Secret",
		},
		Session: SessionConfig{
			RefreshMargin:  300 * time.Second,
			RefreshTimeout: 15 * time.Second,
			DefaultPortal:  PortalAdmin,
			SignInPath:     "/login",
			RedisPrefix:    "vp",
		},
		Request: RequestConfig{
			Timeout:         15 * time.Second,
			RequestIDHeader: "X-Request-ID",
		},
		Portals: map[Portal]PortalPolicy{
			PortalAdmin:      {RequiredRole: RoleAdmin, SignInPath: "/admin/login", ObscureForbidden: true},
			PortalClient:     {RequiredRole: RoleClient, SignInPath: "/login"},
			PortalContractor: {RequiredRole: RoleSubcontractor, SignInPath: "/login"},
			PortalExpert:     {RequiredRole: RoleExpert, SignInPath: "/login"},
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Portals != nil {
		out.Portals = make(map[Portal]PortalPolicy, len(cfg.Portals))
		for k, v := range cfg.Portals {
			out.Portals[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// API
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("API BaseURL must be set")
	}
	if c.API.RefreshPath == "" {
		return errors.New("API RefreshPath must be set")
	}
	if c.API.StaticTokenPath != "" && !strings.HasPrefix(c.API.StaticTokenPath, "/") {
		return errors.New("API StaticTokenPath must start with /")
	}

	// Session
	if c.Session.RefreshMargin < 0 {
		return errors.New("Session RefreshMargin must be >= 0")
	}
	if c.Session.RefreshTimeout <= 0 {
		return errors.New("Session RefreshTimeout must be > 0")
	}
	if c.Session.RedisTTL < 0 {
		return errors.New("Session RedisTTL must be >= 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if strings.ContainsAny(c.Session.RedisPrefix, "{}") {
		return errors.New("Session RedisPrefix must not contain braces")
	}
	if c.Session.SignInPath == "" {
		return errors.New("Session SignInPath must be set")
	}

	// Request
	if c.Request.Timeout <= 0 {
		return errors.New("Request Timeout must be > 0")
	}
	if strings.TrimSpace(c.Request.RequestIDHeader) == "" {
		return errors.New("Request RequestIDHeader must be set")
	}

	// Portals
	if len(c.Portals) == 0 {
		return errors.New("at least one portal must be configured")
	}
	for p, policy := range c.Portals {
		if !validPortalName(p) {
			return errors.New("portal names must be non-empty and contain no '/', '\\', '.' or ':'")
		}
		if policy.SignInPath == "" {
			return errors.New("portal SignInPath must be set")
		}
	}
	if _, ok := c.Portals[c.Session.DefaultPortal]; !ok {
		return errors.New("Session DefaultPortal must be a configured portal")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

func validPortalName(p Portal) bool {
	s := string(p)
	return s != "" && !strings.ContainsAny(s, `/\.:`)
}
