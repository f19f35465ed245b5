// Package stub is an in-process stand-in for the VejaPRO backend and its
// identity provider. It serves the password grant, refresh, static token
// and a few role-guarded resources so portalauth clients can be exercised
// end to end without external services.
package stub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/vejapro/portalauth/jwt"
	"github.com/vejapro/portalauth/middleware"
)

// Config wires a Server.
type Config struct {
	// Signer mints every access token. Required.
	Signer *jwt.Manager
	// Refresh stores refresh tokens; nil uses memory.
	Refresh RefreshStore

	AnonKey      string
	StaticSecret string
	StaticTTL    time.Duration
	RefreshTTL   time.Duration

	// Latency delays every credential endpoint, for load runs.
	Latency    time.Duration
	HashParams HashParams
	Logger     zerolog.Logger
}

// Server implements the backend endpoints.
type Server struct {
	cfg   Config
	users *userDirectory

	grantCalls   atomic.Int64
	refreshCalls atomic.Int64
	staticCalls  atomic.Int64
}

// New validates cfg and returns a Server with no users.
func New(cfg Config) (*Server, error) {
	if cfg.Signer == nil {
		return nil, errors.New("stub: signer is required")
	}
	if cfg.Refresh == nil {
		cfg.Refresh = NewMemoryRefreshStore()
	}
	if cfg.StaticTTL <= 0 {
		cfg.StaticTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Server{cfg: cfg, users: newUserDirectory(cfg.HashParams)}, nil
}

// AddUser seeds a password-grant user.
func (s *Server) AddUser(email, password, role string) error {
	return s.users.add(uuid.NewString(), email, password, strings.ToUpper(role))
}

func (s *Server) GrantCalls() int64   { return s.grantCalls.Load() }
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }
func (s *Server) StaticCalls() int64  { return s.staticCalls.Load() }

// Handler returns the routed backend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/v1/token", s.handleGrant)
	mux.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/admin/token", s.handleStatic)

	signer := s.cfg.Signer
	mux.Handle("GET /api/v1/me", middleware.Guard(signer, middleware.GuardOptions{})(http.HandlerFunc(handleMe)))
	mux.Handle("GET /api/v1/admin/projects", middleware.RequireAdmin(signer)(http.HandlerFunc(handleProjects)))
	mux.Handle("GET /api/v1/client/projects", middleware.RequireRole(signer, "CLIENT")(http.HandlerFunc(handleProjects)))
	mux.Handle("POST /api/v1/echo", middleware.Guard(signer, middleware.GuardOptions{})(http.HandlerFunc(handleEcho)))

	var h http.Handler = mux
	h = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", d).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("stub request")
	})(h)
	h = hlog.NewHandler(s.cfg.Logger)(h)
	return middleware.RequestID(h)
}

func (s *Server) delay(r *http.Request) bool {
	if s.cfg.Latency <= 0 {
		return true
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.grantCalls.Add(1)
	if r.URL.Query().Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unsupported grant_type"})
		return
	}
	if s.cfg.AnonKey != "" && r.Header.Get("apikey") != s.cfg.AnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
		return
	}
	if !s.delay(r) {
		return
	}

	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	u, ok := s.users.authenticate(in.Email, in.Password)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid login credentials"})
		return
	}

	grant := Grant{Subject: u.id, Email: strings.ToLower(strings.TrimSpace(in.Email)), Role: u.role}
	access, expiresAt, refresh, err := s.issuePair(r, grant)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("issue tokens failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "token issuance failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"refresh_token": refresh,
		"expires_in":    int64(time.Until(expiresAt).Round(time.Second).Seconds()),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if !s.delay(r) {
		return
	}

	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.RefreshToken == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "refresh_token is required"}},
		})
		return
	}

	grant, err := s.cfg.Refresh.Take(r.Context(), in.RefreshToken)
	if err != nil {
		if !errors.Is(err, ErrUnknownRefreshToken) {
			hlog.FromRequest(r).Error().Err(err).Msg("redeem refresh token failed")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid refresh token"})
		return
	}

	access, expiresAt, refresh, err := s.issuePair(r, grant)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("issue tokens failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "token issuance failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_at":    expiresAt.Unix(),
	})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	s.staticCalls.Add(1)
	if s.cfg.StaticSecret == "" || r.Header.Get("X-Admin-Token-Secret") != s.cfg.StaticSecret {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid secret"})
		return
	}
	token, _, err := s.cfg.Signer.IssueWithTTL(jwt.Identity{Subject: "static-admin", Role: "ADMIN"}, s.cfg.StaticTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "token issuance failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) issuePair(r *http.Request, g Grant) (string, time.Time, string, error) {
	access, expiresAt, err := s.cfg.Signer.Issue(jwt.Identity{Subject: g.Subject, Email: g.Email, Role: g.Role})
	if err != nil {
		return "", time.Time{}, "", err
	}
	refresh := uuid.NewString()
	if err := s.cfg.Refresh.Put(r.Context(), refresh, g, s.cfg.RefreshTTL); err != nil {
		return "", time.Time{}, "", err
	}
	return access, expiresAt, refresh, nil
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	role, _ := claims.Role()
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":   claims.Subject,
		"email": claims.Email,
		"role":  role,
	})
}

func handleProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items": []map[string]string{
			{"id": "p-1001", "status": "DRAFT"},
			{"id": "p-1002", "status": "PAID"},
		},
	})
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	var body any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "body must be JSON"}},
		})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
