package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vejapro/portalauth/internal/flows"
	"github.com/vejapro/portalauth/internal/idp"
	"github.com/vejapro/portalauth/jwt"
	"github.com/vejapro/portalauth/session"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// SessionStore owns the credentials of the active portal.
//
// Reads are lock-free with respect to network calls: Token, Role and IsSet
// only take the read lock. Mutations are serialized with their persistence
// so a backend never sees two writers interleave.
//
// At most one token exchange per portal is in flight. Callers arriving while
// it runs wait for it and receive its outcome.
type SessionStore struct {
	cfg     Config
	backend session.Backend
	idp     *idp.Client
	deps    flows.Deps

	nav     Navigator
	prompt  Prompter
	metrics *Metrics
	audit   *auditDispatcher
	logger  zerolog.Logger
	now     func() time.Time

	group singleflight.Group

	writeMu sync.Mutex

	mu          sync.RWMutex
	portal      Portal
	static      *session.Session
	refreshable *session.Session
}

type storeDeps struct {
	backend session.Backend
	idp     *idp.Client
	nav     Navigator
	prompt  Prompter
	metrics *Metrics
	audit   *auditDispatcher
	logger  zerolog.Logger
	now     func() time.Time
}

func newSessionStore(cfg Config, d storeDeps) *SessionStore {
	s := &SessionStore{
		cfg:     cfg,
		backend: d.backend,
		idp:     d.idp,
		nav:     d.nav,
		prompt:  d.prompt,
		metrics: d.metrics,
		audit:   d.audit,
		logger:  d.logger,
		now:     d.now,
		portal:  cfg.Session.DefaultPortal,
	}
	if s.nav == nil {
		s.nav = noopNavigator{}
	}
	if s.prompt == nil {
		s.prompt = noopPrompter{}
	}

	s.deps = flows.Deps{
		Refresh: flows.RefreshDeps{
			Exchange:           d.idp.Exchange,
			Now:                d.now,
			Margin:             cfg.Session.RefreshMargin,
			StatusOf:           idpStatus,
			MissingAccessToken: idp.ErrMissingAccessToken,
			Decode:             idp.ErrDecode,
			Unavailable:        idp.ErrUnavailable,
		},
		SignIn: flows.SignInDeps{
			Available:     d.idp.SignInAvailable,
			PasswordGrant: d.idp.PasswordGrant,
			RoleOf:        jwt.RoleOf,
			Now:           d.now,
		},
		Logout: flows.LogoutDeps{Backend: d.backend},
	}
	return s
}

func idpStatus(err error) (int, string, bool) {
	var se *idp.StatusError
	if errors.As(err, &se) {
		return se.Status, se.Detail, true
	}
	return 0, "", false
}

/*
====================================
READS
====================================
*/

// Portal returns the active portal.
func (s *SessionStore) Portal() Portal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portal
}

func (s *SessionStore) activeLocked() *session.Session {
	if !s.refreshable.Empty() {
		return s.refreshable
	}
	if !s.static.Empty() {
		return s.static
	}
	return nil
}

// Token returns the refreshable access token, else the static token, else "".
func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur := s.activeLocked(); cur != nil {
		return cur.AccessToken
	}
	return ""
}

// IsSet reports whether Token is non-empty.
func (s *SessionStore) IsSet() bool {
	return s.Token() != ""
}

// Kind reports which credential Token returns.
func (s *SessionStore) Kind() CredentialKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch cur := s.activeLocked(); {
	case cur == nil:
		return CredentialNone
	case cur.Kind == session.KindRefreshable:
		return CredentialRefreshable
	default:
		return CredentialStatic
	}
}

// Role decodes the role claim of Token. It never fails; malformed tokens
// and missing claims yield UnknownRole.
func (s *SessionStore) Role() Role {
	return roleOf(s.Token())
}

func roleOf(token string) Role {
	name, ok := jwt.RoleOf(token)
	if !ok {
		return UnknownRole
	}
	return NewRole(name)
}

// Snapshot returns a copy of the credential Token reads from. With no
// credential only Portal is set.
func (s *SessionStore) Snapshot() session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur := s.activeLocked(); cur != nil {
		return *cur
	}
	return session.Session{Portal: string(s.portal)}
}

func (s *SessionStore) policy(p Portal) PortalPolicy {
	return s.cfg.Portals[p]
}

/*
====================================
WRITES
====================================
*/

// SetStatic normalizes token and stores it as the static token of the active
// portal. An empty normalized token deletes the static token.
func (s *SessionStore) SetStatic(ctx context.Context, token string) error {
	token = NormalizeToken(token)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	portal := s.Portal()
	if token == "" {
		s.mu.Lock()
		s.static = nil
		s.mu.Unlock()
		return s.deleteSlot(ctx, portal, session.KindStatic)
	}

	sess := &session.Session{
		SchemaVersion: session.CurrentSchemaVersion,
		Portal:        string(portal),
		Kind:          session.KindStatic,
		AccessToken:   token,
		CreatedAt:     s.now().Unix(),
	}
	s.mu.Lock()
	s.static = sess
	s.mu.Unlock()

	s.metrics.Inc(MetricStaticTokenSet)
	s.emit(ctx, AuditStaticTokenSet, portal, sess, nil)
	return s.save(ctx, sess)
}

// SetSession stores a refreshable session for the active portal. A zero
// expiresAt falls back to the access token's exp claim. An empty access
// token deletes the session.
func (s *SessionStore) SetSession(ctx context.Context, access, refresh string, expiresAt time.Time) error {
	access = NormalizeToken(access)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	portal := s.Portal()
	if access == "" {
		s.mu.Lock()
		s.refreshable = nil
		s.mu.Unlock()
		return s.deleteSlot(ctx, portal, session.KindRefreshable)
	}

	if expiresAt.IsZero() {
		if exp, ok := jwt.ExpiryOf(access); ok {
			expiresAt = exp
		}
	}
	sess := &session.Session{
		SchemaVersion: session.CurrentSchemaVersion,
		Portal:        string(portal),
		Kind:          session.KindRefreshable,
		AccessToken:   access,
		RefreshToken:  strings.TrimSpace(refresh),
		CreatedAt:     s.now().Unix(),
	}
	if !expiresAt.IsZero() {
		sess.ExpiresAt = expiresAt.Unix()
	}
	return s.storeRefreshableLocked(ctx, portal, sess)
}

func (s *SessionStore) storeRefreshableLocked(ctx context.Context, portal Portal, sess *session.Session) error {
	s.mu.Lock()
	s.refreshable = sess
	s.mu.Unlock()

	s.metrics.Inc(MetricSessionCreated)
	s.emit(ctx, AuditSessionCreated, portal, sess, nil)
	return s.save(ctx, sess)
}

func (s *SessionStore) save(ctx context.Context, sess *session.Session) error {
	if err := s.backend.Save(ctx, sess); err != nil {
		s.logger.Warn().Err(err).
			Str("portal", sess.Portal).
			Str("kind", sess.Kind.String()).
			Msg("persist session failed")
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (s *SessionStore) deleteSlot(ctx context.Context, portal Portal, kind session.Kind) error {
	if err := flows.RunDestroy(ctx, string(portal), kind, s.deps.Logout); err != nil {
		s.logger.Warn().Err(err).
			Str("portal", string(portal)).
			Str("kind", kind.String()).
			Msg("delete session failed")
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

/*
====================================
REFRESH
====================================
*/

// RefreshIfNeeded exchanges the refresh token when the refreshable session
// expires within Config.Session.RefreshMargin. It is a no-op otherwise and
// for static tokens.
//
// On failure the session is destroyed, the user is sent to sign-in once,
// and a *RequestError of KindUnauthorized is returned to every waiting
// caller. If ctx ends while waiting, ctx.Err() is returned and the exchange
// keeps running for the other callers.
func (s *SessionStore) RefreshIfNeeded(ctx context.Context) error {
	s.mu.RLock()
	portal, cur := s.portal, s.refreshable
	s.mu.RUnlock()

	if !flows.NeedsRefresh(cur, s.now(), s.cfg.Session.RefreshMargin) {
		return nil
	}

	ch := s.group.DoChan(string(portal), func() (any, error) {
		return nil, s.refresh(ctx, portal)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.metrics.Inc(MetricRefreshShared)
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SessionStore) refresh(parent context.Context, portal Portal) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.Session.RefreshTimeout)
	defer cancel()

	s.mu.RLock()
	cur := s.refreshable
	same := s.portal == portal
	s.mu.RUnlock()
	if !same {
		return nil
	}

	started := time.Now()
	res := flows.RunRefresh(ctx, cur, s.deps.Refresh)
	if res.Skipped {
		return nil
	}
	s.metrics.Observe(MetricRefreshLatency, time.Since(started))

	if res.Failure != flows.RefreshFailureNone {
		return s.refreshFailed(ctx, portal, cur, res)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.portal != portal || s.refreshable != cur {
		s.mu.Unlock()
		s.logger.Debug().Str("portal", string(portal)).Msg("session changed during refresh, result discarded")
		return nil
	}
	s.refreshable = res.Session
	s.mu.Unlock()

	s.metrics.Inc(MetricRefreshSuccess)
	s.emit(ctx, AuditSessionRefreshed, portal, res.Session, nil)
	s.logger.Debug().
		Str("portal", string(portal)).
		Int64("expires_at", res.Session.ExpiresAt).
		Msg("session refreshed")

	// The new pair is already in effect; a persistence failure is logged by save.
	_ = s.save(ctx, res.Session)
	return nil
}

func (s *SessionStore) refreshFailed(ctx context.Context, portal Portal, cur *session.Session, res flows.RefreshResult) error {
	s.writeMu.Lock()
	s.mu.Lock()
	cleared := s.portal == portal && s.refreshable == cur
	if cleared {
		s.refreshable = nil
	}
	s.mu.Unlock()
	if cleared {
		_ = s.deleteSlot(ctx, portal, session.KindRefreshable)
	}
	s.writeMu.Unlock()

	s.metrics.Inc(MetricRefreshFailure)
	s.logger.Warn().
		Str("portal", string(portal)).
		Str("failure", res.Failure.String()).
		Int("status", res.Status).
		Msg("session refresh failed")

	if !cleared {
		return nil
	}

	s.metrics.Inc(MetricSessionDestroyed)
	s.emit(ctx, AuditRefreshFailed, portal, cur, errors.New(res.Failure.String()))
	s.navigate(ctx, portal, NavSessionExpired)

	return &RequestError{
		Kind:   KindUnauthorized,
		Status: res.Status,
		Detail: "session expired, sign in again",
		cause:  res.Err,
	}
}

/*
====================================
LOGOUT / ROLE / PORTAL
====================================
*/

// Logout clears every portal's credentials and navigates to sign-in once.
func (s *SessionStore) Logout(ctx context.Context) error {
	portal, err := s.clearAll(ctx)

	s.metrics.Inc(MetricLogout)
	s.emit(ctx, AuditLogout, portal, nil, err)
	s.navigate(ctx, portal, NavLogout)

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *SessionStore) clearAll(ctx context.Context) (Portal, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	portal := s.portal
	s.static, s.refreshable = nil, nil
	s.mu.Unlock()

	res := flows.RunLogout(context.WithoutCancel(ctx), s.deps.Logout)
	if res.Err != nil {
		s.logger.Warn().Err(res.Err).Msg("purge sessions failed")
		return portal, res.Err
	}
	s.logger.Debug().Int("removed", res.Removed).Msg("sessions purged")
	return portal, nil
}

// EnsureRoleOrLogout reports whether the current session satisfies required.
// UnknownRole means the active portal's PortalPolicy.RequiredRole.
//
// Without a session it navigates to the portal's sign-in and returns false.
// On a role mismatch it clears every credential, navigates to the generic
// sign-in and returns false. An undecodable role is a mismatch.
func (s *SessionStore) EnsureRoleOrLogout(ctx context.Context, required Role) bool {
	portal := s.Portal()
	if !required.Known() {
		required = s.policy(portal).RequiredRole
	}

	if !s.IsSet() {
		s.navigate(ctx, portal, NavNoSession)
		return false
	}

	role := s.Role()
	if role.Satisfies(required) {
		return true
	}

	_, _ = s.clearAll(ctx)
	s.metrics.Inc(MetricRoleMismatch)
	s.logger.Warn().
		Str("portal", string(portal)).
		Str("role", role.String()).
		Str("required", required.String()).
		Msg("role mismatch, session cleared")
	ev := newAuditEvent(s.now(), AuditRoleMismatch, portal, false)
	ev.Role = role.String()
	ev.Metadata = map[string]string{"required": required.String()}
	s.audit.Emit(ctx, ev)

	s.navigate(ctx, portal, NavRoleMismatch)
	return false
}

// handleUnauthorized reacts to a 401 for a request sent with used. A
// refreshable session still holding used is cleared with every other
// credential and the user is sent to sign-in; a static token leads to a
// token prompt instead. Later 401s for the same token find nothing to clear.
func (s *SessionStore) handleUnauthorized(ctx context.Context, used string) {
	if used == "" {
		return
	}

	s.mu.RLock()
	portal := s.portal
	refreshable := s.refreshable != nil && s.refreshable.AccessToken == used
	static := s.refreshable.Empty() && s.static != nil && s.static.AccessToken == used
	s.mu.RUnlock()

	switch {
	case refreshable:
		s.writeMu.Lock()
		s.mu.Lock()
		still := s.refreshable != nil && s.refreshable.AccessToken == used
		if still {
			s.static, s.refreshable = nil, nil
		}
		s.mu.Unlock()
		if still {
			if res := flows.RunLogout(context.WithoutCancel(ctx), s.deps.Logout); res.Err != nil {
				s.logger.Warn().Err(res.Err).Msg("purge sessions failed")
			}
		}
		s.writeMu.Unlock()
		if !still {
			return
		}

		s.metrics.Inc(MetricSessionDestroyed)
		s.emit(ctx, AuditSessionDestroyed, portal, nil, errors.New("unauthorized"))
		s.navigate(ctx, portal, NavSessionExpired)
	case static:
		s.logger.Info().Str("portal", string(portal)).Msg("static token rejected, prompting for a new one")
		s.prompt.PromptToken(ctx, portal)
	}
}

// SwitchPortal makes portal active and deletes every other portal's
// credentials. The new portal's own persisted credentials are restored.
func (s *SessionStore) SwitchPortal(ctx context.Context, portal Portal) error {
	if _, ok := s.cfg.Portals[portal]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPortal, portal)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	prev := s.portal
	s.portal = portal
	if prev != portal {
		s.static, s.refreshable = nil, nil
	}
	s.mu.Unlock()

	res := flows.RunSwitchPortal(ctx, string(portal), s.deps.Logout)
	if res.Err != nil {
		return fmt.Errorf("switch portal: %w", res.Err)
	}
	if prev != portal {
		if err := s.restoreLocked(ctx, portal); err != nil {
			return err
		}
		s.metrics.Inc(MetricPortalSwitch)
		ev := newAuditEvent(s.now(), AuditPortalSwitched, portal, true)
		ev.Metadata = map[string]string{"from": string(prev)}
		s.audit.Emit(ctx, ev)
	}
	return nil
}

// Restore reloads the active portal's credentials from the backend.
func (s *SessionStore) Restore(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.restoreLocked(ctx, s.Portal())
}

func (s *SessionStore) restoreLocked(ctx context.Context, portal Portal) error {
	load := func(kind session.Kind) (*session.Session, error) {
		sess, err := s.backend.Load(ctx, string(portal), kind)
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", kind, err)
		}
		if sess.Empty() || sess.Kind != kind {
			return nil, nil
		}
		return sess, nil
	}

	refreshable, err := load(session.KindRefreshable)
	if err != nil {
		return err
	}
	static, err := load(session.KindStatic)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.portal == portal {
		s.refreshable, s.static = refreshable, static
	}
	s.mu.Unlock()
	return nil
}

/*
====================================
SIGN-IN / ISSUANCE
====================================
*/

// SignIn runs the identity-provider password grant and stores the session
// for the active portal. It returns the session role. When the portal
// requires a role the session does not carry, nothing is stored and
// ErrRoleMismatch is returned.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) (Role, error) {
	portal := s.Portal()
	required := s.policy(portal).RequiredRole

	res := flows.RunSignIn(ctx, string(portal), required.String(), strings.TrimSpace(email), password, s.deps.SignIn)
	switch res.Failure {
	case flows.SignInFailureNone:
	case flows.SignInFailureUnavailable:
		return UnknownRole, ErrSignInUnavailable
	case flows.SignInFailureMissingInput:
		return UnknownRole, res.Err
	case flows.SignInFailureRoleMismatch:
		s.metrics.Inc(MetricSignInFailure)
		s.metrics.Inc(MetricRoleMismatch)
		ev := newAuditEvent(s.now(), AuditRoleMismatch, portal, false)
		ev.Role = res.Role
		s.audit.Emit(ctx, ev)
		return NewRole(res.Role), ErrRoleMismatch
	default:
		s.metrics.Inc(MetricSignInFailure)
		err := fromIDPError(res.Err)
		s.emit(ctx, AuditSignInFailed, portal, nil, err)
		return UnknownRole, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Portal() != portal {
		return UnknownRole, fmt.Errorf("%w: portal switched during sign-in", ErrInvalidPortal)
	}
	if err := s.storeRefreshableLocked(ctx, portal, res.Session); err != nil {
		return UnknownRole, err
	}
	s.metrics.Inc(MetricSignInSuccess)
	return NewRole(res.Role), nil
}

// IssueStaticToken asks the backend for a static token and stores it. It
// is only ever called on explicit user action.
func (s *SessionStore) IssueStaticToken(ctx context.Context, secret string) error {
	token, err := s.idp.IssueStatic(ctx, secret)
	if err != nil {
		if errors.Is(err, idp.ErrMissingAccessToken) || errors.Is(err, idp.ErrUnavailable) || errors.Is(err, idp.ErrDecode) {
			return fmt.Errorf("%w: %v", ErrStaticTokenUnavailable, err)
		}
		return fromIDPError(err)
	}

	if err := s.SetStatic(ctx, token); err != nil {
		return err
	}
	s.metrics.Inc(MetricStaticTokenIssued)
	s.emit(ctx, AuditStaticIssued, s.Portal(), nil, nil)
	return nil
}

// SignInAvailable reports whether the identity provider is configured.
func (s *SessionStore) SignInAvailable() bool {
	return s.idp.SignInAvailable()
}

/*
====================================
OAUTH2
====================================
*/

type storeTokenSource struct {
	ctx   context.Context
	store *SessionStore
}

// TokenSource exposes the store to golang.org/x/oauth2 clients. Every Token
// call refreshes first when needed.
func (s *SessionStore) TokenSource(ctx context.Context) oauth2.TokenSource {
	return storeTokenSource{ctx: ctx, store: s}
}

func (ts storeTokenSource) Token() (*oauth2.Token, error) {
	if err := ts.store.RefreshIfNeeded(ts.ctx); err != nil {
		return nil, err
	}
	snap := ts.store.Snapshot()
	if snap.AccessToken == "" {
		return nil, ErrNoSession
	}
	tok := &oauth2.Token{AccessToken: snap.AccessToken, TokenType: "Bearer"}
	if snap.ExpiresAt > 0 {
		tok.Expiry = time.Unix(snap.ExpiresAt, 0)
	}
	return tok, nil
}

/*
====================================
HELPERS
====================================
*/

func (s *SessionStore) navigate(ctx context.Context, portal Portal, reason NavReason) {
	path := s.policy(portal).SignInPath
	if reason == NavRoleMismatch || path == "" {
		path = s.cfg.Session.SignInPath
	}
	s.logger.Info().
		Str("portal", string(portal)).
		Str("reason", reason.String()).
		Str("path", path).
		Msg("navigating to sign-in")
	s.nav.Navigate(ctx, SignInTarget{Portal: portal, Path: path, Reason: reason})
}

func (s *SessionStore) emit(ctx context.Context, eventType string, portal Portal, sess *session.Session, err error) {
	if s.audit == nil {
		return
	}
	ev := newAuditEvent(s.now(), eventType, portal, err == nil)
	if sess != nil {
		ev.Kind = sess.Kind.String()
		ev.Role = roleOf(sess.AccessToken).String()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.audit.Emit(ctx, ev)
}
