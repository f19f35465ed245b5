package flows

import (
	"context"
	"errors"
	"time"

	"github.com/vejapro/portalauth/session"
	"golang.org/x/oauth2"
)

// SignInFailureKind classifies sign-in flow failures.
type SignInFailureKind int

const (
	SignInFailureNone SignInFailureKind = iota
	SignInFailureUnavailable
	SignInFailureMissingInput
	SignInFailureGrant
	SignInFailureRoleMismatch
)

// SignInResult carries the new session or failure metadata.
type SignInResult struct {
	Failure SignInFailureKind
	Err     error
	Role    string
	Session *session.Session
}

// SignInDeps captures sign-in flow dependencies.
type SignInDeps struct {
	Available     func() bool
	PasswordGrant func(ctx context.Context, email, password string) (*oauth2.Token, error)
	RoleOf        func(token string) (string, bool)
	Now           func() time.Time
}

// RunSignIn performs the password grant and checks the issued role against
// requiredRole. An empty requiredRole accepts any role, including none.
func RunSignIn(ctx context.Context, portal, requiredRole, email, password string, deps SignInDeps) SignInResult {
	if deps.Available != nil && !deps.Available() {
		return SignInResult{Failure: SignInFailureUnavailable}
	}
	if email == "" || password == "" {
		return SignInResult{
			Failure: SignInFailureMissingInput,
			Err:     errors.New("email and password are required"),
		}
	}

	tok, err := deps.PasswordGrant(ctx, email, password)
	if err != nil {
		return SignInResult{Failure: SignInFailureGrant, Err: err}
	}

	role, _ := deps.RoleOf(tok.AccessToken)
	if requiredRole != "" && role != requiredRole {
		return SignInResult{Failure: SignInFailureRoleMismatch, Role: role}
	}

	sess := &session.Session{
		SchemaVersion: session.CurrentSchemaVersion,
		Portal:        portal,
		Kind:          session.KindRefreshable,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		CreatedAt:     deps.Now().Unix(),
	}
	if !tok.Expiry.IsZero() {
		sess.ExpiresAt = tok.Expiry.Unix()
	}
	return SignInResult{Role: role, Session: sess}
}
