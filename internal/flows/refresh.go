package flows

import (
	"context"
	"errors"
	"time"

	"github.com/vejapro/portalauth/session"
	"golang.org/x/oauth2"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNoRefreshToken
	RefreshFailureTransport
	RefreshFailureStatus
	RefreshFailureDecode
	RefreshFailureMissingAccessToken
	RefreshFailureUnavailable
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureNoRefreshToken:
		return "no_refresh_token"
	case RefreshFailureTransport:
		return "transport"
	case RefreshFailureStatus:
		return "status"
	case RefreshFailureDecode:
		return "decode"
	case RefreshFailureMissingAccessToken:
		return "missing_access_token"
	case RefreshFailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the replacement session or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Status  int
	Detail  string

	// Skipped is true when the session was still outside the margin.
	Skipped bool
	Session *session.Session
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Exchange func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Now      func() time.Time
	Margin   time.Duration

	// StatusOf extracts the HTTP status and safe detail from an Exchange error.
	StatusOf func(error) (status int, detail string, ok bool)

	MissingAccessToken error
	Decode             error
	Unavailable        error
}

// NeedsRefresh reports whether s is a refreshable session within margin of
// its expiry. A refreshable session without a tracked expiry never refreshes.
func NeedsRefresh(s *session.Session, now time.Time, margin time.Duration) bool {
	if s.Empty() || s.Kind != session.KindRefreshable || s.ExpiresAt == 0 {
		return false
	}
	return s.ExpiresIn(now) <= margin
}

// RunRefresh exchanges the refresh token of current when it is due. The
// returned Session replaces current as a whole.
func RunRefresh(ctx context.Context, current *session.Session, deps RefreshDeps) RefreshResult {
	if !NeedsRefresh(current, deps.Now(), deps.Margin) {
		return RefreshResult{Skipped: true}
	}
	if current.RefreshToken == "" {
		return RefreshResult{
			Failure: RefreshFailureNoRefreshToken,
			Err:     errors.New("session has no refresh token"),
		}
	}

	tok, err := deps.Exchange(ctx, current.RefreshToken)
	if err != nil {
		return classifyRefreshError(err, deps)
	}
	if tok == nil || tok.AccessToken == "" {
		return RefreshResult{
			Failure: RefreshFailureMissingAccessToken,
			Err:     deps.MissingAccessToken,
		}
	}

	next := &session.Session{
		SchemaVersion: session.CurrentSchemaVersion,
		Portal:        current.Portal,
		Kind:          session.KindRefreshable,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		CreatedAt:     current.CreatedAt,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		next.ExpiresAt = tok.Expiry.Unix()
	}

	return RefreshResult{Session: next}
}

func classifyRefreshError(err error, deps RefreshDeps) RefreshResult {
	res := RefreshResult{Err: err}
	switch {
	case deps.Unavailable != nil && errors.Is(err, deps.Unavailable):
		res.Failure = RefreshFailureUnavailable
	case deps.MissingAccessToken != nil && errors.Is(err, deps.MissingAccessToken):
		res.Failure = RefreshFailureMissingAccessToken
	case deps.Decode != nil && errors.Is(err, deps.Decode):
		res.Failure = RefreshFailureDecode
	default:
		if deps.StatusOf != nil {
			if status, detail, ok := deps.StatusOf(err); ok {
				res.Failure = RefreshFailureStatus
				res.Status = status
				res.Detail = detail
				return res
			}
		}
		res.Failure = RefreshFailureTransport
	}
	return res
}
