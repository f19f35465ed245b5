package session

import "time"

// Kind distinguishes a long-lived static bearer token from a refreshable
// identity-provider session.
type Kind uint8

const (
	// KindStatic is a manually issued bearer token with no client-tracked expiry.
	KindStatic Kind = iota + 1
	// KindRefreshable is an access/refresh pair with a known expiry.
	KindRefreshable
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindRefreshable:
		return "session"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k == KindStatic || k == KindRefreshable
}

// Session is one stored credential.
//
// AccessToken, RefreshToken and ExpiresAt always describe the same issuance;
// callers replace a Session as a whole instead of patching fields.
type Session struct {
	SchemaVersion uint8

	Portal string
	Kind   Kind

	AccessToken  string
	RefreshToken string

	// ExpiresAt is the access token expiry in Unix seconds, 0 for static tokens.
	ExpiresAt int64
	CreatedAt int64
}

// Empty reports whether s carries no usable credential.
func (s *Session) Empty() bool {
	return s == nil || s.AccessToken == ""
}

// ExpiresIn returns the time left before ExpiresAt, or 0 when no expiry is tracked.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	if s == nil || s.ExpiresAt == 0 {
		return 0
	}
	return time.Unix(s.ExpiresAt, 0).Sub(now)
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
