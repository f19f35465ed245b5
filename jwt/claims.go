package jwt

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned for tokens that are not three dot-separated segments
// or whose payload is not base64url-encoded JSON.
var ErrMalformed = errors.New("malformed token")

// Claims is the identity-provider payload shape consumed by the portals.
// Only the fields the client reads are declared; the rest are ignored.
type Claims struct {
	Email        string          `json:"email,omitempty"`
	AppMetadata  json.RawMessage `json:"app_metadata,omitempty"`
	UserMetadata json.RawMessage `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

var segmentParser = jwt.NewParser()

// Decode reads the payload of token without verifying its signature. The
// client never holds the signing key; the backend verifies every request.
func Decode(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[1] == "" {
		return nil, ErrMalformed
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrMalformed
	}
	return &claims, nil
}

// Role returns the upper-cased app_metadata.role claim, falling back to
// user_metadata.role. ok is false when the claim is absent, empty or not a string.
func (c *Claims) Role() (role string, ok bool) {
	if c == nil {
		return "", false
	}
	if r, ok := metadataRole(c.AppMetadata); ok {
		return r, true
	}
	return metadataRole(c.UserMetadata)
}

func metadataRole(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", false
	}
	s, ok := meta["role"].(string)
	if !ok {
		return "", false
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	return s, s != ""
}

// RoleOf decodes token and returns its role claim. It never fails; malformed
// tokens report ok == false.
func RoleOf(token string) (string, bool) {
	claims, err := Decode(token)
	if err != nil {
		return "", false
	}
	return claims.Role()
}

// ExpiryOf returns the exp claim of token.
func ExpiryOf(token string) (time.Time, bool) {
	claims, err := Decode(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
