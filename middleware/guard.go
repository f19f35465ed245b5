package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vejapro/portalauth/jwt"
)

// Verifier checks a bearer token. *jwt.Manager satisfies it.
type Verifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// GuardOptions tunes Guard.
type GuardOptions struct {
	// RequiredRole, when set, must equal the token's role claim.
	RequiredRole string
	// ObscureForbidden answers a role mismatch with 404 instead of 403.
	ObscureForbidden bool
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims Guard verified for this request.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return c, ok
}

// Guard rejects requests without a valid bearer token with 401 and requests
// whose role differs from opts.RequiredRole with 403, or 404 when
// opts.ObscureForbidden is set.
func Guard(v Verifier, opts GuardOptions) func(http.Handler) http.Handler {
	required := strings.ToUpper(strings.TrimSpace(opts.RequiredRole))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeDetail(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeDetail(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			claims, err := v.Verify(token)
			if err != nil {
				writeDetail(w, http.StatusUnauthorized, "Token expired or invalid")
				return
			}

			if required != "" {
				role, _ := claims.Role()
				if role != required {
					if opts.ObscureForbidden {
						writeDetail(w, http.StatusNotFound, "Not found")
						return
					}
					writeDetail(w, http.StatusForbidden, "Insufficient role")
					return
				}
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole is Guard with a required role and plain 403 responses.
func RequireRole(v Verifier, role string) func(http.Handler) http.Handler {
	return Guard(v, GuardOptions{RequiredRole: role})
}

// RequireAdmin guards admin routes, hiding them from other roles behind 404.
func RequireAdmin(v Verifier) func(http.Handler) http.Handler {
	return Guard(v, GuardOptions{RequiredRole: "ADMIN", ObscureForbidden: true})
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
