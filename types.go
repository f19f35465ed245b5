package portalauth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Portal names one UI surface. Each portal keeps its own credential slots.
type Portal string

const (
	PortalAdmin      Portal = "admin"
	PortalClient     Portal = "client"
	PortalContractor Portal = "contractor"
	PortalExpert     Portal = "expert"
)

// CredentialKind reports which credential Token currently returns.
type CredentialKind uint8

const (
	CredentialNone CredentialKind = iota
	CredentialStatic
	CredentialRefreshable
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialStatic:
		return "static"
	case CredentialRefreshable:
		return "refreshable"
	default:
		return "none"
	}
}

// Role is the upper-cased role claim of an access token, or UnknownRole.
//
// The zero value is UnknownRole. Callers branch on Known instead of
// comparing strings with "".
type Role struct {
	name string
}

// UnknownRole is returned for missing, malformed or non-string role claims.
var UnknownRole = Role{}

var (
	RoleAdmin         = NewRole("ADMIN")
	RoleClient        = NewRole("CLIENT")
	RoleSubcontractor = NewRole("SUBCONTRACTOR")
	RoleExpert        = NewRole("EXPERT")
)

// NewRole normalizes name into a Role. Blank names yield UnknownRole.
func NewRole(name string) Role {
	return Role{name: strings.ToUpper(strings.TrimSpace(name))}
}

// Known reports whether r carries a role.
func (r Role) Known() bool { return r.name != "" }

// String returns the role name, or "" for UnknownRole.
func (r Role) String() string { return r.name }

// Satisfies reports whether r meets required. Any role satisfies
// UnknownRole; an unknown r satisfies nothing else.
func (r Role) Satisfies(required Role) bool {
	if !required.Known() {
		return true
	}
	return r.Known() && r.name == required.name
}

// NavReason tells a Navigator why the sign-in surface is shown.
type NavReason uint8

const (
	NavLogout NavReason = iota + 1
	NavNoSession
	NavSessionExpired
	NavRoleMismatch
)

func (r NavReason) String() string {
	switch r {
	case NavLogout:
		return "logout"
	case NavNoSession:
		return "no_session"
	case NavSessionExpired:
		return "session_expired"
	case NavRoleMismatch:
		return "role_mismatch"
	default:
		return "unknown"
	}
}

// SignInTarget describes where the user is sent to authenticate again.
type SignInTarget struct {
	Portal Portal
	Path   string
	Reason NavReason
}

// Navigator moves the user to a sign-in surface.
type Navigator interface {
	Navigate(ctx context.Context, target SignInTarget)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target SignInTarget)

func (f NavigatorFunc) Navigate(ctx context.Context, target SignInTarget) { f(ctx, target) }

// Prompter asks a static-token user to enter a new token. It replaces
// navigation when a 401 arrives without a refreshable session.
type Prompter interface {
	PromptToken(ctx context.Context, portal Portal)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, portal Portal)

func (f PrompterFunc) PromptToken(ctx context.Context, portal Portal) { f(ctx, portal) }

type noopNavigator struct{}

func (noopNavigator) Navigate(context.Context, SignInTarget) {}

type noopPrompter struct{}

func (noopPrompter) PromptToken(context.Context, Portal) {}

// RequestOptions configures one Gateway.Request call.
//
// Body may be nil, a string, a []byte or an io.Reader. Any other value is
// encoded as JSON. String, []byte and encoded bodies default to a JSON
// Content-Type when Header does not set one.
type RequestOptions struct {
	Method  string
	Header  http.Header
	Body    any
	Timeout time.Duration

	// RequiredRole marks an elevated namespace. A 403 while the session
	// role does not satisfy it runs EnsureRoleOrLogout.
	RequiredRole Role
}
