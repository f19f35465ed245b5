package flows

import (
	"context"

	"github.com/vejapro/portalauth/session"
)

// LogoutBackend is the persistence surface logout and portal switching need.
type LogoutBackend interface {
	Purge(ctx context.Context, keep string) (int, error)
	Delete(ctx context.Context, portal string, kind session.Kind) error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Backend LogoutBackend
}

// LogoutResult reports how many persisted slots were removed.
type LogoutResult struct {
	Removed int
	Err     error
}

// RunLogout removes every persisted credential of every portal.
func RunLogout(ctx context.Context, deps LogoutDeps) LogoutResult {
	n, err := deps.Backend.Purge(ctx, "")
	return LogoutResult{Removed: n, Err: err}
}

// RunSwitchPortal removes every persisted credential outside keep.
func RunSwitchPortal(ctx context.Context, keep string, deps LogoutDeps) LogoutResult {
	n, err := deps.Backend.Purge(ctx, keep)
	return LogoutResult{Removed: n, Err: err}
}

// RunDestroy removes one slot of portal.
func RunDestroy(ctx context.Context, portal string, kind session.Kind, deps LogoutDeps) error {
	return deps.Backend.Delete(ctx, portal, kind)
}
