package session

import (
	"context"
	"errors"
	"sort"
)

// ErrNotFound is returned by Load when a slot is empty.
var ErrNotFound = errors.New("session not found")

// ErrBackendUnavailable wraps transport failures of remote backends.
var ErrBackendUnavailable = errors.New("session backend unavailable")

// Backend persists credentials keyed by (portal, kind).
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load returns the stored credential or ErrNotFound.
	Load(ctx context.Context, portal string, kind Kind) (*Session, error)
	// Save replaces the credential in the slot named by s.Portal and s.Kind.
	Save(ctx context.Context, s *Session) error
	// Delete empties one slot. Deleting an empty slot is not an error.
	Delete(ctx context.Context, portal string, kind Kind) error
	// Purge deletes every slot whose portal differs from keep; an empty keep
	// deletes everything. It returns the number of slots removed.
	Purge(ctx context.Context, keep string) (int, error)
	// List returns every stored credential ordered by portal then kind.
	List(ctx context.Context) ([]*Session, error)
}

func sortSessions(out []*Session) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Portal != out[j].Portal {
			return out[i].Portal < out[j].Portal
		}
		return out[i].Kind < out[j].Kind
	})
}
