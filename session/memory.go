package session

import (
	"context"
	"errors"
	"sync"
)

type slotKey struct {
	portal string
	kind   Kind
}

// MemoryBackend keeps credentials in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	slots map[slotKey]*Session
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[slotKey]*Session)}
}

func (m *MemoryBackend) Load(_ context.Context, portal string, kind Kind) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.slots[slotKey{portal, kind}]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, s *Session) error {
	if s == nil || s.Portal == "" || !s.Kind.Valid() {
		return errors.New("invalid session slot")
	}

	m.mu.Lock()
	m.slots[slotKey{s.Portal, s.Kind}] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, portal string, kind Kind) error {
	m.mu.Lock()
	delete(m.slots, slotKey{portal, kind})
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Purge(_ context.Context, keep string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k := range m.slots {
		if keep == "" || k.portal != keep {
			delete(m.slots, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	sortSessions(out)
	return out, nil
}
