package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileSuffix = ".sess"

// FileBackend stores each slot as "<portal>.<kind>.sess" under a directory
// readable only by the current user.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates dir (0700) when missing.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(portal string, kind Kind) (string, error) {
	if portal == "" || strings.ContainsAny(portal, `/\.`) {
		return "", fmt.Errorf("invalid portal name %q", portal)
	}
	return filepath.Join(f.dir, portal+"."+kind.String()+fileSuffix), nil
}

func (f *FileBackend) Load(_ context.Context, portal string, kind Kind) (*Session, error) {
	p, err := f.path(portal, kind)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	data, err := os.ReadFile(p)
	f.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return Decode(data)
}

func (f *FileBackend) Save(_ context.Context, s *Session) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	p, err := f.path(s.Portal, s.Kind)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (f *FileBackend) Delete(_ context.Context, portal string, kind Kind) error {
	p, err := f.path(portal, kind)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (f *FileBackend) Purge(_ context.Context, keep string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		if keep != "" && strings.HasPrefix(name, keep+".") {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		removed++
	}
	return removed, nil
}

func (f *FileBackend) List(_ context.Context) ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		s, err := Decode(data)
		if err != nil {
			continue
		}
		out = append(out, s)
	}

	sortSessions(out)
	return out, nil
}
