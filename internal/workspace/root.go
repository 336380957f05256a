// Package workspace maps user identifiers to per-user directories of
// markdown documents and serializes every mutation of those documents.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Root is the storage root holding one directory per sanitized user key.
// The set of known users is exactly the set of its subdirectories.
type Root struct {
	dir   string
	clock Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Root backed by dir. The directory is created lazily on the
// first User call.
func New(dir string) *Root {
	return &Root{
		dir:   dir,
		clock: realClock{},
		locks: make(map[string]*sync.Mutex),
	}
}

// NewWithClock returns a Root that stamps documents using clock (for testing).
func NewWithClock(dir string, clock Clock) *Root {
	r := New(dir)
	r.clock = clock
	return r
}

// Dir returns the root directory path.
func (r *Root) Dir() string {
	return r.dir
}

// User sanitizes raw, ensures the user's directory exists and returns a
// handle to it. Repeated calls with the same identifier are equivalent.
func (r *Root) User(raw string) (*User, error) {
	key, err := Sanitize(raw)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(r.dir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating user directory %s: %w", dir, err)
	}
	return &User{
		id:    key,
		dir:   dir,
		mu:    r.lockFor(key),
		clock: r.clock,
	}, nil
}

// UserIDs lists the immediate subdirectories of the root whose names are
// already sanitized user keys. A root that does not exist yet has no users. Callers must not depend on the order.
func (r *Root) UserIDs() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing users in %s: %w", r.dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if key, err := Sanitize(e.Name()); err != nil || key != e.Name() {
			slog.Debug("skipping directory that is not a user key", "dir", e.Name())
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (r *Root) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}
