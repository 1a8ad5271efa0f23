// Package memory is an in-process lease.Store for tests and single-node runs.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	owner   string
	expires time.Time
}

// Store keeps leases in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[string]entry), Now: time.Now}
}

func (s *Store) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !s.Now().Before(e.expires) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.live(key); held {
		return false, nil
	}
	s.entries[key] = entry{owner: owner, expires: s.Now().Add(ttl)}
	return true, nil
}

func (s *Store) Renew(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, held := s.live(key)
	if !held || e.owner != owner {
		return false, nil
	}
	e.expires = s.Now().Add(ttl)
	s.entries[key] = e
	return true, nil
}

func (s *Store) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.owner == owner {
		delete(s.entries, key)
	}
	return nil
}

func (s *Store) Holder(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.live(key)
	return e.owner, nil
}

func (s *Store) Count(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, held := s.live(key); held {
			n++
		}
	}
	return n, nil
}

// Steal hands key to another owner, as if a second process took over an
// expired lease.
func (s *Store) Steal(key, owner string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{owner: owner, expires: s.Now().Add(ttl)}
}
