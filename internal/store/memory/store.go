// Package memory provides an in-memory Store for tests and DB-less runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/scholarwatch/harvester/internal/harvest"
)

// Store keeps classified items in a map keyed by identity. It mirrors the
// Postgres store's semantics: duplicate saves are no-ops, and the last known
// date defaults to one week before now for unseen sources.
type Store struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

type entry struct {
	item   harvest.ClassifiedItem
	source string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// Save stores the item unless its identity key was saved before.
func (s *Store) Save(_ context.Context, item harvest.ClassifiedItem, sourceName string) (bool, error) {
	key := item.IdentityKey()
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	s.items[key] = entry{item: item, source: sourceName}
	return true, nil
}

// Exists reports whether the identity key was saved before.
func (s *Store) Exists(_ context.Context, identityKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[identityKey]
	return ok, nil
}

// LastKnownDate returns the maximum stored date for the source, or one week
// before now when the source has no items.
func (s *Store) LastKnownDate(_ context.Context, sourceName string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, e := range s.items {
		if e.source == sourceName && e.item.PublishedDate.After(last) {
			last = e.item.PublishedDate
		}
	}
	if last.IsZero() {
		return harvest.Day(s.now()).AddDate(0, 0, -7), nil
	}
	return harvest.Day(last), nil
}

// Close is a no-op.
func (s *Store) Close() {}

// Len reports the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
