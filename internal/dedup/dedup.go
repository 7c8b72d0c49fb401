// Package dedup filters out items that were already processed, either earlier
// in the current run or in a previous run recorded by the persistence layer.
package dedup

import (
	"context"
	"fmt"
	"sync"
)

// ExistenceChecker is the storage-boundary lookup by identity key.
type ExistenceChecker interface {
	Exists(ctx context.Context, identityKey string) (bool, error)
}

// Deduplicator combines an in-run set with a storage existence check. It does
// not replace the storage layer's own uniqueness constraint; both layers
// enforce the invariant independently.
type Deduplicator struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	store ExistenceChecker
}

// New builds a Deduplicator scoped to one run. store may be nil when no
// persistence layer is configured.
func New(store ExistenceChecker) *Deduplicator {
	return &Deduplicator{
		seen:  make(map[string]struct{}),
		store: store,
	}
}

// IsNew reports whether the identity key has not been seen in this run nor
// stored previously. A storage lookup error is surfaced so the caller can
// decide whether to classify anyway.
func (d *Deduplicator) IsNew(ctx context.Context, identityKey string) (bool, error) {
	if identityKey == "" {
		return false, nil
	}
	d.mu.Lock()
	_, inRun := d.seen[identityKey]
	d.mu.Unlock()
	if inRun {
		return false, nil
	}
	if d.store == nil {
		return true, nil
	}
	exists, err := d.store.Exists(ctx, identityKey)
	if err != nil {
		return false, fmt.Errorf("existence check for %s: %w", identityKey, err)
	}
	return !exists, nil
}

// MarkSeen records the identity key for the remainder of the run.
func (d *Deduplicator) MarkSeen(identityKey string) {
	if identityKey == "" {
		return
	}
	d.mu.Lock()
	d.seen[identityKey] = struct{}{}
	d.mu.Unlock()
}
