// Package store defines the persistence boundary for classified items.
package store

import (
	"context"
	"time"

	"github.com/scholarwatch/harvester/internal/harvest"
)

// Store persists relevant items and answers the queries the engine needs to
// deduplicate work and derive incremental crawl windows.
type Store interface {
	// Save stores the item. Saving a duplicate identity key is a no-op, not
	// an error; the bool reports whether a new row was written.
	Save(ctx context.Context, item harvest.ClassifiedItem, sourceName string) (bool, error)

	// Exists reports whether an item with the identity key was stored before.
	Exists(ctx context.Context, identityKey string) (bool, error)

	// LastKnownDate returns the maximum stored published date for the
	// source, or one week before now when the source has no data yet.
	LastKnownDate(ctx context.Context, sourceName string) (time.Time, error)

	// Close releases the underlying resources.
	Close()
}
