// Package archive is the append-only store for non-relevant items, used to
// avoid re-flagging the same item across runs.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/scholarwatch/harvester/internal/harvest"
)

// Record is one archived non-relevant item, keyed by identity.
type Record struct {
	IdentityKey string    `json:"identity_key"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Reason      string    `json:"reason,omitempty"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// Archive appends records as JSON lines and answers membership queries from
// an in-memory index loaded at open time. Entries with the same identity key
// are merged, keeping the most recent.
type Archive struct {
	mu    sync.Mutex
	path  string
	index map[string]Record
	now   func() time.Time
}

// Open loads the archive at path, creating parent directories as needed.
func Open(path string) (*Archive, error) {
	if path == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	a := &Archive{
		path:  path,
		index: make(map[string]Record),
		now:   time.Now,
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

// Append records the item as non-relevant. Re-archiving the same identity
// updates the in-memory index but still appends, keeping the file append-only.
func (a *Archive) Append(item harvest.ClassifiedItem) error {
	key := item.IdentityKey()
	if key == "" {
		return nil
	}
	rec := Record{
		IdentityKey: key,
		Title:       item.Title,
		URL:         item.URL,
		Reason:      item.Reason,
		ArchivedAt:  a.now().UTC(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode archive record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append archive record: %w", err)
	}
	a.index[key] = rec
	return nil
}

// Contains reports whether the identity key was archived before.
func (a *Archive) Contains(identityKey string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.index[identityKey]
	return ok
}

// Records returns the merged archive contents, most recent first.
func (a *Archive) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, 0, len(a.index))
	for _, rec := range a.index {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ArchivedAt.After(out[j].ArchivedAt)
	})
	return out
}

func (a *Archive) load() error {
	f, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn trailing line from a crashed run is not fatal.
			continue
		}
		existing, ok := a.index[rec.IdentityKey]
		if !ok || rec.ArchivedAt.After(existing.ArchivedAt) {
			a.index[rec.IdentityKey] = rec
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}
	return nil
}
