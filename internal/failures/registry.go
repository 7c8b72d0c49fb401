// Package failures keeps a durable record of sources that failed with a
// non-recoverable fetch error so a later pass can retry them with a longer
// timeout budget.
package failures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scholarwatch/harvester/internal/harvest"
)

// Registry is a file-backed list of FailureRecords keyed by source name. The
// file survives process restarts; its format is JSON, one array.
type Registry struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewRegistry opens (or will create) the registry file at path.
func NewRegistry(path string) (*Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("failure registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Registry{path: path, now: time.Now}, nil
}

// Record upserts a failure for the source. An existing record keeps its
// FirstFailedAt and gains an updated reason.
func (r *Registry) Record(sourceName, url, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}
	now := r.now().UTC()
	for i := range records {
		if records[i].SourceName == sourceName {
			records[i].URL = url
			records[i].Reason = reason
			return r.save(records)
		}
	}
	records = append(records, harvest.FailureRecord{
		SourceName:    sourceName,
		URL:           url,
		Reason:        reason,
		FirstFailedAt: now,
	})
	return r.save(records)
}

// List returns all failure records.
func (r *Registry) List() ([]harvest.FailureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// RemoveOnSuccess deletes the record for a source whose retry succeeded.
func (r *Registry) RemoveOnSuccess(sourceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.SourceName != sourceName {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return r.save(kept)
}

// TouchRetry increments the retry counter for a source whose retry attempt
// ran, regardless of its outcome.
func (r *Registry) TouchRetry(sourceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].SourceName == sourceName {
			records[i].RetryCount++
			records[i].LastRetryAt = r.now().UTC()
			return r.save(records)
		}
	}
	return nil
}

func (r *Registry) load() ([]harvest.FailureRecord, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failure registry: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []harvest.FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode failure registry: %w", err)
	}
	return records, nil
}

// save writes through a temp file and renames so a crash mid-write never
// truncates the registry.
func (r *Registry) save(records []harvest.FailureRecord) error {
	if records == nil {
		records = []harvest.FailureRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write failure registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace failure registry: %w", err)
	}
	return nil
}
