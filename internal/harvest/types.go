// Package harvest defines the core types shared across the harvesting pipeline.
package harvest

import (
	"fmt"
	"time"
)

// Source is one external content origin being crawled, typically a journal or
// sub-journal listing page. Sources are immutable for the duration of a run.
type Source struct {
	Name       string
	ListingURL string

	// BrowserFallback permits the headless-browser fetch strategy for this
	// source. Sources that never trip anti-automation defenses can opt out.
	BrowserFallback bool
}

// CrawlWindow is the inclusive date range an incremental crawl is scoped to.
// Both bounds are date-granular; time-of-day components are truncated.
type CrawlWindow struct {
	Start time.Time
	End   time.Time
}

// NewCrawlWindow builds a window from the given bounds, truncated to whole
// days. It fails when start is after end.
func NewCrawlWindow(start, end time.Time) (CrawlWindow, error) {
	start = Day(start)
	end = Day(end)
	if start.After(end) {
		return CrawlWindow{}, fmt.Errorf("crawl window start %s after end %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return CrawlWindow{Start: start, End: end}, nil
}

// DefaultWindow returns the fallback window used when a source has no prior
// data: one week ending now.
func DefaultWindow(now time.Time) CrawlWindow {
	end := Day(now)
	return CrawlWindow{Start: end.AddDate(0, 0, -7), End: end}
}

// Contains reports whether t falls inside the window, inclusive on both ends.
func (w CrawlWindow) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

// Before reports whether t is strictly older than the window start. This is
// the pagination stop signal for reverse-chronological listings.
func (w CrawlWindow) Before(t time.Time) bool {
	return Day(t).Before(w.Start)
}

// Midpoint returns the center of the window, used by the relaxed
// nearest-match fallback.
func (w CrawlWindow) Midpoint() time.Time {
	return w.Start.Add(w.End.Sub(w.Start) / 2)
}

func (w CrawlWindow) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

// Day truncates t to date granularity in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CandidateItem is a single extracted listing entry awaiting classification.
// It is mutable only during extraction; once queued for classification the
// pipeline treats it as immutable.
type CandidateItem struct {
	Title         string
	Abstract      string
	DOI           string
	URL           string
	Authors       string
	PublishedDate time.Time
	SourceName    string
}

// IdentityKey is the deduplication key for an item: the DOI when present,
// otherwise the item URL.
func (i CandidateItem) IdentityKey() string {
	if i.DOI != "" {
		return i.DOI
	}
	return i.URL
}

// Vote is a single relevance judgment from one classification pass.
type Vote struct {
	IdentityKey string
	Relevant    bool
	Explanation string
}

// ClassifiedItem is a candidate item in its terminal state, carrying the
// arbitrated relevance verdict and its reason.
type ClassifiedItem struct {
	CandidateItem
	Relevant bool
	Reason   string
}

// FailureRecord describes a source that failed with a non-recoverable fetch
// error, kept durable across process restarts for later retry passes.
type FailureRecord struct {
	SourceName    string    `json:"source_name"`
	URL           string    `json:"url"`
	Reason        string    `json:"reason"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	RetryCount    int       `json:"retry_count"`
	LastRetryAt   time.Time `json:"last_retry_at,omitzero"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
