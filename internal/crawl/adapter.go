// Package crawl drives date-windowed pagination over a source's listing
// streams, delegating page structure to a SiteAdapter.
package crawl

import (
	"context"

	"github.com/scholarwatch/harvester/internal/harvest"
)

// Stream is one logical listing sequence within a source, e.g. a distinct
// article category. Pages of a stream are assumed reverse-chronological.
type Stream struct {
	Name     string
	StartURL string
}

// PageResult is what a SiteAdapter extracts from a single listing page.
// NextPage is empty when the stream is exhausted.
type PageResult struct {
	Items    []harvest.CandidateItem
	NextPage string
}

// SiteAdapter encapsulates all source-specific page structure. The crawl
// engine never branches on source identity; each source supplies an adapter.
type SiteAdapter interface {
	// Streams returns the listing streams to paginate for the source.
	Streams(source harvest.Source) []Stream

	// ParsePage extracts candidate items and the next-page locator from a
	// raw listing page body.
	ParsePage(body []byte, pageURL string) (PageResult, error)
}

// Fetcher is the fetch client surface the crawler depends on.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
