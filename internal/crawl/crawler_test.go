package crawl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/fetch"
	"github.com/scholarwatch/harvester/internal/harvest"
)

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

// fakeFetcher serves canned bodies by URL and records the order of fetches.
type fakeFetcher struct {
	bodies  map[string][]byte
	errs    map[string]error
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.fetched = append(f.fetched, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, fmt.Errorf("no canned body for %s", url)
	}
	return body, nil
}

// fakeAdapter parses canned page results keyed by page URL.
type fakeAdapter struct {
	streams []Stream
	pages   map[string]PageResult
}

func (a *fakeAdapter) Streams(harvest.Source) []Stream {
	return a.streams
}

func (a *fakeAdapter) ParsePage(_ []byte, pageURL string) (PageResult, error) {
	result, ok := a.pages[pageURL]
	if !ok {
		return PageResult{}, fmt.Errorf("no canned result for %s", pageURL)
	}
	return result, nil
}

func item(name string, published time.Time) harvest.CandidateItem {
	return harvest.CandidateItem{
		Title:         name,
		URL:           "https://example.org/articles/" + name,
		PublishedDate: published,
	}
}

func window(t *testing.T, start, end time.Time) harvest.CrawlWindow {
	t.Helper()
	w, err := harvest.NewCrawlWindow(start, end)
	require.NoError(t, err)
	return w
}

func TestCrawler_StopsWhenItemOlderThanWindow(t *testing.T) {
	t.Parallel()

	// Reverse-chronological pages: [10,9], [8,5], [1]. With a window of
	// the 6th through the 11th the crawler must keep 10, 9 and 8, and must
	// stop at the page containing the 5th without fetching the third page.
	adapter := &fakeAdapter{
		streams: []Stream{{Name: "articles", StartURL: "p1"}},
		pages: map[string]PageResult{
			"p1": {Items: []harvest.CandidateItem{item("a10", day(10)), item("a9", day(9))}, NextPage: "p2"},
			"p2": {Items: []harvest.CandidateItem{item("a8", day(8)), item("a5", day(5))}, NextPage: "p3"},
			"p3": {Items: []harvest.CandidateItem{item("a1", day(1))}},
		},
	}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"p1": []byte("page1"), "p2": []byte("page2"), "p3": []byte("page3"),
	}}

	c := New(fetcher, adapter, Config{}, zap.NewNop())
	items, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(6), day(11)))
	require.NoError(t, err)

	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	assert.ElementsMatch(t, []string{"a10", "a9", "a8"}, titles)
	assert.Equal(t, []string{"p1", "p2"}, fetcher.fetched)
}

func TestCrawler_StampsSourceName(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		streams: []Stream{{Name: "articles", StartURL: "p1"}},
		pages: map[string]PageResult{
			"p1": {Items: []harvest.CandidateItem{item("a10", day(10))}},
		},
	}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"p1": []byte("page1")}}

	c := New(fetcher, adapter, Config{}, zap.NewNop())
	items, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(6), day(11)))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "nature", items[0].SourceName)
}

func TestCrawler_RelaxedFallbackNearestMidpoint(t *testing.T) {
	t.Parallel()

	// Nothing inside the window; fallback picks at most two items closest
	// to the window midpoint (the 21st here).
	adapter := &fakeAdapter{
		streams: []Stream{{Name: "articles", StartURL: "p1"}},
		pages: map[string]PageResult{
			"p1": {Items: []harvest.CandidateItem{
				item("a28", day(28)),
				item("a27", day(27)),
				item("a12", day(12)),
				item("a2", day(2)),
			}},
		},
	}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"p1": []byte("page1")}}

	c := New(fetcher, adapter, Config{}, zap.NewNop())
	items, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(18), day(24)))
	require.NoError(t, err)

	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	assert.Len(t, titles, 2)
	assert.ElementsMatch(t, []string{"a28", "a27"}, titles)
}

func TestCrawler_RelaxedFallbackEmptyStream(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		streams: []Stream{{Name: "articles", StartURL: "p1"}},
		pages:   map[string]PageResult{"p1": {}},
	}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"p1": []byte("page1")}}

	c := New(fetcher, adapter, Config{}, zap.NewNop())
	items, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(6), day(11)))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCrawler_FirstPageFailureEscalates(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		streams: []Stream{{Name: "articles", StartURL: "p1"}},
		pages:   map[string]PageResult{},
	}
	fetcher := &fakeFetcher{errs: map[string]error{
		"p1": fmt.Errorf("%w: p1", fetch.ErrForbidden),
	}}

	c := New(fetcher, adapter, Config{}, zap.NewNop())
	_, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(6), day(11)))
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrForbidden)
}

func TestCrawler_LaterPageFailureDegradesGracefully(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		streams: []Stream{{Name: "articles", StartURL: "p1"}},
		pages: map[string]PageResult{
			"p1": {Items: []harvest.CandidateItem{item("a10", day(10))}, NextPage: "p2"},
		},
	}
	fetcher := &fakeFetcher{
		bodies: map[string][]byte{"p1": []byte("page1")},
		errs:   map[string]error{"p2": fmt.Errorf("%w: p2", fetch.ErrExhausted)},
	}

	c := New(fetcher, adapter, Config{}, zap.NewNop())
	items, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(6), day(11)))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a10", items[0].Title)
}

func TestCrawler_DeduplicatesAcrossStreams(t *testing.T) {
	t.Parallel()

	shared := item("a10", day(10))
	adapter := &fakeAdapter{
		streams: []Stream{
			{Name: "research", StartURL: "p1"},
			{Name: "news", StartURL: "p2"},
		},
		pages: map[string]PageResult{
			"p1": {Items: []harvest.CandidateItem{shared}},
			"p2": {Items: []harvest.CandidateItem{shared, item("a9", day(9))}},
		},
	}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"p1": []byte("page1"), "p2": []byte("page2"),
	}}

	c := New(fetcher, adapter, Config{}, zap.NewNop())
	items, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(6), day(11)))
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCrawler_MaxPagesBoundsPagination(t *testing.T) {
	t.Parallel()

	// Page loops back to itself; MaxPages must end the stream. The item
	// repeats, so the run-scoped dedupe also keeps the output to one.
	adapter := &fakeAdapter{
		streams: []Stream{{Name: "articles", StartURL: "p1"}},
		pages: map[string]PageResult{
			"p1": {Items: []harvest.CandidateItem{item("a10", day(10))}, NextPage: "p1"},
		},
	}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"p1": []byte("page1")}}

	c := New(fetcher, adapter, Config{MaxPages: 3}, zap.NewNop())
	items, err := c.Crawl(context.Background(), harvest.Source{Name: "nature"}, window(t, day(6), day(11)))
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Len(t, fetcher.fetched, 3)
}
