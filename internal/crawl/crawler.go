package crawl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/fetch"
	"github.com/scholarwatch/harvester/internal/harvest"
	"github.com/scholarwatch/harvester/internal/metrics"
)

// relaxedLimit caps the number of items the nearest-match fallback returns.
const relaxedLimit = 2

// Config controls Crawler pacing.
type Config struct {
	PageDelay time.Duration
	MaxPages  int
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	return c
}

// Crawler paginates one source's listing streams across a date window.
type Crawler struct {
	fetcher Fetcher
	adapter SiteAdapter
	cfg     Config
	logger  *zap.Logger
}

// New builds a Crawler over the given fetcher and adapter.
func New(fetcher Fetcher, adapter SiteAdapter, cfg Config, logger *zap.Logger) *Crawler {
	return &Crawler{
		fetcher: fetcher,
		adapter: adapter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Crawl walks every listing stream of the source, returning the items whose
// dates fall inside the window. When the strict window matches nothing but
// the streams were non-empty, it falls back to the items nearest the window
// midpoint. A non-recoverable fetch failure on a stream's first page is
// escalated as a source-level failure; later pages degrade gracefully.
func (c *Crawler) Crawl(ctx context.Context, source harvest.Source, window harvest.CrawlWindow) ([]harvest.CandidateItem, error) {
	var (
		strict  []harvest.CandidateItem
		scanned []harvest.CandidateItem
	)
	seen := make(map[string]struct{})

	for _, stream := range c.adapter.Streams(source) {
		items, scannedItems, err := c.crawlStream(ctx, source, stream, window, seen)
		if err != nil {
			return nil, err
		}
		strict = append(strict, items...)
		scanned = append(scanned, scannedItems...)
	}

	if len(strict) == 0 && len(scanned) > 0 {
		relaxed := nearestToMidpoint(scanned, window)
		c.logger.Info("strict window empty, using relaxed fallback",
			zap.String("source", source.Name),
			zap.String("window", window.String()),
			zap.Int("items", len(relaxed)),
		)
		return relaxed, nil
	}
	return strict, nil
}

func (c *Crawler) crawlStream(
	ctx context.Context,
	source harvest.Source,
	stream Stream,
	window harvest.CrawlWindow,
	seen map[string]struct{},
) (strict, scanned []harvest.CandidateItem, err error) {
	pageURL := stream.StartURL
	firstPage := true
	pages := 0

	for pageURL != "" && pages < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return strict, scanned, err
		}
		if !firstPage && c.cfg.PageDelay > 0 {
			if err := sleepCtx(ctx, c.cfg.PageDelay); err != nil {
				return strict, scanned, err
			}
		}

		body, fetchErr := c.fetcher.Fetch(ctx, pageURL)
		if fetchErr != nil {
			if firstPage && fetch.NonRecoverable(fetchErr) {
				return nil, nil, fmt.Errorf("stream %s first page: %w", stream.Name, fetchErr)
			}
			c.logger.Warn("page fetch failed, keeping accumulated items",
				zap.String("source", source.Name),
				zap.String("stream", stream.Name),
				zap.String("url", pageURL),
				zap.Error(fetchErr),
			)
			return strict, scanned, nil
		}
		pages++

		result, parseErr := c.adapter.ParsePage(body, pageURL)
		if parseErr != nil {
			// Zero items is not a failure; skip the page. Without a
			// locator the stream simply ends here.
			c.logger.Warn("page parse failed, skipping page",
				zap.String("source", source.Name),
				zap.String("url", pageURL),
				zap.Error(parseErr),
			)
			pageURL = result.NextPage
			firstPage = false
			continue
		}

		stop := false
		var lastDate time.Time
		for _, item := range result.Items {
			item.SourceName = source.Name
			metrics.ItemsSeen.Inc()

			if !lastDate.IsZero() && item.PublishedDate.After(lastDate) {
				// Listings are assumed reverse-chronological; an increase
				// means the adapter's assumption does not hold for this
				// source and the stop rule may mis-fire.
				c.logger.Warn("out-of-order listing dates observed",
					zap.String("source", source.Name),
					zap.String("stream", stream.Name),
				)
			}
			lastDate = item.PublishedDate

			key := item.IdentityKey()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			scanned = append(scanned, item)

			switch {
			case window.Before(item.PublishedDate):
				stop = true
			case window.Contains(item.PublishedDate):
				strict = append(strict, item)
			}
		}

		if stop {
			c.logger.Debug("item older than window start, stopping pagination",
				zap.String("source", source.Name),
				zap.String("stream", stream.Name),
			)
			return strict, scanned, nil
		}
		pageURL = result.NextPage
		firstPage = false
	}
	return strict, scanned, nil
}

// nearestToMidpoint selects up to relaxedLimit dated items closest to the
// window's midpoint. This keeps sparse-publication sources from starving the
// pipeline indefinitely when a literal window match never lands.
func nearestToMidpoint(items []harvest.CandidateItem, window harvest.CrawlWindow) []harvest.CandidateItem {
	mid := window.Midpoint()
	dated := make([]harvest.CandidateItem, 0, len(items))
	for _, item := range items {
		if !item.PublishedDate.IsZero() {
			dated = append(dated, item)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return distance(dated[i].PublishedDate, mid) < distance(dated[j].PublishedDate, mid)
	})
	if len(dated) > relaxedLimit {
		dated = dated[:relaxedLimit]
	}
	return dated
}

func distance(t, mid time.Time) time.Duration {
	d := t.Sub(mid)
	if d < 0 {
		return -d
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
