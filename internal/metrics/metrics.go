// Package metrics exposes the harvester's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsSeen counts candidate items extracted from listing pages.
	ItemsSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_items_seen_total",
		Help: "The total number of candidate items extracted from listings.",
	})
	// ItemsSaved counts relevant items handed to the persistence layer.
	ItemsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_items_saved_total",
		Help: "The total number of relevant items stored.",
	})
	// DuplicatesSkipped counts items dropped by the deduplicator.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_duplicates_skipped_total",
		Help: "The total number of items skipped as already processed.",
	})
	// FetchRetries counts plain HTTP attempts beyond the first.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_retries_total",
		Help: "The total number of retried HTTP fetch attempts.",
	})
	// RateLimitHits counts 429 responses observed by the fetch client.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limit_hits_total",
		Help: "The total number of times the fetch client was rate limited.",
	})
	// ForbiddenHits counts 403 responses observed by the fetch client.
	ForbiddenHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_forbidden_hits_total",
		Help: "The total number of forbidden responses received.",
	})
	// BrowserFallbacks counts fetches promoted to the headless browser.
	BrowserFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_browser_fallbacks_total",
		Help: "The total number of fetches that fell back to the browser.",
	})
	// Adjudications counts third-vote classification calls.
	Adjudications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_classify_adjudications_total",
		Help: "The total number of single-item adjudication calls.",
	})
	// ClassificationFailures counts items with a missing vote in either pass.
	ClassificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_classify_failures_total",
		Help: "The total number of items flagged as classification failed.",
	})
)
