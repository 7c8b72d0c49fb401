// Package engine sequences a harvest run: window derivation, crawling,
// deduplication, classification and persistence, one source at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/archive"
	"github.com/scholarwatch/harvester/internal/crawl"
	"github.com/scholarwatch/harvester/internal/dedup"
	"github.com/scholarwatch/harvester/internal/failures"
	"github.com/scholarwatch/harvester/internal/harvest"
	"github.com/scholarwatch/harvester/internal/metrics"
	"github.com/scholarwatch/harvester/internal/store"
)

// Fetcher is the page-fetch boundary the engine hands to crawlers. Close
// must release any browser resources the fetcher acquired.
type Fetcher interface {
	crawl.Fetcher
	Close()
}

// Labeler is the classification boundary.
type Labeler interface {
	Classify(ctx context.Context, items []harvest.CandidateItem) []harvest.ClassifiedItem
}

// Config controls one run of the engine.
type Config struct {
	// Window overrides incremental window derivation when non-nil.
	Window *harvest.CrawlWindow

	// PageDelay is passed through to the crawler.
	PageDelay time.Duration

	// MaxPages bounds pagination per stream.
	MaxPages int

	// ClassifyGrace is how long in-flight classification may keep running
	// after the run context is cancelled.
	ClassifyGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClassifyGrace <= 0 {
		c.ClassifyGrace = 30 * time.Second
	}
	return c
}

// Engine owns the per-run wiring. One Engine handles one run or one retry
// pass; fetchers are created per source and always closed.
type Engine struct {
	store      store.Store
	archive    *archive.Archive
	failures   *failures.Registry
	labeler    Labeler
	adapterFor func(harvest.Source) crawl.SiteAdapter
	newFetcher func(harvest.Source) (Fetcher, error)
	cfg        Config
	logger     *zap.Logger
	clock      harvest.Clock
}

// New builds an Engine. archive may be nil to disable the non-relevant
// archive; failures may be nil to disable the durable failure registry.
func New(
	st store.Store,
	arc *archive.Archive,
	reg *failures.Registry,
	labeler Labeler,
	adapterFor func(harvest.Source) crawl.SiteAdapter,
	newFetcher func(harvest.Source) (Fetcher, error),
	cfg Config,
	logger *zap.Logger,
	clock harvest.Clock,
) *Engine {
	return &Engine{
		store:      st,
		archive:    arc,
		failures:   reg,
		labeler:    labeler,
		adapterFor: adapterFor,
		newFetcher: newFetcher,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		clock:      clock,
	}
}

// Run harvests every source in order. A failing source is recorded and never
// aborts the others; the report covers all of them. Cancellation stops new
// fetches immediately and gives in-flight classification a bounded grace
// period before it too is cut off.
func (e *Engine) Run(ctx context.Context, sources []harvest.Source) *RunReport {
	report := NewRunReport(e.clock.Now())
	for _, source := range sources {
		if ctx.Err() != nil {
			e.logger.Warn("run cancelled, skipping remaining sources",
				zap.String("next", source.Name),
			)
			break
		}
		sr := e.harvestSource(ctx, source)
		report.Add(sr)
	}
	report.Finish(e.clock.Now())
	return report
}

// RetryFailed re-harvests every source in the failure registry. The caller
// supplies the full source set so registry entries can be resolved back to
// their listing URLs; entries with no matching source are dropped.
func (e *Engine) RetryFailed(ctx context.Context, sources []harvest.Source) (*RunReport, error) {
	if e.failures == nil {
		return nil, fmt.Errorf("no failure registry configured")
	}
	records, err := e.failures.List()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]harvest.Source, len(sources))
	for _, s := range sources {
		byName[s.Name] = s
	}

	report := NewRunReport(e.clock.Now())
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		source, ok := byName[rec.SourceName]
		if !ok {
			e.logger.Warn("failed source no longer configured, dropping record",
				zap.String("source", rec.SourceName),
			)
			if err := e.failures.RemoveOnSuccess(rec.SourceName); err != nil {
				e.logger.Error("drop stale failure record", zap.Error(err))
			}
			continue
		}
		if err := e.failures.TouchRetry(rec.SourceName); err != nil {
			e.logger.Error("record retry attempt", zap.String("source", rec.SourceName), zap.Error(err))
		}

		sr := e.harvestSource(ctx, source)
		report.Add(sr)
		if sr.Err == "" && sr.Candidates > 0 {
			if err := e.failures.RemoveOnSuccess(rec.SourceName); err != nil {
				e.logger.Error("remove recovered source", zap.String("source", rec.SourceName), zap.Error(err))
			}
		}
	}
	report.Finish(e.clock.Now())
	return report, nil
}

func (e *Engine) harvestSource(ctx context.Context, source harvest.Source) SourceReport {
	started := e.clock.Now()
	sr := SourceReport{Source: source.Name}
	defer func() { sr.Duration = e.clock.Now().Sub(started) }()

	window := e.windowFor(ctx, source)
	sr.Window = window.String()
	e.logger.Info("harvesting source",
		zap.String("source", source.Name),
		zap.String("window", window.String()),
	)

	fetcher, err := e.newFetcher(source)
	if err != nil {
		sr.Err = err.Error()
		e.recordFailure(source, err)
		return sr
	}
	defer fetcher.Close()

	crawler := crawl.New(fetcher, e.adapterFor(source), crawl.Config{
		PageDelay: e.cfg.PageDelay,
		MaxPages:  e.cfg.MaxPages,
	}, e.logger)

	candidates, err := crawler.Crawl(ctx, source, window)
	if err != nil {
		sr.Err = err.Error()
		e.recordFailure(source, err)
		return sr
	}
	sr.Candidates = len(candidates)

	fresh := e.filterNew(ctx, candidates)
	sr.New = len(fresh)
	if len(fresh) == 0 {
		e.logger.Info("no new items", zap.String("source", source.Name))
		return sr
	}

	// Classification holds completed network work; let it finish even when
	// the run is being shut down, up to the grace budget. Persisting the
	// verdicts shares that budget so graced results are not lost to the
	// already-dead run context.
	classifyCtx, cancel := graceContext(ctx, e.cfg.ClassifyGrace)
	defer cancel()
	classified := e.labeler.Classify(classifyCtx, fresh)

	for _, item := range classified {
		if item.Relevant {
			sr.Relevant++
			inserted, err := e.store.Save(classifyCtx, item, source.Name)
			if err != nil {
				e.logger.Error("save item",
					zap.String("source", source.Name),
					zap.String("identity", item.IdentityKey()),
					zap.Error(err),
				)
				sr.SaveErrors++
				continue
			}
			if inserted {
				sr.Saved++
				metrics.ItemsSaved.Inc()
			} else {
				metrics.DuplicatesSkipped.Inc()
			}
			continue
		}

		sr.Archived++
		if e.archive != nil {
			if err := e.archive.Append(item); err != nil {
				e.logger.Error("archive item",
					zap.String("identity", item.IdentityKey()),
					zap.Error(err),
				)
			}
		}
	}

	e.logger.Info("source complete",
		zap.String("source", source.Name),
		zap.Int("candidates", sr.Candidates),
		zap.Int("new", sr.New),
		zap.Int("saved", sr.Saved),
		zap.Int("archived", sr.Archived),
	)
	return sr
}

// windowFor derives the incremental window for a source: explicit override,
// else last stored date through today, else the one-week default.
func (e *Engine) windowFor(ctx context.Context, source harvest.Source) harvest.CrawlWindow {
	if e.cfg.Window != nil {
		return *e.cfg.Window
	}
	now := e.clock.Now()
	last, err := e.store.LastKnownDate(ctx, source.Name)
	if err != nil {
		e.logger.Warn("last known date lookup failed, using default window",
			zap.String("source", source.Name),
			zap.Error(err),
		)
		return harvest.DefaultWindow(now)
	}
	window, err := harvest.NewCrawlWindow(last, now)
	if err != nil {
		return harvest.DefaultWindow(now)
	}
	return window
}

// filterNew drops items already stored, already archived as non-relevant, or
// already seen earlier in this run.
func (e *Engine) filterNew(ctx context.Context, candidates []harvest.CandidateItem) []harvest.CandidateItem {
	dd := dedup.New(e.store)
	fresh := make([]harvest.CandidateItem, 0, len(candidates))
	for _, item := range candidates {
		key := item.IdentityKey()
		if e.archive != nil && e.archive.Contains(key) {
			metrics.DuplicatesSkipped.Inc()
			continue
		}
		isNew, err := dd.IsNew(ctx, key)
		if err != nil {
			// Classify anyway; the store's unique constraint still holds.
			e.logger.Warn("existence check failed, classifying anyway",
				zap.String("identity", key),
				zap.Error(err),
			)
			isNew = true
		}
		if !isNew {
			metrics.DuplicatesSkipped.Inc()
			continue
		}
		dd.MarkSeen(key)
		fresh = append(fresh, item)
	}
	return fresh
}

func (e *Engine) recordFailure(source harvest.Source, err error) {
	e.logger.Error("source failed",
		zap.String("source", source.Name),
		zap.Error(err),
	)
	if e.failures == nil {
		return
	}
	// An operator interrupt is not a source failure; recording it would
	// send the retry pass after perfectly healthy sources.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if regErr := e.failures.Record(source.Name, source.ListingURL, err.Error()); regErr != nil {
		e.logger.Error("record failure", zap.String("source", source.Name), zap.Error(regErr))
	}
}

// graceContext returns a context that outlives parent's cancellation by
// grace, then cancels.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
