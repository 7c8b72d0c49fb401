package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/archive"
	"github.com/scholarwatch/harvester/internal/classify"
	"github.com/scholarwatch/harvester/internal/clock/system"
	"github.com/scholarwatch/harvester/internal/config"
	"github.com/scholarwatch/harvester/internal/crawl"
	"github.com/scholarwatch/harvester/internal/crawl/adapters"
	"github.com/scholarwatch/harvester/internal/engine"
	"github.com/scholarwatch/harvester/internal/failures"
	"github.com/scholarwatch/harvester/internal/fetch"
	"github.com/scholarwatch/harvester/internal/harvest"
	"github.com/scholarwatch/harvester/internal/logging"
	"github.com/scholarwatch/harvester/internal/sourcelist"
	"github.com/scholarwatch/harvester/internal/store"
	"github.com/scholarwatch/harvester/internal/store/memory"
	"github.com/scholarwatch/harvester/internal/store/postgres"
)

// app bundles the long-lived services shared by the subcommands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    store.Store
	archive  *archive.Archive
	failures *failures.Registry
	clock    *system.Clock
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	arc, err := archive.Open(cfg.Paths.Archive)
	if err != nil {
		st.Close()
		return nil, err
	}

	reg, err := failures.NewRegistry(cfg.Paths.FailureRegistry)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		archive:  arc,
		failures: reg,
		clock:    system.New(),
	}, nil
}

func openStore(cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using in-memory store")
		return memory.New(), nil
	}
	st, err := postgres.New(context.Background(), postgres.Config{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return st, nil
}

// Close shuts the shared services down.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// loadSources resolves the configured source list, optionally restricted to
// one named source.
func (a *app) loadSources(ctx context.Context, only string) ([]harvest.Source, error) {
	loader := sourcelist.New(nil, a.cfg.Paths.SourceList, a.logger)
	sources, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if only == "" {
		return sources, nil
	}
	for _, s := range sources {
		if s.Name == only {
			return []harvest.Source{s}, nil
		}
	}
	return nil, fmt.Errorf("source %q not in source list", only)
}

// newLabeler builds the consensus classification engine over the configured
// chat-completions endpoint.
func (a *app) newLabeler() (engine.Labeler, error) {
	client, err := classify.NewOpenAIClassifier(classify.OpenAIConfig{
		BaseURL:     a.cfg.OpenAI.BaseURL,
		APIKey:      a.cfg.OpenAI.APIKey,
		Model:       a.cfg.OpenAI.Model,
		Topic:       a.cfg.Classify.Topic,
		Timeout:     time.Duration(a.cfg.OpenAI.TimeoutSeconds) * time.Second,
		Temperature: a.cfg.OpenAI.Temperature,
		MaxTokens:   a.cfg.OpenAI.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init classifier: %w", err)
	}
	return classify.NewConsensus(client, classify.Config{
		BatchSize:    a.cfg.Classify.BatchSize,
		Workers:      a.cfg.Classify.Workers,
		PassDelayMin: time.Duration(a.cfg.Classify.PassDelayMinMs) * time.Millisecond,
		PassDelayMax: time.Duration(a.cfg.Classify.PassDelayMaxMs) * time.Millisecond,
	}, a.logger.Named("classify")), nil
}

// fetcherFactory builds one fetch client per source with the given budgets.
// The browser fallback runs only when both the global switch and the
// source's own browser_fallback flag allow it.
func (a *app) fetcherFactory(timeout, browserWait time.Duration) func(harvest.Source) (engine.Fetcher, error) {
	cfg := fetch.Config{
		MaxAttempts:      a.cfg.Fetch.MaxAttempts,
		Timeout:          timeout,
		MinBodyBytes:     a.cfg.Fetch.MinBodyBytes,
		BackoffBase:      time.Duration(a.cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		BackoffMax:       time.Duration(a.cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		RateLimitBackoff: time.Duration(a.cfg.Fetch.RateLimitBackoffMs) * time.Millisecond,
		BrowserEnabled:   a.cfg.Fetch.BrowserEnabled,
		BrowserWait:      browserWait,
		PerHostQPS:       a.cfg.Fetch.PerHostQPS,
	}
	logger := a.logger.Named("fetch")
	return func(src harvest.Source) (engine.Fetcher, error) {
		scfg := cfg
		scfg.BrowserEnabled = cfg.BrowserEnabled && src.BrowserFallback
		return fetch.NewClient(scfg, logger.With(zap.String("source", src.Name))), nil
	}
}

// adapterFor maps a source to its site adapter. The card-listing adapter is
// the default; source groups can select others as they are added.
func (a *app) adapterFor(harvest.Source) crawl.SiteAdapter {
	return adapters.NewNatureCards()
}
