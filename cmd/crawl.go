package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/api"
	"github.com/scholarwatch/harvester/internal/engine"
	"github.com/scholarwatch/harvester/internal/harvest"
)

// newCrawlCmd creates and configures the 'crawl' subcommand: one full
// harvest pass over the configured sources.
func newCrawlCmd() *cobra.Command {
	var (
		startDate string
		endDate   string
		source    string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one harvest pass over the configured sources",
		Long: `Crawls every configured journal listing page for articles inside the
incremental date window (last stored date through today, or one week back for
new sources), classifies the candidates, and persists the relevant ones.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, startDate, endDate, source)
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "window start (YYYY-MM-DD), overrides incremental derivation")
	cmd.Flags().StringVar(&endDate, "end-date", "", "window end (YYYY-MM-DD), requires --start-date")
	cmd.Flags().StringVar(&source, "source", "", "restrict the run to one named source")
	return cmd
}

func runCrawl(cmd *cobra.Command, startDate, endDate, source string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	window, err := parseWindow(startDate, endDate)
	if err != nil {
		return err
	}

	sources, err := a.loadSources(cmd.Context(), source)
	if err != nil {
		return err
	}

	labeler, err := a.newLabeler()
	if err != nil {
		return err
	}

	eng := engine.New(
		a.store,
		a.archive,
		a.failures,
		labeler,
		a.adapterFor,
		a.fetcherFactory(
			a.cfg.FetchTimeout(),
			time.Duration(a.cfg.Fetch.BrowserWaitSeconds)*time.Second,
		),
		engine.Config{
			Window:        window,
			PageDelay:     a.cfg.PageDelay(),
			MaxPages:      a.cfg.Crawl.MaxPages,
			ClassifyGrace: time.Duration(a.cfg.Classify.GraceSeconds) * time.Second,
		},
		a.logger.Named("engine"),
		a.clock,
	)

	srv, apiServer := startAPIServer(a, cmd.Context())
	defer shutdownAPIServer(a, srv)

	report := eng.Run(cmd.Context(), sources)
	report.Log(a.logger)
	apiServer.SetReport(report)

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d sources failed: %v", len(failed), len(report.Sources), failed)
	}
	return nil
}

func parseWindow(startDate, endDate string) (*harvest.CrawlWindow, error) {
	if startDate == "" && endDate == "" {
		return nil, nil
	}
	if startDate == "" {
		return nil, errors.New("--end-date requires --start-date")
	}
	start, err := time.Parse(time.DateOnly, startDate)
	if err != nil {
		return nil, fmt.Errorf("parse --start-date: %w", err)
	}
	end := time.Now().UTC()
	if endDate != "" {
		end, err = time.Parse(time.DateOnly, endDate)
		if err != nil {
			return nil, fmt.Errorf("parse --end-date: %w", err)
		}
	}
	window, err := harvest.NewCrawlWindow(start, end)
	if err != nil {
		return nil, err
	}
	return &window, nil
}

// startAPIServer serves /metrics, health and the run report for the
// duration of the pass.
func startAPIServer(a *app, ctx context.Context) (*http.Server, *api.Server) {
	apiServer := api.NewServer(a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("http server error", zap.Error(err))
		}
	}()
	return srv, apiServer
}

func shutdownAPIServer(a *app, srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown error", zap.Error(err))
	}
}
