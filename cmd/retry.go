package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scholarwatch/harvester/internal/engine"
)

// newRetryCmd creates the 'retry' subcommand: a pass over the failure
// registry with stretched fetch budgets.
func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retries sources recorded in the failure registry",
		Long: `Re-harvests every source that previously failed with a non-recoverable
fetch error, using longer timeouts, a longer browser challenge-wait budget,
and slower pagination. Sources that come back with at least one item are
removed from the registry; the rest have their retry count incremented.`,

		RunE: runRetry,
	}
	return cmd
}

func runRetry(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	sources, err := a.loadSources(cmd.Context(), "")
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
			time.Duration(a.cfg.Retry.TimeoutSeconds)*time.Second,
			time.Duration(a.cfg.Retry.BrowserWaitSeconds)*time.Second,
		),
		engine.Config{
			PageDelay:     time.Duration(a.cfg.Retry.PageDelaySeconds) * time.Second,
			MaxPages:      a.cfg.Crawl.MaxPages,
			ClassifyGrace: time.Duration(a.cfg.Classify.GraceSeconds) * time.Second,
		},
		a.logger.Named("engine"),
		a.clock,
	)

	report, err := eng.RetryFailed(cmd.Context(), sources)
	if err != nil {
		return fmt.Errorf("retry pass: %w", err)
	}
	report.Log(a.logger)

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d sources still failing: %v", len(failed), failed)
	}
	return nil
}
