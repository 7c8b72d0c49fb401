package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// browserSession owns a headless Chrome process used as the fallback strategy
// for pages that defend against plain HTTP clients. One session is owned by
// exactly one Client and is never shared across clients.
type browserSession struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	detector        *ChallengeDetector
	logger          *zap.Logger
}

func newBrowserSession(userAgent string, detector *ChallengeDetector, logger *zap.Logger) (*browserSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &browserSession{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		detector:        detector,
		logger:          logger,
	}, nil
}

// close tears down the browser and allocator contexts. Safe on every exit
// path; callers must not use the session afterwards.
func (s *browserSession) close() {
	if s == nil {
		return
	}
	s.browserCancel()
	s.allocatorCancel()
}

// fetch navigates to rawURL in a fresh tab and waits out any interstitial
// challenge page, up to the given budget. While a challenge is detected the
// session periodically scrolls to simulate activity.
func (s *browserSession) fetch(ctx context.Context, rawURL string, identity Identity, budget time.Duration) ([]byte, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, budget)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	if err := chromedp.Run(taskCtx,
		network.Enable(),
		emulation.SetUserAgentOverride(identity.UserAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("browser navigate: %w", err)
	}

	deadline := time.Now().Add(budget)
	challengeRounds := 0
	for {
		var title, html string
		if err := chromedp.Run(taskCtx,
			chromedp.Title(&title),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		); err != nil {
			return nil, fmt.Errorf("browser snapshot: %w", err)
		}

		switch {
		case s.detector.IsChallenge(title, html):
			challengeRounds++
			s.logger.Debug("challenge page detected, waiting",
				zap.String("url", rawURL),
				zap.Int("rounds", challengeRounds),
			)
			if challengeRounds > 2 {
				s.simulateActivity(taskCtx)
			}
		case !s.detector.TooShort([]byte(html)):
			return []byte(html), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("browser wait budget of %s spent on %s", budget, rawURL)
		}
		if err := sleepCtx(taskCtx, challengePollInterval(challengeRounds)); err != nil {
			return nil, err
		}
	}
}

// simulateActivity scrolls the page up and down so the challenge script sees
// something resembling a human visitor.
func (s *browserSession) simulateActivity(ctx context.Context) {
	err := chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight/2);`, nil),
		chromedp.Sleep(1*time.Second),
		chromedp.Evaluate(`window.scrollTo(0, 0);`, nil),
	)
	if err != nil {
		s.logger.Debug("activity simulation failed", zap.Error(err))
	}
}

func challengePollInterval(rounds int) time.Duration {
	switch {
	case rounds > 5:
		return 8 * time.Second
	case rounds > 3:
		return 5 * time.Second
	default:
		return 3 * time.Second
	}
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

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
