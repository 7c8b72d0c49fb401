// Package fetch implements the resilient page fetcher: plain HTTP attempts
// with identity rotation and jittered backoff, falling back to a headless
// browser for pages that defend against non-browser clients.
package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scholarwatch/harvester/internal/metrics"
)

// Config controls Client behavior.
type Config struct {
	MaxAttempts      int
	Timeout          time.Duration
	MinBodyBytes     int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	RateLimitBackoff time.Duration
	BrowserEnabled   bool
	BrowserWait      time.Duration
	PerHostQPS       float64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MinBodyBytes <= 0 {
		c.MinBodyBytes = 1000
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 10 * time.Second
	}
	if c.BrowserWait <= 0 {
		c.BrowserWait = 60 * time.Second
	}
	return c
}

// Client performs a single resilient page fetch. It owns a rotating identity
// pool and, when enabled, the scoped lifecycle of one headless browser
// session. Clients are not safe for concurrent use across sources; the
// orchestrator creates one per source.
type Client struct {
	cfg           Config
	logger        *zap.Logger
	identities    *identityPool
	detector      *ChallengeDetector
	baseCollector *colly.Collector

	// newSession is swappable in tests.
	newSession func(userAgent string, detector *ChallengeDetector, logger *zap.Logger) (*browserSession, error)

	mu       sync.Mutex
	browser  *browserSession
	closed   bool
	limiters sync.Map
}

// NewClient builds a Client from the given config.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	base := colly.NewCollector(colly.Async(false))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &Client{
		cfg:           cfg,
		logger:        logger,
		identities:    newIdentityPool(nil),
		detector:      NewChallengeDetector(cfg.MinBodyBytes),
		baseCollector: base,
		newSession:    newBrowserSession,
	}
}

// Close releases the browser session if one was started. Guaranteed to run
// regardless of how prior fetches ended.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.browser != nil {
		c.browser.close()
		c.browser = nil
	}
}

// Fetch retrieves the page at rawURL, retrying plain HTTP up to the attempt
// budget and falling back to the browser when enabled. It returns
// ErrForbidden or ErrExhausted once all strategies are spent.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.waitHostBudget(ctx, rawURL); err != nil {
		return nil, err
	}

	sawForbidden := false
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.Inc()
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		identity := c.identities.Rotate()
		body, status, err := c.fetchPlain(ctx, rawURL, identity)
		switch {
		case err == nil && status == http.StatusOK && !c.detector.TooShort(body):
			if c.detector.IsChallenge("", string(body)) {
				c.logger.Debug("plain fetch returned challenge page", zap.String("url", rawURL))
				break
			}
			return body, nil
		case status == http.StatusForbidden || status == http.StatusTooManyRequests:
			sawForbidden = true
			if status == http.StatusTooManyRequests {
				metrics.RateLimitHits.Inc()
			} else {
				metrics.ForbiddenHits.Inc()
			}
			c.logger.Warn("fetch throttled or forbidden",
				zap.String("url", rawURL),
				zap.Int("status", status),
				zap.Int("attempt", attempt+1),
			)
			if err := sleepCtx(ctx, jitteredDelay(c.cfg.RateLimitBackoff)); err != nil {
				return nil, err
			}
		case err != nil:
			c.logger.Warn("plain fetch attempt failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		default:
			c.logger.Debug("plain fetch response unusable",
				zap.String("url", rawURL),
				zap.Int("status", status),
				zap.Int("body_bytes", len(body)),
			)
		}
	}

	if c.cfg.BrowserEnabled {
		body, err := c.fetchBrowser(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		c.logger.Warn("browser fallback failed", zap.String("url", rawURL), zap.Error(err))
	}

	if sawForbidden {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, rawURL)
	}
	return nil, fmt.Errorf("%w: %s", ErrExhausted, rawURL)
}

func (c *Client) fetchPlain(ctx context.Context, rawURL string, identity Identity) ([]byte, int, error) {
	collector := c.baseCollector.Clone()
	collector.UserAgent = identity.UserAgent

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", identity.Accept)
		r.Headers.Set("Accept-Language", identity.AcceptLanguage)
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		err := collector.Visit(rawURL)
		collector.Wait()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, status, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			// 403/429 arrive through OnError; report the status, not the error.
			if status == http.StatusForbidden || status == http.StatusTooManyRequests {
				return nil, status, nil
			}
			return nil, status, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		return body, status, nil
	}
}

func (c *Client) fetchBrowser(ctx context.Context, rawURL string) ([]byte, error) {
	session, err := c.session()
	if err != nil {
		return nil, err
	}
	metrics.BrowserFallbacks.Inc()
	return session.fetch(ctx, rawURL, c.identities.Rotate(), c.cfg.BrowserWait)
}

// session lazily starts the browser on first use so sources that never need
// the fallback never pay for a Chrome process.
func (c *Client) session() (*browserSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("fetch client closed")
	}
	if c.browser != nil {
		return c.browser, nil
	}
	session, err := c.newSession(c.identities.Rotate().UserAgent, c.detector, c.logger)
	if err != nil {
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	c.browser = session
	return session, nil
}

func (c *Client) waitHostBudget(ctx context.Context, rawURL string) error {
	if c.cfg.PerHostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse fetch url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := c.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.PerHostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait host budget: %w", err)
	}
	return nil
}

// backoff grows with the attempt index and carries random jitter so
// concurrent clients do not fall into lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.cfg.BackoffMax) {
		delay = float64(c.cfg.BackoffMax)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func jitteredDelay(base time.Duration) time.Duration {
	return base + randomJitter(base)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
