// Package collyfetcher implements harvest.Fetcher using gocolly with bounded,
// exponentially backed-off retries.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/metrics"
)

// Config controls collector and retry behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	// Retries revisit the same URL and clones share the visited set.
	c.AllowURLRevisit = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger.Named("fetcher"),
	}
}

// Fetch GETs url, retrying transport errors and retryable statuses. A 429
// waits at least as long as its Retry-After header asks.
func (f *Fetcher) Fetch(ctx context.Context, url string) (harvest.Page, error) {
	hint := &retryAfterBackOff{inner: f.newExponential()}
	policy := backoff.WithContext(backoff.WithMaxRetries(hint, uint64(f.cfg.MaxRetries)), ctx)

	attempt := 0
	operation := func() (harvest.Page, error) {
		attempt++
		page, err := f.fetchOnce(ctx, url)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return harvest.Page{}, backoff.Permanent(ctx.Err())
		}
		if isPermanentCollyError(err) {
			return harvest.Page{}, backoff.Permanent(err)
		}
		var statusErr *harvest.HTTPStatusError
		if errors.As(err, &statusErr) {
			if !harvest.RetryableStatus(statusErr.StatusCode) {
				return harvest.Page{}, backoff.Permanent(err)
			}
			hint.set(statusErr.RetryAfter)
		}
		return harvest.Page{}, err
	}
	notify := func(err error, wait time.Duration) {
		metrics.ObserveFetchRetry()
		f.logger.Warn("fetch failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	page, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		if ctx.Err() != nil {
			return harvest.Page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		return harvest.Page{}, harvest.Wrap(harvest.ErrNetwork, "fetch", fmt.Errorf("%s after %d attempts: %w", url, attempt, err))
	}
	return page, nil
}

func (f *Fetcher) newExponential() *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.BackoffBase
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = f.cfg.BackoffMax
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (harvest.Page, error) {
	var (
		result   harvest.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, &result, &fetchErr)
	err := f.runCollector(ctx, collector, url, &fetchErr)
	metrics.ObserveFetch(result.StatusCode, err, time.Since(start))
	if err != nil {
		return harvest.Page{}, err
	}
	result.URL = url
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, result *harvest.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *harvest.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = harvest.Page{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeaders(r.Headers),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			statusErr := &harvest.HTTPStatusError{StatusCode: r.StatusCode}
			if r.Request != nil && r.Request.URL != nil {
				statusErr.URL = r.Request.URL.String()
			}
			if r.Headers != nil {
				statusErr.RetryAfter = harvest.ParseRetryAfter(r.Headers.Get("Retry-After"), time.Now(), 0)
			}
			result.StatusCode = r.StatusCode
			*fetchErr = statusErr
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// permanentCollyErrors are request-check failures that a retry cannot change.
var permanentCollyErrors = []error{
	colly.ErrRobotsTxtBlocked,
	colly.ErrForbiddenDomain,
	colly.ErrForbiddenURL,
	colly.ErrNoURLFiltersMatch,
	colly.ErrMissingURL,
	colly.ErrMaxDepth,
	colly.ErrAlreadyVisited,
}

func isPermanentCollyError(err error) bool {
	for _, target := range permanentCollyErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// retryAfterBackOff defers to the wrapped policy unless the last response
// asked for a longer wait.
type retryAfterBackOff struct {
	inner backoff.BackOff

	mu      sync.Mutex
	pending time.Duration
}

func (b *retryAfterBackOff) set(d time.Duration) {
	b.mu.Lock()
	b.pending = d
	b.mu.Unlock()
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.inner.NextBackOff()
	b.mu.Lock()
	defer b.mu.Unlock()
	if next != backoff.Stop && b.pending > next {
		next = b.pending
	}
	b.pending = 0
	return next
}

func (b *retryAfterBackOff) Reset() {
	b.inner.Reset()
	b.set(0)
}

func cloneHeaders(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
