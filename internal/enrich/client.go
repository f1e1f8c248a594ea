// Package enrich counts facilities per kecamatan against the Overpass API and
// stores the tallies.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/metrics"
)

// StatusSuccess marks a facility record computed from a complete set of queries.
const StatusSuccess = "success"

// Config holds the geodata API settings.
type Config struct {
	Endpoint string
	// QueryTimeout is the server-side Overpass timeout embedded in each query.
	QueryTimeout time.Duration
	// RequestTimeout bounds a single HTTP call.
	RequestTimeout time.Duration
	// MaxRetries is the number of attempts per filter expression.
	MaxRetries int
	// RetryDelay is the pause after a failed call that was not a 429.
	RetryDelay time.Duration
	// DefaultRetryAfter applies to a 429 without a usable Retry-After.
	DefaultRetryAfter time.Duration
	// Workers is the number of kecamatans enriched at once.
	Workers int
}

// Limiter paces calls to the geodata API. One Limiter is shared by every
// worker so a 429 seen by one holds back all of them.
type Limiter interface {
	Wait(ctx context.Context) error
	Penalize(d time.Duration)
}

// Client queries the geodata API and persists facility records.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter Limiter
	store   harvest.FacilityStore
	clock   harvest.Clock
	logger  *zap.Logger
	// newTimer is nil outside tests; backoff then uses a real timer.
	newTimer func() backoff.Timer

	// lookups collapses concurrent enrichment of the same kecamatan, which
	// happens when two provinces on one page share a kecamatan name.
	lookups singleflight.Group
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimer replaces the timer that waits between retries.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) {
		c.newTimer = newTimer
	}
}

// New constructs a Client.
func New(
	cfg Config,
	limiter Limiter,
	store harvest.FacilityStore,
	clock harvest.Clock,
	logger *zap.Logger,
	opts ...Option,
) (*Client, error) {
	if limiter == nil || store == nil || clock == nil {
		return nil, fmt.Errorf("enrich client requires limiter, store, and clock")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, harvest.Wrap(harvest.ErrConfig, "enrich.new", fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err))
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 60 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: limiter,
		store:   store,
		clock:   clock,
		logger:  logger.Named("enrich"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Result lists what EnrichRegions did with each kecamatan.
type Result struct {
	Enriched []string
	Skipped  []string
	Failed   []string
}

// EnrichRegions computes and stores facility counts for every kecamatan that
// has no stored record yet. Kecamatans that fail are named in the joined
// error; a storage failure stops the batch and is returned alone.
func (c *Client) EnrichRegions(ctx context.Context, kecamatans []string) (Result, error) {
	names := distinct(kecamatans)
	var (
		mu       sync.Mutex
		result   Result
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, name := range names {
		g.Go(func() error {
			out, err := c.enrichOnce(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.lookupErr != nil:
				result.Failed = append(result.Failed, name)
				failures = append(failures, fmt.Errorf("kecamatan %q: %w", name, out.lookupErr))
			case out.skipped:
				result.Skipped = append(result.Skipped, name)
			default:
				result.Enriched = append(result.Enriched, name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Strings(result.Enriched)
	sort.Strings(result.Skipped)
	sort.Strings(result.Failed)
	return result, errors.Join(failures...)
}

type lookupOutcome struct {
	skipped   bool
	lookupErr error
}

// enrichOnce checks, counts, and stores one kecamatan. Callers racing on the
// same name share a single lookup. The returned error is a storage failure;
// a failed lookup is reported in the outcome.
func (c *Client) enrichOnce(ctx context.Context, name string) (lookupOutcome, error) {
	v, err, shared := c.lookups.Do(name, func() (any, error) {
		exists, err := c.store.HasFacility(ctx, name)
		if err != nil {
			return lookupOutcome{}, fmt.Errorf("check facility %q: %w", name, err)
		}
		if exists {
			c.logger.Debug("facility record exists, skipping", zap.String("kecamatan", name))
			return lookupOutcome{skipped: true}, nil
		}

		counts, err := c.Count(ctx, name)
		if err != nil {
			c.logger.Error("facility lookup failed", zap.String("kecamatan", name), zap.Error(err))
			return lookupOutcome{lookupErr: err}, nil
		}
		rec := harvest.RawFacilityRecord{
			Kecamatan:  name,
			Counts:     counts,
			Status:     StatusSuccess,
			ComputedAt: c.clock.Now(),
		}
		if err := c.store.UpsertFacility(ctx, rec); err != nil {
			return lookupOutcome{}, fmt.Errorf("store facility %q: %w", name, err)
		}
		c.logger.Info("stored facility counts", zap.String("kecamatan", name), zap.Any("counts", counts))
		return lookupOutcome{}, nil
	})
	if shared {
		c.logger.Debug("joined in-flight facility lookup", zap.String("kecamatan", name))
	}
	if err != nil {
		return lookupOutcome{}, err
	}
	out, _ := v.(lookupOutcome)
	return out, nil
}

// Count returns the five category counts for kecamatan. Any filter that
// exhausts its retries fails the whole lookup.
func (c *Client) Count(ctx context.Context, kecamatan string) (harvest.FacilityCounts, error) {
	counts := make(harvest.FacilityCounts, len(Categories))
	for _, category := range Categories {
		total := 0
		for _, filter := range category.Filters {
			n, err := c.countFilter(ctx, kecamatan, filter)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", category.Field, filter, err)
			}
			total += n
		}
		counts[category.Field] = total
	}
	return counts, nil
}

func (c *Client) countFilter(ctx context.Context, kecamatan, filter string) (int, error) {
	query := BuildQuery(kecamatan, filter, c.cfg.QueryTimeout)
	logger := c.logger.With(zap.String("kecamatan", kecamatan), zap.String("filter", filter))

	delay := &limiterAwareBackOff{inner: backoff.NewConstantBackOff(c.cfg.RetryDelay)}
	policy := backoff.WithContext(backoff.WithMaxRetries(delay, uint64(c.cfg.MaxRetries-1)), ctx)

	attempt := 0
	permanent := false
	operation := func() (int, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			permanent = true
			return 0, backoff.Permanent(fmt.Errorf("geodata query canceled: %w", err))
		}
		n, err := c.post(ctx, query)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			permanent = true
			return 0, backoff.Permanent(fmt.Errorf("geodata query canceled: %w", ctx.Err()))
		}
		var statusErr *harvest.HTTPStatusError
		if errors.As(err, &statusErr) {
			if !harvest.RetryableStatus(statusErr.StatusCode) {
				permanent = true
				return 0, backoff.Permanent(err)
			}
			if errors.Is(err, harvest.ErrRateLimited) {
				logger.Warn("rate limited by geodata API",
					zap.Duration("retry_after", statusErr.RetryAfter),
					zap.Int("attempt", attempt),
				)
				c.limiter.Penalize(statusErr.RetryAfter)
				delay.rateLimited = true
			}
		}
		return 0, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("geodata query failed, retrying",
			zap.Duration("delay", wait),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	n, err := backoff.RetryNotifyWithTimerAndData(operation, policy, notify, timer)
	switch {
	case err == nil:
		return n, nil
	case permanent:
		return 0, err
	case ctx.Err() != nil:
		return 0, fmt.Errorf("geodata retry wait: %w", ctx.Err())
	default:
		return 0, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
	}
}

// limiterAwareBackOff waits the fixed retry delay, except after a 429: the
// shared limiter already holds the next attempt back by Retry-After.
type limiterAwareBackOff struct {
	inner       backoff.BackOff
	rateLimited bool
}

func (b *limiterAwareBackOff) NextBackOff() time.Duration {
	next := b.inner.NextBackOff()
	if next != backoff.Stop && b.rateLimited {
		next = 0
	}
	b.rateLimited = false
	return next
}

func (b *limiterAwareBackOff) Reset() {
	b.inner.Reset()
	b.rateLimited = false
}

type overpassResponse struct {
	Elements []struct {
		Type string            `json:"type"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}

func (c *Client) post(ctx context.Context, query string) (int, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, harvest.Wrap(harvest.ErrConfig, "enrich.request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveEnrichRequest(0)
		return 0, harvest.Wrap(harvest.ErrNetwork, "enrich.post", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveEnrichRequest(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, &harvest.HTTPStatusError{
			Method:     http.MethodPost,
			URL:        c.cfg.Endpoint,
			StatusCode: resp.StatusCode,
			RetryAfter: harvest.ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now(), c.cfg.DefaultRetryAfter),
		}
	}
	var body overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, harvest.Wrap(harvest.ErrParse, "enrich.decode", err)
	}
	if len(body.Elements) == 1 && body.Elements[0].Type == "count" {
		if total, err := strconv.Atoi(body.Elements[0].Tags["total"]); err == nil {
			return total, nil
		}
	}
	return len(body.Elements), nil
}

// BuildQuery renders the area-scoped count query for one filter expression.
func BuildQuery(kecamatan, filter string, timeout time.Duration) string {
	name := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(kecamatan)
	return fmt.Sprintf(`[out:json][timeout:%d];
area["name"="Indonesia"]->.country;
area["admin_level"="6"]["name"="%s"](area.country)->.searchArea;
(
  nwr[%s](area.searchArea);
);
out count;`, int(timeout.Seconds()), name, filter)
}

func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
