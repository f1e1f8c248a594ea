// Package listing crawls paginated index pages and their listing detail
// pages, skipping titles that were already harvested.
package listing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/housing-harvester/internal/dedup"
	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/metrics"
)

// Config controls URL construction and detail fan-out.
type Config struct {
	BaseURL           string
	ListingPath       string
	Category          string
	DetailConcurrency int
}

// Crawler harvests one region page at a time.
type Crawler struct {
	cfg     Config
	fetcher harvest.Fetcher
	store   harvest.ListingStore
	seen    *dedup.Set
	archive harvest.BlobStore
	clock   harvest.Clock
	logger  *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithArchive stores every fetched detail page in blobs.
func WithArchive(blobs harvest.BlobStore) Option {
	return func(c *Crawler) {
		c.archive = blobs
	}
}

// New builds a Crawler.
func New(
	cfg Config,
	fetcher harvest.Fetcher,
	store harvest.ListingStore,
	seen *dedup.Set,
	clock harvest.Clock,
	logger *zap.Logger,
	opts ...Option,
) (*Crawler, error) {
	if fetcher == nil || store == nil || seen == nil || clock == nil {
		return nil, fmt.Errorf("listing crawler requires fetcher, store, dedup set, and clock")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, harvest.Wrap(harvest.ErrConfig, "listing.new", fmt.Errorf("invalid base url %q", cfg.BaseURL))
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		seen:    seen,
		clock:   clock,
		logger:  logger.Named("crawler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Result summarizes one harvested region page.
type Result struct {
	Listings   []harvest.RawListing
	Candidates int
	Duplicates int
	Failed     int
	Stored     int
}

// IndexURL is the index page for region on page.
func (c *Crawler) IndexURL(region string, page int) string {
	return fmt.Sprintf("%s/%s/%s/%s/?page=%d",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.ListingPath, region, c.cfg.Category, page)
}

// Harvest fetches region's index page, fetches every card not seen before,
// and stores the parsed listings before returning them. A page without new
// cards is a successful, empty harvest.
func (c *Crawler) Harvest(ctx context.Context, region string, page int) (Result, error) {
	logger := c.logger.With(zap.String("province", region), zap.Int("page", page))
	index, err := c.fetcher.Fetch(ctx, c.IndexURL(region, page))
	if err != nil {
		return Result{}, fmt.Errorf("fetch index page: %w", err)
	}
	candidates, err := ParseIndex(index.Body, c.cfg.BaseURL)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		logger.Warn("no listing cards found on index page")
	}

	result := Result{Candidates: len(candidates)}
	var fresh []Candidate
	for _, cand := range candidates {
		if !c.seen.Claim(cand.Title) {
			result.Duplicates++
			continue
		}
		fresh = append(fresh, cand)
	}
	metrics.ObserveListings(region, "duplicate", result.Duplicates)

	listings, failed := c.fetchDetails(ctx, logger, fresh, region, page)
	result.Failed = failed
	if err := ctx.Err(); err != nil {
		c.release(listings)
		return Result{}, fmt.Errorf("harvest canceled: %w", err)
	}

	stored, err := c.store.InsertListings(ctx, listings)
	if err != nil {
		c.release(listings)
		return Result{}, fmt.Errorf("store listings: %w", err)
	}
	titles := make([]string, len(listings))
	for i, l := range listings {
		titles[i] = l.Title
	}
	c.seen.Commit(titles...)

	result.Listings = listings
	result.Stored = stored
	metrics.ObserveListings(region, "stored", stored)
	metrics.ObserveListings(region, "failed", failed)
	logger.Info("harvested index page",
		zap.Int("candidates", result.Candidates),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed),
		zap.Int("stored", result.Stored),
	)
	return result, nil
}

// fetchDetails fetches candidates with bounded concurrency. Failed detail
// pages are logged, released, and dropped. Output keeps index order.
func (c *Crawler) fetchDetails(
	ctx context.Context,
	logger *zap.Logger,
	candidates []Candidate,
	region string,
	page int,
) ([]harvest.RawListing, int) {
	parsed := make([]*harvest.RawListing, len(candidates))
	var (
		mu     sync.Mutex
		failed int
	)
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.DetailConcurrency)
	for i, cand := range candidates {
		g.Go(func() error {
			listing, err := c.fetchDetail(ctx, cand, region, page)
			if err != nil {
				c.seen.Release(cand.Title)
				if ctx.Err() == nil {
					logger.Warn("dropping listing",
						zap.String("title", cand.Title),
						zap.String("url", cand.URL),
						zap.Error(err),
					)
				}
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			parsed[i] = &listing
			return nil
		})
	}
	_ = g.Wait()

	out := make([]harvest.RawListing, 0, len(candidates))
	for _, l := range parsed {
		if l != nil {
			out = append(out, *l)
		}
	}
	return out, failed
}

func (c *Crawler) fetchDetail(ctx context.Context, cand Candidate, region string, page int) (harvest.RawListing, error) {
	detail, err := c.fetcher.Fetch(ctx, cand.URL)
	if err != nil {
		return harvest.RawListing{}, err
	}
	now := c.clock.Now()
	listing, err := ParseDetail(detail.Body, cand.URL, region, now)
	if err != nil {
		return harvest.RawListing{}, err
	}
	// The card title is the identity key, whatever the detail heading says.
	listing.Title = cand.Title
	listing.Province = region
	listing.Page = page
	listing.InsertedAt = now
	c.archivePage(ctx, region, page, cand.URL, detail.Body)
	return listing, nil
}

func (c *Crawler) archivePage(ctx context.Context, region string, page int, pageURL string, body []byte) {
	if c.archive == nil {
		return
	}
	sum := sha256.Sum256([]byte(pageURL))
	path := fmt.Sprintf("pages/%s/%d/%s.html", region, page, hex.EncodeToString(sum[:8]))
	if _, err := c.archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(body)); err != nil {
		c.logger.Warn("archive detail page failed", zap.String("path", path), zap.Error(err))
	}
}

func (c *Crawler) release(listings []harvest.RawListing) {
	for _, l := range listings {
		c.seen.Release(l.Title)
	}
}
