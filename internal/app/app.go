// Package app builds the long-lived services of the harvester from its
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/clean"
	"github.com/JakeFAU/housing-harvester/internal/clock/system"
	"github.com/JakeFAU/housing-harvester/internal/config"
	"github.com/JakeFAU/housing-harvester/internal/dedup"
	"github.com/JakeFAU/housing-harvester/internal/enrich"
	collyfetcher "github.com/JakeFAU/housing-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/id/uuid"
	"github.com/JakeFAU/housing-harvester/internal/listing"
	"github.com/JakeFAU/housing-harvester/internal/orchestrator"
	"github.com/JakeFAU/housing-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/housing-harvester/internal/progress"
	pubsubpublisher "github.com/JakeFAU/housing-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/housing-harvester/internal/storage/gcs"
	"github.com/JakeFAU/housing-harvester/internal/storage/local"
	"github.com/JakeFAU/housing-harvester/internal/storage/postgres"
)

// App holds the services one command needs. Close releases them in reverse
// order of creation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	db           postgres.DB
	progressRepo harvest.ProgressRepository
	progress     *progress.Store
	orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	archive   harvest.BlobStore
	publisher harvest.Publisher
	fetcher   harvest.Fetcher
	clock     harvest.Clock
	closers   []func() error
}

// WithArchive stores every fetched detail page in blobs.
func WithArchive(blobs harvest.BlobStore) Option {
	return func(o *buildOptions) { o.archive = blobs }
}

// WithPublisher announces each committed region page.
func WithPublisher(p harvest.Publisher) Option {
	return func(o *buildOptions) { o.publisher = p }
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f harvest.Fetcher) Option {
	return func(o *buildOptions) { o.fetcher = f }
}

// WithClock replaces the wall clock.
func WithClock(c harvest.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithCloser registers fn to run on Close.
func WithCloser(fn func() error) Option {
	return func(o *buildOptions) { o.closers = append(o.closers, fn) }
}

// Connect opens the database and, when configured, the archive and Pub/Sub
// clients, then builds the App on top of them. Opening the pool pings the
// database, so a bad environment fails here before any page is fetched.
func Connect(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	closers := []func() error{func() error {
		pool.Close()
		return nil
	}}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	var opts []Option

	archive, closeArchive, err := OpenArchive(ctx, cfg.Archive)
	if err != nil {
		closeAll()
		return nil, err
	}
	if archive != nil {
		logger.Info("archiving detail pages", zap.String("backend", cfg.Archive.Backend))
		opts = append(opts, WithArchive(archive))
	}
	if closeArchive != nil {
		closers = append(closers, closeArchive)
	}

	if cfg.PubSub.Enabled {
		pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{ProjectID: cfg.PubSub.ProjectID}, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open pubsub: %w", err)
		}
		logger.Info("publishing page commits", zap.String("topic", cfg.PubSub.TopicName))
		opts = append(opts, WithPublisher(pub))
		closers = append(closers, pub.Close)
	}
	for _, fn := range closers {
		opts = append(opts, WithCloser(fn))
	}

	a, err := Build(ctx, cfg, pool, logger, opts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return a, nil
}

// OpenArchive returns the configured blob store, or nil when archiving is off.
// The returned close function may be nil.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig) (harvest.BlobStore, func() error, error) {
	switch cfg.Backend {
	case "", config.ArchiveNone:
		return nil, nil, nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs archive: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, harvest.Wrap(harvest.ErrConfig, "app.archive", fmt.Errorf("unknown archive backend %q", cfg.Backend))
	}
}

// Build wires the pipeline on top of db. It loads every stored title into the
// deduplicator, so it queries the database once.
func Build(ctx context.Context, cfg config.Config, db postgres.DB, logger *zap.Logger, opts ...Option) (*App, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.fetcher == nil {
		o.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
			MaxRetries:    cfg.HTTP.MaxRetries,
			BackoffBase:   cfg.BackoffBase(),
			BackoffMax:    cfg.BackoffMax(),
		}, logger)
	}

	a := &App{cfg: cfg, logger: logger, db: db, closers: o.closers}

	progressRepo := postgres.NewProgressStore(db)
	listings := postgres.NewListingStore(db)
	facilities := postgres.NewFacilityStore(db)
	cleaned := postgres.NewCleanedStore(db)

	seen, err := dedup.Load(ctx, listings)
	if err != nil {
		return nil, fmt.Errorf("load deduplicator: %w", err)
	}
	logger.Info("loaded known listings", zap.Int("titles", seen.Len()))

	var crawlerOpts []listing.Option
	if o.archive != nil {
		crawlerOpts = append(crawlerOpts, listing.WithArchive(o.archive))
	}
	crawler, err := listing.New(listing.Config{
		BaseURL:           cfg.Site.BaseURL,
		ListingPath:       cfg.Site.ListingPath,
		Category:          cfg.Site.Category,
		DetailConcurrency: cfg.Crawler.DetailConcurrency,
	}, o.fetcher, listings, seen, o.clock, logger, crawlerOpts...)
	if err != nil {
		return nil, fmt.Errorf("build listing crawler: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{MinInterval: cfg.EnrichMinInterval()})
	enricher, err := enrich.New(enrich.Config{
		Endpoint:          cfg.Enrich.Endpoint,
		QueryTimeout:      seconds(cfg.Enrich.QueryTimeoutSeconds),
		RequestTimeout:    seconds(cfg.Enrich.RequestTimeoutSeconds),
		MaxRetries:        cfg.Enrich.MaxRetries,
		RetryDelay:        seconds(cfg.Enrich.RetryDelaySeconds),
		DefaultRetryAfter: seconds(cfg.Enrich.DefaultRetryAfterSeconds),
		Workers:           cfg.Enrich.Workers,
	}, limiter, facilities, o.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("build enrichment client: %w", err)
	}

	store, err := progress.New(progressRepo, cfg.Site.Regions, logger)
	if err != nil {
		return nil, fmt.Errorf("build progress store: %w", err)
	}

	orchCfg := orchestrator.Config{RegionWorkers: cfg.Crawler.RegionWorkers}
	if o.publisher != nil {
		orchCfg.Topic = cfg.PubSub.TopicName
	}
	orch, err := orchestrator.New(orchCfg, orchestrator.Deps{
		Progress:   store,
		Crawler:    crawler,
		Enricher:   enricher,
		Cleaner:    clean.New(o.clock, logger),
		Listings:   listings,
		Facilities: facilities,
		Cleaned:    cleaned,
		Publisher:  o.publisher,
		IDs:        uuid.New(),
		Clock:      o.clock,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	a.progressRepo = progressRepo
	a.progress = store
	a.orchestrator = orch
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// DB returns the database handle.
func (a *App) DB() postgres.DB { return a.db }

// ProgressRepository returns the raw progress record store.
func (a *App) ProgressRepository() harvest.ProgressRepository { return a.progressRepo }

// Progress returns the cursor store the orchestrator advances.
func (a *App) Progress() *progress.Store { return a.progress }

// Orchestrator returns the pipeline driver.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Run executes one pipeline pass over the current page.
func (a *App) Run(ctx context.Context) (orchestrator.RunReport, error) {
	return a.orchestrator.Run(ctx)
}

// Ping checks that the database still answers.
func (a *App) Ping(ctx context.Context) error {
	p, ok := a.db.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return harvest.Wrap(harvest.ErrStorage, "app.ping", err)
	}
	return nil
}

// Close releases every resource opened for the App.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
