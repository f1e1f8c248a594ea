// Package orchestrator drives each pending region through crawl, enrichment,
// and cleaning, and advances its cursor only when every stage succeeded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/housing-harvester/internal/clean"
	"github.com/JakeFAU/housing-harvester/internal/enrich"
	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/listing"
	"github.com/JakeFAU/housing-harvester/internal/metrics"
)

// Progress is the cursor the orchestrator reads and advances.
type Progress interface {
	Load(ctx context.Context) (harvest.ProgressState, error)
	Advance(ctx context.Context, region string, newPage int) (harvest.ProgressState, error)
}

// Crawler harvests and stores one region page.
type Crawler interface {
	Harvest(ctx context.Context, region string, page int) (listing.Result, error)
}

// Enricher stores facility counts for kecamatans.
type Enricher interface {
	EnrichRegions(ctx context.Context, kecamatans []string) (enrich.Result, error)
}

// Cleaner validates and coerces stored batches.
type Cleaner interface {
	CleanListings(records []harvest.Record) ([]harvest.CleanedListing, error)
	CleanFacilities(records []harvest.Record) ([]harvest.CleanedFacility, error)
}

// Config controls the region pool and notifications.
type Config struct {
	RegionWorkers int
	// Topic receives a PageCommit per advanced region. Empty disables publishing.
	Topic string
}

// Deps bundles the collaborators of an Orchestrator.
type Deps struct {
	Progress   Progress
	Crawler    Crawler
	Enricher   Enricher
	Cleaner    Cleaner
	Listings   harvest.ListingStore
	Facilities harvest.FacilityStore
	Cleaned    harvest.CleanedStore
	Publisher  harvest.Publisher
	IDs        harvest.IDGenerator
	Clock      harvest.Clock
}

// Orchestrator runs the pipeline for the current page.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs an Orchestrator. Publisher is optional.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	var missing []string
	if deps.Progress == nil {
		missing = append(missing, "progress")
	}
	if deps.Crawler == nil {
		missing = append(missing, "crawler")
	}
	if deps.Enricher == nil {
		missing = append(missing, "enricher")
	}
	if deps.Cleaner == nil {
		missing = append(missing, "cleaner")
	}
	if deps.Listings == nil || deps.Facilities == nil || deps.Cleaned == nil {
		missing = append(missing, "stores")
	}
	if deps.IDs == nil || deps.Clock == nil {
		missing = append(missing, "ids/clock")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator missing dependencies: %s", strings.Join(missing, ", "))
	}
	if cfg.RegionWorkers <= 0 {
		cfg.RegionWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("orchestrator")}, nil
}

// Run processes every region still on the current page. Region failures are
// recorded in the report and leave their cursor untouched. A storage failure
// cancels the remaining regions and is returned.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return RunReport{}, fmt.Errorf("run id: %w", err)
	}
	report := RunReport{RunID: runID, StartedAt: o.deps.Clock.Now()}
	logger := o.logger.With(zap.String("run_id", runID))

	state, err := o.deps.Progress.Load(ctx)
	if err != nil {
		report.Aborted = true
		report.FinishedAt = o.deps.Clock.Now()
		return report, fmt.Errorf("load progress: %w", err)
	}
	report.Page = state.CurrentPage
	metrics.SetCurrentPage(state.CurrentPage)
	regions := state.PendingRegions()
	logger.Info("starting run", zap.Int("page", state.CurrentPage), zap.Int("regions", len(regions)))

	reports := make([]RegionReport, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.RegionWorkers)
	for i, region := range regions {
		g.Go(func() error {
			reports[i] = o.runRegion(gctx, runID, region, state.CurrentPage)
			if err := reports[i].Err; errors.Is(err, harvest.ErrStorage) {
				return fmt.Errorf("region %s: %w", region, err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	report.Regions = reports
	report.FinishedAt = o.deps.Clock.Now()
	if runErr != nil {
		report.Aborted = true
		logger.Error("run aborted", zap.Error(runErr))
		return report, runErr
	}
	logger.Info("run finished",
		zap.Int("page", report.Page),
		zap.Int("committed", report.Committed()),
		zap.Int("failed", report.Failed()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (o *Orchestrator) runRegion(ctx context.Context, runID, region string, page int) RegionReport {
	rr := RegionReport{Region: region, Page: page, State: StateIdle}
	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("province", region),
		zap.Int("page", page),
	)
	metrics.IncActiveRegions()
	defer metrics.DecActiveRegions()

	fail := func(err error) RegionReport {
		rr.FailedIn = rr.State
		rr.State = StateFailed
		rr.Err = err
		rr.Error = err.Error()
		metrics.ObserveRegionPage(string(StateFailed))
		logger.Error("region page failed", zap.String("state", string(rr.FailedIn)), zap.Error(err))
		return rr
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("run canceled: %w", err))
	}

	rr.State = StateCrawling
	start := time.Now()
	res, err := o.deps.Crawler.Harvest(ctx, region, page)
	metrics.ObserveStage("crawl", time.Since(start))
	if err != nil {
		return fail(err)
	}
	rr.Candidates = res.Candidates
	rr.Duplicates = res.Duplicates
	rr.Dropped = res.Failed
	rr.Stored = res.Stored

	rr.State = StateEnriching
	start = time.Now()
	records, err := o.deps.Listings.PageListings(ctx, region, page)
	if err != nil {
		return fail(err)
	}
	if _, err := o.deps.Enricher.EnrichRegions(ctx, recordKecamatans(records)); err != nil {
		return fail(fmt.Errorf("enrich: %w", err))
	}
	metrics.ObserveStage("enrich", time.Since(start))

	rr.State = StateCleaning
	start = time.Now()
	cleaned, facilities, err := o.clean(ctx, records)
	if err != nil {
		return fail(err)
	}
	metrics.ObserveStage("clean", time.Since(start))
	rr.Cleaned = len(cleaned)
	rr.Facilities = len(facilities)

	rr.State = StateAdvancing
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("run canceled before advancing: %w", err))
	}
	progress, err := o.deps.Progress.Advance(ctx, region, page+1)
	if err != nil {
		return fail(err)
	}
	metrics.SetCurrentPage(progress.CurrentPage)
	rr.Committed = true
	rr.State = StateIdle
	metrics.ObserveRegionPage("committed")
	logger.Info("region page committed",
		zap.Int("stored", rr.Stored),
		zap.Int("cleaned", rr.Cleaned),
		zap.Int("facilities", rr.Facilities),
		zap.Int("current_page", progress.CurrentPage),
	)
	o.publish(ctx, logger, harvest.PageCommit{
		RunID:       runID,
		Province:    region,
		Page:        page,
		NextPage:    page + 1,
		Listings:    rr.Cleaned,
		Facilities:  rr.Facilities,
		CommittedAt: o.deps.Clock.Now(),
	})
	return rr
}

// clean validates the page's stored listings and their facility records and
// writes the cleaned projections. Nothing is written unless both batches pass.
func (o *Orchestrator) clean(
	ctx context.Context,
	records []harvest.Record,
) ([]harvest.CleanedListing, []harvest.CleanedFacility, error) {
	listings, err := o.deps.Cleaner.CleanListings(records)
	if err != nil {
		return nil, nil, fmt.Errorf("clean listings: %w", err)
	}
	var facilities []harvest.CleanedFacility
	if kecamatans := clean.Kecamatans(listings); len(kecamatans) > 0 {
		facRecords, err := o.deps.Facilities.FacilityRecords(ctx, kecamatans)
		if err != nil {
			return nil, nil, err
		}
		facilities, err = o.deps.Cleaner.CleanFacilities(facRecords)
		if err != nil {
			return nil, nil, fmt.Errorf("clean facilities: %w", err)
		}
	}
	if err := o.deps.Cleaned.SaveCleanedListings(ctx, listings); err != nil {
		return nil, nil, err
	}
	if err := o.deps.Cleaned.SaveCleanedFacilities(ctx, facilities); err != nil {
		return nil, nil, err
	}
	return listings, facilities, nil
}

// publish announces a committed page. The commit is already durable, so a
// failed publish is only logged.
func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, commit harvest.PageCommit) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, commit)
	if err != nil {
		logger.Warn("publish page commit failed", zap.Error(err))
		return
	}
	logger.Debug("published page commit", zap.String("message_id", id))
}

// recordKecamatans returns the distinct, trimmed kecamatans of raw records.
func recordKecamatans(records []harvest.Record) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, rec := range records {
		name, ok := rec.String(harvest.FieldKecamatan)
		if !ok || name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
