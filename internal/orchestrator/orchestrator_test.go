package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/clean"
	"github.com/JakeFAU/housing-harvester/internal/enrich"
	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/listing"
	"github.com/JakeFAU/housing-harvester/internal/progress"
	pubmemory "github.com/JakeFAU/housing-harvester/internal/publisher/memory"
	"github.com/JakeFAU/housing-harvester/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

// stubCrawler stores canned listings for each region page.
type stubCrawler struct {
	store *memory.RecordStore
	kecs  map[string]string
	errs  map[string]error
}

func (c *stubCrawler) Harvest(ctx context.Context, region string, page int) (listing.Result, error) {
	if err := ctx.Err(); err != nil {
		return listing.Result{}, err
	}
	if err := c.errs[region]; err != nil {
		return listing.Result{}, err
	}
	var listings []harvest.RawListing
	for i := range 2 {
		listings = append(listings, harvest.RawListing{
			Title:      fmt.Sprintf("%s-%d-%d", region, page, i),
			Kecamatan:  harvest.StringPtr(c.kecs[region]),
			Provinsi:   region,
			Attributes: map[string]*string{harvest.FieldBedrooms: harvest.StringPtr("3")},
			Province:   region,
			Page:       page,
		})
	}
	stored, err := c.store.InsertListings(ctx, listings)
	if err != nil {
		return listing.Result{}, err
	}
	return listing.Result{Listings: listings, Candidates: 2, Stored: stored}, nil
}

// stubEnricher writes a facility record per kecamatan.
type stubEnricher struct {
	store *memory.RecordStore
	err   error
	mu    sync.Mutex
	seen  []string
}

func (e *stubEnricher) EnrichRegions(ctx context.Context, kecamatans []string) (enrich.Result, error) {
	e.mu.Lock()
	e.seen = append(e.seen, kecamatans...)
	e.mu.Unlock()
	if e.err != nil {
		return enrich.Result{Failed: kecamatans}, e.err
	}
	for _, k := range kecamatans {
		counts := harvest.FacilityCounts{}
		for _, f := range harvest.FacilityCountFields {
			counts[f] = 1
		}
		if err := e.store.UpsertFacility(ctx, harvest.RawFacilityRecord{Kecamatan: k, Counts: counts, Status: "success"}); err != nil {
			return enrich.Result{}, err
		}
	}
	return enrich.Result{Enriched: kecamatans}, nil
}

type schemaBreakingCleaner struct{ *clean.Cleaner }

func (schemaBreakingCleaner) CleanListings([]harvest.Record) ([]harvest.CleanedListing, error) {
	return nil, &harvest.SchemaError{Batch: "listings", Missing: []string{harvest.FieldHook}}
}

type fixture struct {
	store     *memory.RecordStore
	repo      *memory.ProgressStore
	progress  *progress.Store
	crawler   *stubCrawler
	enricher  *stubEnricher
	publisher *pubmemory.Publisher
	deps      Deps
}

func newFixture(t *testing.T, regions ...string) *fixture {
	t.Helper()
	store := memory.NewRecordStore()
	repo := memory.NewProgressStore()
	ps, err := progress.New(repo, regions, zap.NewNop())
	require.NoError(t, err)
	clock := fixedClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	f := &fixture{
		store:     store,
		repo:      repo,
		progress:  ps,
		crawler:   &stubCrawler{store: store, kecs: map[string]string{}, errs: map[string]error{}},
		enricher:  &stubEnricher{store: store},
		publisher: pubmemory.New(),
	}
	for _, r := range regions {
		f.crawler.kecs[r] = "Kec " + r
	}
	f.deps = Deps{
		Progress:   ps,
		Crawler:    f.crawler,
		Enricher:   f.enricher,
		Cleaner:    clean.New(clock, zap.NewNop()),
		Listings:   store,
		Facilities: store,
		Cleaned:    store,
		Publisher:  f.publisher,
		IDs:        &sequentialIDs{},
		Clock:      clock,
	}
	return f
}

func (f *fixture) orchestrator(t *testing.T, workers int) *Orchestrator {
	t.Helper()
	o, err := New(Config{RegionWorkers: workers, Topic: "page-commits"}, f.deps, zap.NewNop())
	require.NoError(t, err)
	return o
}

func (f *fixture) cursor(t *testing.T, region string) int {
	t.Helper()
	state, err := f.repo.Get(context.Background())
	require.NoError(t, err)
	return state.Provinces[region]
}

func TestRunCommitsEveryRegion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh", "bali", "papua")
	report, err := f.orchestrator(t, 2).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", report.RunID)
	require.Equal(t, 1, report.Page)
	require.Equal(t, 3, report.Committed())
	require.Zero(t, report.Failed())
	require.NoError(t, report.Err())
	for _, rr := range report.Regions {
		require.Equal(t, StateIdle, rr.State)
		require.Equal(t, 2, rr.Stored)
		require.Equal(t, 2, rr.Cleaned)
		require.Equal(t, 1, rr.Facilities)
	}

	state, err := f.progress.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, state.CurrentPage)
	require.Equal(t, map[string]int{"aceh": 2, "bali": 2, "papua": 2}, state.Provinces)
	require.Len(t, f.store.CleanedListings(), 6)
	require.Len(t, f.store.CleanedFacilities(), 3)

	require.Len(t, f.publisher.Commits("page-commits"), 3)
	msgs := f.publisher.Messages()
	require.Len(t, msgs, 3)
	commit, ok := msgs[0].Payload.(harvest.PageCommit)
	require.True(t, ok)
	require.Equal(t, "page-commits", msgs[0].Topic)
	require.Equal(t, "run-1", commit.RunID)
	require.Equal(t, 2, commit.NextPage)
}

func TestRunFailedRegionKeepsCursor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh", "bali")
	f.crawler.errs["bali"] = harvest.Wrap(harvest.ErrNetwork, "fetch", errors.New("timeout"))

	report, err := f.orchestrator(t, 2).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Committed())
	require.Equal(t, 1, report.Failed())
	require.ErrorIs(t, report.Err(), harvest.ErrNetwork)
	require.Equal(t, 2, f.cursor(t, "aceh"))
	require.Equal(t, 1, f.cursor(t, "bali"))

	state, err := f.repo.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentPage, "current page waits for the failed region")

	bali := report.Regions[1]
	require.Equal(t, StateFailed, bali.State)
	require.Equal(t, StateCrawling, bali.FailedIn)

	// The next run retries only the failed region.
	delete(f.crawler.errs, "bali")
	report, err = f.orchestrator(t, 2).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Regions, 1)
	require.Equal(t, "bali", report.Regions[0].Region)
	require.Equal(t, 2, f.cursor(t, "bali"))
}

func TestRunEnrichmentFailureLeavesNoCleanedRows(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh")
	f.enricher.err = errors.New(`kecamatan "Kec aceh": giving up after 3 attempts`)

	report, err := f.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateEnriching, report.Regions[0].FailedIn)
	require.Equal(t, 1, f.cursor(t, "aceh"))
	require.Empty(t, f.store.CleanedListings())
	require.Empty(t, f.publisher.Messages())
}

func TestRunSchemaFailureBlocksAdvance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh")
	f.deps.Cleaner = schemaBreakingCleaner{}

	report, err := f.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)
	rr := report.Regions[0]
	require.Equal(t, StateCleaning, rr.FailedIn)
	require.ErrorIs(t, rr.Err, harvest.ErrSchema)
	require.Equal(t, 1, f.cursor(t, "aceh"))
	require.Empty(t, f.store.CleanedListings())
}

func TestRunStorageFailureAbortsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh", "bali", "papua")
	f.crawler.errs["aceh"] = harvest.Wrap(harvest.ErrStorage, "insert", errors.New("connection refused"))

	report, err := f.orchestrator(t, 1).Run(context.Background())
	require.ErrorIs(t, err, harvest.ErrStorage)
	require.True(t, report.Aborted)
	require.Zero(t, report.Committed())
	for _, region := range []string{"aceh", "bali", "papua"} {
		require.Equal(t, 1, f.cursor(t, region), region)
	}
}

func TestRunRerunDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh")
	o := f.orchestrator(t, 1)
	f.deps.Cleaner = schemaBreakingCleaner{}
	failing, err := New(Config{RegionWorkers: 1}, f.deps, zap.NewNop())
	require.NoError(t, err)

	_, err = failing.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.store.ListingCount())

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Committed())
	require.Zero(t, report.Regions[0].Stored, "listings from the failed attempt are already stored")
	require.Equal(t, 2, report.Regions[0].Cleaned)
	require.Equal(t, 2, f.store.ListingCount())
	require.Len(t, f.store.CleanedListings(), 2)
	require.Equal(t, []string{"Kec aceh", "Kec aceh"}, f.enricher.seen)
}

func TestRunEmptyPageStillAdvances(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh")
	f.deps.Crawler = emptyCrawler{}

	report, err := f.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Committed())
	require.Equal(t, 2, f.cursor(t, "aceh"))
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.ErrorContains(t, err, "progress")
}

func TestRecordKecamatans(t *testing.T) {
	t.Parallel()

	got := recordKecamatans([]harvest.Record{
		{harvest.FieldKecamatan: " Ubud "},
		{harvest.FieldKecamatan: nil},
		{harvest.FieldKecamatan: "Kuta"},
		{harvest.FieldKecamatan: "Ubud"},
		{},
	})
	require.Equal(t, []string{"Kuta", "Ubud"}, got)
}

type emptyCrawler struct{}

func (emptyCrawler) Harvest(context.Context, string, int) (listing.Result, error) {
	return listing.Result{}, nil
}

func TestRunPublishFailureKeepsCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "aceh")
	f.publisher.FailWith(errors.New("topic not found"))

	report, err := f.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Committed())
	require.Equal(t, 2, f.cursor(t, "aceh"))
	require.Empty(t, f.publisher.Commits("page-commits"))
}

// countingProgress records every Advance call made through it.
type countingProgress struct {
	Progress
	mu       sync.Mutex
	advances int
}

func (p *countingProgress) Advance(ctx context.Context, region string, newPage int) (harvest.ProgressState, error) {
	p.mu.Lock()
	p.advances++
	p.mu.Unlock()
	return p.Progress.Advance(ctx, region, newPage)
}

// cancelingEnricher cancels the run mid-enrichment. With block set it waits
// for the cancellation to land and reports it; otherwise it claims success.
type cancelingEnricher struct {
	cancel context.CancelFunc
	block  bool
}

func (e cancelingEnricher) EnrichRegions(ctx context.Context, kecamatans []string) (enrich.Result, error) {
	e.cancel()
	if e.block {
		<-ctx.Done()
		return enrich.Result{Failed: kecamatans}, fmt.Errorf("geodata query canceled: %w", ctx.Err())
	}
	return enrich.Result{Enriched: kecamatans}, nil
}

// cancelingCleaner cancels the run while the listing batch is being cleaned.
type cancelingCleaner struct {
	*clean.Cleaner
	cancel context.CancelFunc
}

func (c cancelingCleaner) CleanListings(records []harvest.Record) ([]harvest.CleanedListing, error) {
	c.cancel()
	return c.Cleaner.CleanListings(records)
}

func TestRunCanceledMidPipelineKeepsCursor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		wire     func(f *fixture, cancel context.CancelFunc)
		failedIn State
	}{
		{
			name: "enrichment interrupted",
			wire: func(f *fixture, cancel context.CancelFunc) {
				f.deps.Enricher = cancelingEnricher{cancel: cancel, block: true}
			},
			failedIn: StateEnriching,
		},
		{
			name: "enrichment finishes after cancel",
			wire: func(f *fixture, cancel context.CancelFunc) {
				f.deps.Enricher = cancelingEnricher{cancel: cancel}
			},
			failedIn: StateAdvancing,
		},
		{
			name: "cleaning interrupted",
			wire: func(f *fixture, cancel context.CancelFunc) {
				f.deps.Cleaner = cancelingCleaner{
					Cleaner: clean.New(fixedClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop()),
					cancel:  cancel,
				}
			},
			failedIn: StateAdvancing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, "aceh")
			counting := &countingProgress{Progress: f.progress}
			f.deps.Progress = counting
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tc.wire(f, cancel)

			report, err := f.orchestrator(t, 1).Run(ctx)
			require.NoError(t, err)
			require.Len(t, report.Regions, 1)
			rr := report.Regions[0]
			require.Equal(t, StateFailed, rr.State)
			require.Equal(t, tc.failedIn, rr.FailedIn)
			require.ErrorIs(t, rr.Err, context.Canceled)
			require.False(t, rr.Committed)
			require.Equal(t, 1, report.Failed())

			require.Zero(t, counting.advances, "a canceled region must not reach Advance")
			require.Equal(t, 1, f.cursor(t, "aceh"))
			state, err := f.repo.Get(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, state.CurrentPage)
			require.Empty(t, f.publisher.Messages())
		})
	}
}
