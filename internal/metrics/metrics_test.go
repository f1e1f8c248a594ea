package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := fetchesTotal
	Init()
	if fetchesTotal == nil || fetchesTotal != first {
		t.Fatal("Init() must create collectors exactly once")
	}
}

func TestObserveFetchLabels(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("error"))
	ObserveFetch(0, errors.New("dial tcp"), time.Millisecond)
	if got := testutil.ToFloat64(fetchesTotal.WithLabelValues("error")); got != before+1 {
		t.Errorf("expected error fetch counter to grow by one, got %f -> %f", before, got)
	}

	before = testutil.ToFloat64(fetchesTotal.WithLabelValues("503"))
	ObserveFetch(503, errors.New("unavailable"), time.Millisecond)
	if got := testutil.ToFloat64(fetchesTotal.WithLabelValues("503")); got != before+1 {
		t.Errorf("expected 503 fetch counter to grow by one, got %f -> %f", before, got)
	}
}

func TestObserveListingsIgnoresZero(t *testing.T) {
	Init()
	before := testutil.ToFloat64(listingsTotal.WithLabelValues("bali", "stored"))
	ObserveListings("bali", "stored", 0)
	ObserveListings("bali", "stored", 3)
	if got := testutil.ToFloat64(listingsTotal.WithLabelValues("bali", "stored")); got != before+3 {
		t.Errorf("expected stored listings to grow by 3, got %f -> %f", before, got)
	}
}

func TestGauges(t *testing.T) {
	SetCurrentPage(7)
	if got := testutil.ToFloat64(currentPage); got != 7 {
		t.Errorf("expected current page 7, got %f", got)
	}
	IncActiveRegions()
	IncActiveRegions()
	DecActiveRegions()
	if got := testutil.ToFloat64(activeRegions); got < 1 {
		t.Errorf("expected at least one active region, got %f", got)
	}
	DecActiveRegions()
}

func TestStageAndEnrichObservations(t *testing.T) {
	ObserveStage("crawl", time.Second)
	ObserveEnrichRequest(429)
	ObserveRateLimitDelay(2 * time.Second)
	ObserveRegionPage("failed")
	ObserveFetchRetry()
	if testutil.CollectAndCount(stageDurationSeconds) == 0 {
		t.Error("expected stage duration to be observed")
	}
	if got := testutil.ToFloat64(enrichRequestsTotal.WithLabelValues("429")); got < 1 {
		t.Errorf("expected a 429 enrich request, got %f", got)
	}
}
