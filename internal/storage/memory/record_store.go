package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// RecordStore holds raw and cleaned listings and facility records in-memory.
// It satisfies every record store interface the pipeline uses.
type RecordStore struct {
	mu                sync.RWMutex
	listings          map[string]harvest.Record
	listingOrder      []string
	facilities        map[string]harvest.Record
	cleanedListings   map[string]harvest.CleanedListing
	cleanedFacilities map[string]harvest.CleanedFacility
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		listings:          make(map[string]harvest.Record),
		facilities:        make(map[string]harvest.Record),
		cleanedListings:   make(map[string]harvest.CleanedListing),
		cleanedFacilities: make(map[string]harvest.CleanedFacility),
	}
}

// Titles returns every stored listing title.
func (s *RecordStore) Titles(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.listingOrder...), nil
}

// InsertListings stores listings whose title is new.
func (s *RecordStore) InsertListings(_ context.Context, listings []harvest.RawListing) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, l := range listings {
		if _, exists := s.listings[l.Title]; exists {
			continue
		}
		s.listings[l.Title] = l.Record()
		s.listingOrder = append(s.listingOrder, l.Title)
		inserted++
	}
	return inserted, nil
}

// PageListings returns the listings harvested for province on page.
func (s *RecordStore) PageListings(_ context.Context, province string, page int) ([]harvest.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Record
	for _, title := range s.listingOrder {
		rec := s.listings[title]
		if rec[harvest.FieldProvince] == province && rec[harvest.FieldPage] == page {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// HasFacility reports whether kecamatan already has a facility record.
func (s *RecordStore) HasFacility(_ context.Context, kecamatan string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.facilities[kecamatan]
	return ok, nil
}

// UpsertFacility stores rec, replacing any record for the same kecamatan.
func (s *RecordStore) UpsertFacility(_ context.Context, rec harvest.RawFacilityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities[rec.Kecamatan] = rec.Record()
	return nil
}

// FacilityRecords returns the stored records for kecamatans, sorted by name.
func (s *RecordStore) FacilityRecords(_ context.Context, kecamatans []string) ([]harvest.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := append([]string(nil), kecamatans...)
	sort.Strings(names)
	var out []harvest.Record
	for _, name := range names {
		if rec, ok := s.facilities[name]; ok {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// SaveCleanedListings stores listings keyed by title.
func (s *RecordStore) SaveCleanedListings(_ context.Context, listings []harvest.CleanedListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range listings {
		s.cleanedListings[l.Title] = l
	}
	return nil
}

// SaveCleanedFacilities stores facilities keyed by kecamatan.
func (s *RecordStore) SaveCleanedFacilities(_ context.Context, facilities []harvest.CleanedFacility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facilities {
		s.cleanedFacilities[f.Kecamatan] = f
	}
	return nil
}

// ListingCount returns the number of raw listings.
func (s *RecordStore) ListingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}

// FacilityCount returns the number of raw facility records.
func (s *RecordStore) FacilityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facilities)
}

// CleanedListings returns cleaned listings sorted by title.
func (s *RecordStore) CleanedListings() []harvest.CleanedListing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.CleanedListing, 0, len(s.cleanedListings))
	for _, l := range s.cleanedListings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// CleanedFacilities returns cleaned facilities sorted by kecamatan.
func (s *RecordStore) CleanedFacilities() []harvest.CleanedFacility {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.CleanedFacility, 0, len(s.cleanedFacilities))
	for _, f := range s.cleanedFacilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kecamatan < out[j].Kecamatan })
	return out
}

func copyRecord(rec harvest.Record) harvest.Record {
	out := make(harvest.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
