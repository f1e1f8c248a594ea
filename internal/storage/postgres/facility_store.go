package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// FacilityStore keeps raw facility tallies keyed by kecamatan.
type FacilityStore struct {
	db DB
}

// NewFacilityStore wraps db.
func NewFacilityStore(db DB) *FacilityStore {
	return &FacilityStore{db: db}
}

// HasFacility reports whether kecamatan already has a record.
func (s *FacilityStore) HasFacility(ctx context.Context, kecamatan string) (bool, error) {
	const text = `SELECT EXISTS (SELECT 1 FROM ` + tableFacilities + ` WHERE kecamatan = $1)`
	var exists bool
	if err := s.db.QueryRow(ctx, text, kecamatan).Scan(&exists); err != nil {
		return false, harvest.Wrap(harvest.ErrStorage, "postgres.facilities.exists", err)
	}
	return exists, nil
}

// UpsertFacility writes rec, replacing any earlier record for the kecamatan.
func (s *FacilityStore) UpsertFacility(ctx context.Context, rec harvest.RawFacilityRecord) error {
	doc, err := json.Marshal(rec.Record())
	if err != nil {
		return fmt.Errorf("marshal facility %q: %w", rec.Kecamatan, err)
	}
	q := builder().Insert(tableFacilities).
		Columns("kecamatan", "document", "updated_at").
		Values(rec.Kecamatan, doc, rec.ComputedAt.UTC()).
		Suffix("ON CONFLICT (kecamatan) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at")
	if _, err := exec(ctx, s.db, q); err != nil {
		return harvest.Wrap(harvest.ErrStorage, "postgres.facilities.upsert", err)
	}
	return nil
}

// FacilityRecords returns the stored documents for kecamatans.
func (s *FacilityStore) FacilityRecords(ctx context.Context, kecamatans []string) ([]harvest.Record, error) {
	if len(kecamatans) == 0 {
		return nil, nil
	}
	names := append([]string(nil), kecamatans...)
	sort.Strings(names)
	q := builder().Select("document").
		From(tableFacilities).
		Where(sq.Eq{"kecamatan": names}).
		OrderBy("kecamatan")
	return queryDocuments(ctx, s.db, q, "postgres.facilities.records")
}
