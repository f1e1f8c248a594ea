package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// CleanedStore writes cleaned projections. Rows are keyed by the raw record's
// key, so re-cleaning a page overwrites instead of duplicating.
type CleanedStore struct {
	db DB
}

// NewCleanedStore wraps db.
func NewCleanedStore(db DB) *CleanedStore {
	return &CleanedStore{db: db}
}

// SaveCleanedListings upserts listings by title.
func (s *CleanedStore) SaveCleanedListings(ctx context.Context, listings []harvest.CleanedListing) error {
	if len(listings) == 0 {
		return nil
	}
	q := builder().Insert(tableCleanedListings).
		Columns("title", "province", "page", "kecamatan", "document", "cleaned_at")
	for _, l := range listings {
		doc, err := json.Marshal(l.Fields)
		if err != nil {
			return fmt.Errorf("marshal cleaned listing %q: %w", l.Title, err)
		}
		q = q.Values(l.Title, l.Province, l.Page, l.Kecamatan, doc, l.CleanedAt.UTC())
	}
	q = q.Suffix(`ON CONFLICT (title) DO UPDATE SET
	province = EXCLUDED.province,
	page = EXCLUDED.page,
	kecamatan = EXCLUDED.kecamatan,
	document = EXCLUDED.document,
	cleaned_at = EXCLUDED.cleaned_at`)
	if _, err := exec(ctx, s.db, q); err != nil {
		return harvest.Wrap(harvest.ErrStorage, "postgres.cleaned_listings.save", err)
	}
	return nil
}

// SaveCleanedFacilities upserts facilities by kecamatan.
func (s *CleanedStore) SaveCleanedFacilities(ctx context.Context, facilities []harvest.CleanedFacility) error {
	if len(facilities) == 0 {
		return nil
	}
	q := builder().Insert(tableCleanedFacilities).
		Columns(
			"kecamatan",
			harvest.FieldEducation,
			harvest.FieldHealth,
			harvest.FieldRetail,
			harvest.FieldTransport,
			harvest.FieldLeisure,
			"cleaned_at",
		)
	for _, f := range facilities {
		q = q.Values(f.Kecamatan, f.Education, f.Health, f.Retail, f.Transport, f.Leisure, f.CleanedAt.UTC())
	}
	q = q.Suffix(`ON CONFLICT (kecamatan) DO UPDATE SET
	jumlah_fasilitas_pendidikan = EXCLUDED.jumlah_fasilitas_pendidikan,
	jumlah_fasilitas_kesehatan = EXCLUDED.jumlah_fasilitas_kesehatan,
	jumlah_fasilitas_perbelanjaan = EXCLUDED.jumlah_fasilitas_perbelanjaan,
	jumlah_fasilitas_transportasi = EXCLUDED.jumlah_fasilitas_transportasi,
	jumlah_fasilitas_rekreasi = EXCLUDED.jumlah_fasilitas_rekreasi,
	cleaned_at = EXCLUDED.cleaned_at`)
	if _, err := exec(ctx, s.db, q); err != nil {
		return harvest.Wrap(harvest.ErrStorage, "postgres.cleaned_facilities.save", err)
	}
	return nil
}
