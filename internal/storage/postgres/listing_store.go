package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// ListingStore keeps raw listings keyed by title.
type ListingStore struct {
	db  DB
	now func() time.Time
}

// NewListingStore wraps db.
func NewListingStore(db DB) *ListingStore {
	return &ListingStore{db: db, now: time.Now}
}

// Titles returns every stored title.
func (s *ListingStore) Titles(ctx context.Context) ([]string, error) {
	rows, err := query(ctx, s.db, builder().Select("title").From(tableRawListings))
	if err != nil {
		return nil, harvest.Wrap(harvest.ErrStorage, "postgres.listings.titles", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, harvest.Wrap(harvest.ErrStorage, "postgres.listings.titles", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, harvest.Wrap(harvest.ErrStorage, "postgres.listings.titles", err)
	}
	return titles, nil
}

// InsertListings writes listings in one statement, skipping titles already stored.
func (s *ListingStore) InsertListings(ctx context.Context, listings []harvest.RawListing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	q := builder().Insert(tableRawListings).
		Columns("title", "province", "page", "kecamatan", "document", "inserted_at")
	for _, l := range listings {
		insertedAt := l.InsertedAt
		if insertedAt.IsZero() {
			insertedAt = s.now()
		}
		l.InsertedAt = insertedAt
		doc, err := json.Marshal(l.Record())
		if err != nil {
			return 0, fmt.Errorf("marshal listing %q: %w", l.Title, err)
		}
		q = q.Values(l.Title, l.Province, l.Page, l.Kecamatan, doc, insertedAt.UTC())
	}
	q = q.Suffix("ON CONFLICT (title) DO NOTHING")

	tag, err := exec(ctx, s.db, q)
	if err != nil {
		return 0, harvest.Wrap(harvest.ErrStorage, "postgres.listings.insert", err)
	}
	return int(tag.RowsAffected()), nil
}

// PageListings returns the documents harvested for province on page.
func (s *ListingStore) PageListings(ctx context.Context, province string, page int) ([]harvest.Record, error) {
	q := builder().Select("document").
		From(tableRawListings).
		Where(sq.Eq{"province": province, "page": page}).
		OrderBy("inserted_at", "title")
	return queryDocuments(ctx, s.db, q, "postgres.listings.page")
}

func queryDocuments(ctx context.Context, db DB, q sq.Sqlizer, op string) ([]harvest.Record, error) {
	rows, err := query(ctx, db, q)
	if err != nil {
		return nil, harvest.Wrap(harvest.ErrStorage, op, err)
	}
	defer rows.Close()

	var out []harvest.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, harvest.Wrap(harvest.ErrStorage, op, err)
		}
		var rec harvest.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, harvest.Wrap(harvest.ErrStorage, op, fmt.Errorf("decode document: %w", err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, harvest.Wrap(harvest.ErrStorage, op, err)
	}
	return out, nil
}
