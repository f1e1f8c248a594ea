// Package clean validates raw record batches against the required schema and
// coerces every column to its typed form.
package clean

import (
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// Cleaner turns raw documents into cleaned projections.
type Cleaner struct {
	clock  harvest.Clock
	logger *zap.Logger
}

// New constructs a Cleaner.
func New(clock harvest.Clock, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{clock: clock, logger: logger.Named("cleaner")}
}

// CleanListings validates the batch and coerces each listing. A batch missing
// any required column yields a *harvest.SchemaError and no output. Records
// without a title cannot be keyed and are dropped.
func (c *Cleaner) CleanListings(records []harvest.Record) ([]harvest.CleanedListing, error) {
	if err := checkColumns("listings", records, RequiredListingColumns()); err != nil {
		return nil, err
	}
	now := c.clock.Now()
	out := make([]harvest.CleanedListing, 0, len(records))
	for _, rec := range records {
		title := toString(rec[harvest.FieldTitle])
		if title == nil {
			c.logger.Warn("dropping listing without title", zap.Any("link", rec[harvest.FieldLink]))
			continue
		}
		cleaned := harvest.CleanedListing{
			Title:     *title,
			Fields:    make(map[string]any, len(listingColumns)),
			CleanedAt: now,
		}
		if province := toString(rec[harvest.FieldProvince]); province != nil {
			cleaned.Province = *province
		}
		if page := toInt(rec[harvest.FieldPage]); page != nil {
			cleaned.Page = int(*page)
		}
		for _, col := range listingColumns {
			cleaned.Fields[col.name] = coerce(col.kind, rec[col.name])
		}
		cleaned.Kecamatan = cleaned.Text(harvest.FieldKecamatan)
		out = append(out, cleaned)
	}
	return out, nil
}

// CleanFacilities validates and coerces a facility batch the same way.
func (c *Cleaner) CleanFacilities(records []harvest.Record) ([]harvest.CleanedFacility, error) {
	if err := checkColumns("facilities", records, RequiredFacilityColumns()); err != nil {
		return nil, err
	}
	now := c.clock.Now()
	out := make([]harvest.CleanedFacility, 0, len(records))
	for _, rec := range records {
		name := toString(rec[harvest.FieldKecamatan])
		if name == nil {
			c.logger.Warn("dropping facility record without kecamatan")
			continue
		}
		out = append(out, harvest.CleanedFacility{
			Kecamatan: *name,
			Education: toInt(rec[harvest.FieldEducation]),
			Health:    toInt(rec[harvest.FieldHealth]),
			Retail:    toInt(rec[harvest.FieldRetail]),
			Transport: toInt(rec[harvest.FieldTransport]),
			Leisure:   toInt(rec[harvest.FieldLeisure]),
			CleanedAt: now,
		})
	}
	return out, nil
}

// Kecamatans returns the distinct kecamatans of listings, sorted.
func Kecamatans(listings []harvest.CleanedListing) []string {
	seen := make(map[string]struct{}, len(listings))
	out := make([]string, 0, len(listings))
	for _, l := range listings {
		if l.Kecamatan == nil {
			continue
		}
		if _, ok := seen[*l.Kecamatan]; ok {
			continue
		}
		seen[*l.Kecamatan] = struct{}{}
		out = append(out, *l.Kecamatan)
	}
	sort.Strings(out)
	return out
}

func coerce(k kind, v any) any {
	switch k {
	case kindInt:
		if n := toInt(v); n != nil {
			return *n
		}
	case kindFloat:
		if f := toFloat(v); f != nil {
			return *f
		}
	case kindString:
		if s := toString(v); s != nil {
			return *s
		}
	}
	return nil
}

// checkColumns reports the required columns that no record in the batch
// carries.
func checkColumns(batch string, records []harvest.Record, required []string) error {
	if len(records) == 0 {
		return nil
	}
	present := make(map[string]struct{})
	for _, rec := range records {
		for key := range rec {
			present[key] = struct{}{}
		}
	}
	var missing []string
	for _, col := range required {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &harvest.SchemaError{Batch: batch, Missing: missing}
	}
	return nil
}
