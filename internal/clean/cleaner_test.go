package clean

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var cleanedAt = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

func newCleaner() *Cleaner {
	return New(fixedClock{now: cleanedAt}, zap.NewNop())
}

func rawListing(title string, attrs map[string]string) harvest.RawListing {
	price := int64(1500000000)
	l := harvest.RawListing{
		Title:      title,
		Price:      &price,
		Kecamatan:  harvest.StringPtr(" Kuta "),
		Provinsi:   "bali",
		URL:        "https://example.test/properti/1",
		Attributes: map[string]*string{},
		Province:   "bali",
		Page:       3,
	}
	for k, v := range attrs {
		l.Attributes[k] = harvest.StringPtr(v)
	}
	return l
}

func TestCleanListingsCoercesColumns(t *testing.T) {
	t.Parallel()

	rec := rawListing("Rumah A", map[string]string{
		harvest.FieldBedrooms:  "3",
		harvest.FieldLandArea:  "1,250.5",
		harvest.FieldPower:     "2,200",
		harvest.FieldFloors:    "2.0",
		harvest.FieldBathrooms: "dua",
		harvest.FieldGarage:    "",
		harvest.FieldView:      "  Taman  ",
	}).Record()

	out, err := newCleaner().CleanListings([]harvest.Record{rec})
	require.NoError(t, err)
	require.Len(t, out, 1)
	got := out[0]
	require.Equal(t, "Rumah A", got.Title)
	require.Equal(t, "bali", got.Province)
	require.Equal(t, 3, got.Page)
	require.Equal(t, cleanedAt, got.CleanedAt)
	require.Equal(t, "Kuta", *got.Kecamatan)
	require.Equal(t, int64(1500000000), *got.Int(harvest.FieldPrice))
	require.Equal(t, int64(3), *got.Int(harvest.FieldBedrooms))
	require.Equal(t, int64(2200), *got.Int(harvest.FieldPower))
	require.Equal(t, int64(2), *got.Int(harvest.FieldFloors))
	require.InDelta(t, 1250.5, *got.Float(harvest.FieldLandArea), 1e-9)
	require.Equal(t, "Taman", *got.Text(harvest.FieldView))
	require.Nil(t, got.Int(harvest.FieldBathrooms), "unparseable is absent")
	require.Nil(t, got.Int(harvest.FieldGarage), "empty is absent")
	require.Nil(t, got.Text(harvest.FieldHook))
	require.Len(t, got.Fields, len(listingColumns))
}

func TestCleanListingsAcceptsStoredDocuments(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(rawListing("Rumah B", map[string]string{harvest.FieldYearBuilt: "2019"}).Record())
	require.NoError(t, err)
	var rec harvest.Record
	require.NoError(t, json.Unmarshal(raw, &rec))

	out, err := newCleaner().CleanListings([]harvest.Record{rec})
	require.NoError(t, err)
	require.Equal(t, 3, out[0].Page)
	require.Equal(t, int64(1500000000), *out[0].Int(harvest.FieldPrice))
	require.Equal(t, int64(2019), *out[0].Int(harvest.FieldYearBuilt))
}

func TestCleanListingsRejectsMissingColumns(t *testing.T) {
	t.Parallel()

	good := rawListing("A", nil).Record()
	bad := rawListing("B", nil).Record()
	delete(good, harvest.FieldHook)
	delete(bad, harvest.FieldHook)
	delete(bad, harvest.FieldGarage)

	out, err := newCleaner().CleanListings([]harvest.Record{good, bad})
	require.Nil(t, out)
	require.ErrorIs(t, err, harvest.ErrSchema)
	var schemaErr *harvest.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.Equal(t, []string{harvest.FieldHook}, schemaErr.Missing)
}

func TestCleanListingsColumnPresentInAnyRecordPasses(t *testing.T) {
	t.Parallel()

	full := rawListing("A", nil).Record()
	partial := rawListing("B", nil).Record()
	delete(partial, harvest.FieldAgent)

	out, err := newCleaner().CleanListings([]harvest.Record{full, partial})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Nil(t, out[1].Text(harvest.FieldAgent))
}

func TestCleanListingsEmptyBatch(t *testing.T) {
	t.Parallel()

	out, err := newCleaner().CleanListings(nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCleanFacilities(t *testing.T) {
	t.Parallel()

	records := []harvest.Record{
		harvest.RawFacilityRecord{
			Kecamatan: "Kuta",
			Counts: harvest.FacilityCounts{
				harvest.FieldEducation: 4,
				harvest.FieldHealth:    2,
				harvest.FieldRetail:    7,
				harvest.FieldTransport: 0,
				harvest.FieldLeisure:   1,
			},
			Status: "success",
		}.Record(),
		{
			harvest.FieldKecamatan: "Ubud",
			harvest.FieldEducation: "1,024",
			harvest.FieldHealth:    float64(3),
			harvest.FieldRetail:    json.Number("5"),
			harvest.FieldTransport: nil,
			harvest.FieldLeisure:   "NaN",
		},
	}
	out, err := newCleaner().CleanFacilities(records)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "Kuta", out[0].Kecamatan)
	require.Equal(t, int64(7), *out[0].Retail)
	require.Equal(t, int64(0), *out[0].Transport)

	ubud := out[1]
	require.Equal(t, int64(1024), *ubud.Education)
	require.Equal(t, int64(3), *ubud.Health)
	require.Equal(t, int64(5), *ubud.Retail)
	require.Nil(t, ubud.Transport)
	require.Nil(t, ubud.Leisure)
}

func TestCleanFacilitiesRejectsMissingColumns(t *testing.T) {
	t.Parallel()

	_, err := newCleaner().CleanFacilities([]harvest.Record{{harvest.FieldKecamatan: "Kuta"}})
	var schemaErr *harvest.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, harvest.FacilityCountFields, schemaErr.Missing)
}

func TestKecamatans(t *testing.T) {
	t.Parallel()

	listings := []harvest.CleanedListing{
		{Kecamatan: harvest.StringPtr("Ubud")},
		{Kecamatan: nil},
		{Kecamatan: harvest.StringPtr("Kuta")},
		{Kecamatan: harvest.StringPtr("Ubud")},
	}
	require.Equal(t, []string{"Kuta", "Ubud"}, Kecamatans(listings))
}

func TestToInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"thousands", "1,200,000", int64(1200000)},
		{"float text", "3.0", int64(3)},
		{"truncates", "3.7", int64(3)},
		{"padded", " 42 ", int64(42)},
		{"int", 5, int64(5)},
		{"float", float64(9), int64(9)},
		{"json number", json.Number("12"), int64(12)},
		{"nil", nil, nil},
		{"empty", "", nil},
		{"nan text", "NaN", nil},
		{"nan", math.NaN(), nil},
		{"inf", math.Inf(1), nil},
		{"units", "120 m²", nil},
		{"bool", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := toInt(tt.in)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, tt.want, *got)
		})
	}
}

func TestToFloatAndString(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 72.5, *toFloat("72.5"), 1e-9)
	require.InDelta(t, 1000.0, *toFloat("1,000"), 1e-9)
	require.InDelta(t, 8.0, *toFloat(int64(8)), 1e-9)
	require.Nil(t, toFloat("Inf"))
	require.Nil(t, toFloat("abc"))
	require.Nil(t, toFloat(nil))

	require.Equal(t, "SHM", *toString(" SHM "))
	require.Equal(t, "3", *toString(float64(3)))
	require.Nil(t, toString("   "))
	require.Nil(t, toString(nil))
}
