package harvest

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressStatePendingRegions(t *testing.T) {
	t.Parallel()

	state := ProgressState{CurrentPage: 2, Provinces: map[string]int{"bali": 2, "aceh": 2, "papua": 3}}
	require.Equal(t, []string{"aceh", "bali"}, state.PendingRegions())

	clone := state.Clone()
	clone.Provinces["bali"] = 9
	require.Equal(t, 2, state.Provinces["bali"])
}

func TestNewProgressState(t *testing.T) {
	t.Parallel()

	state := NewProgressState([]string{"bali", "aceh"})
	require.Equal(t, 1, state.CurrentPage)
	require.Equal(t, map[string]int{"bali": 1, "aceh": 1}, state.Provinces)
}

func TestRawListingRecordCarriesEveryAttribute(t *testing.T) {
	t.Parallel()

	price := int64(1500000000)
	listing := RawListing{
		Title:      "Rumah Asri",
		Price:      &price,
		Kecamatan:  StringPtr("Kuta"),
		Provinsi:   "bali",
		URL:        "https://example.test/properti/1",
		Attributes: map[string]*string{FieldBedrooms: StringPtr("3")},
		ScrapedAt:  time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Province:   "bali",
		Page:       4,
	}
	rec := listing.Record()

	require.Equal(t, "Rumah Asri", rec[FieldTitle])
	require.Equal(t, int64(1500000000), rec[FieldPrice])
	require.Equal(t, "3", rec[FieldBedrooms])
	require.Equal(t, 4, rec[FieldPage])
	require.Equal(t, "2024-05-01T08:00:00Z", rec[FieldScrapedAt])
	for _, field := range AttributeFields {
		_, ok := rec[field]
		require.True(t, ok, field)
	}
	require.Nil(t, rec[FieldBathrooms])
	require.Nil(t, rec[FieldKabupatenKota])
	_, ok := rec[FieldInsertedAt]
	require.False(t, ok)
}

func TestRecordStringTrims(t *testing.T) {
	t.Parallel()

	rec := Record{
		FieldKecamatan: "  Kuta Utara \t",
		FieldTitle:     "   ",
		FieldPrice:     int64(5),
		FieldAgent:     nil,
	}
	got, ok := rec.String(FieldKecamatan)
	require.True(t, ok)
	require.Equal(t, "Kuta Utara", got)

	got, ok = rec.String(FieldTitle)
	require.True(t, ok)
	require.Empty(t, got)

	_, ok = rec.String(FieldPrice)
	require.False(t, ok, "non-string values are not coerced")
	_, ok = rec.String(FieldAgent)
	require.False(t, ok)
	_, ok = rec.String("missing")
	require.False(t, ok)
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("load: %w", Wrap(ErrStorage, "progress.get", errors.New("conn refused")))
	require.ErrorIs(t, err, ErrStorage)
	require.NotErrorIs(t, err, ErrConfig)
	require.Contains(t, err.Error(), "conn refused")
	require.NoError(t, Wrap(ErrStorage, "noop", nil))

	var schema error = &SchemaError{Batch: "listings", Missing: []string{"harga"}}
	require.ErrorIs(t, schema, ErrSchema)
	require.Contains(t, schema.Error(), "harga")

	limited := &HTTPStatusError{URL: "u", StatusCode: http.StatusTooManyRequests}
	require.ErrorIs(t, limited, ErrRateLimited)
	require.ErrorIs(t, limited, ErrNetwork)
	unavailable := &HTTPStatusError{URL: "u", StatusCode: http.StatusServiceUnavailable}
	require.NotErrorIs(t, unavailable, ErrRateLimited)
	require.ErrorIs(t, unavailable, ErrNetwork)
}

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 500, 502, 503, 504} {
		require.True(t, RetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 403, 404, 501} {
		require.False(t, RetryableStatus(code), code)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "seconds", value: "5", want: 5 * time.Second},
		{name: "missing", value: "", want: time.Minute},
		{name: "garbage", value: "soon", want: time.Minute},
		{name: "negative", value: "-3", want: time.Minute},
		{name: "date", value: now.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second},
		{name: "past date", value: now.Add(-time.Hour).Format(http.TimeFormat), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ParseRetryAfter(tt.value, now, time.Minute))
		})
	}
}
