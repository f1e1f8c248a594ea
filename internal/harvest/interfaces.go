package harvest

import (
	"context"
	"io"
	"time"
)

// ProgressRepository persists the singleton ProgressState.
type ProgressRepository interface {
	// Get returns ErrNotFound when no state has been stored yet.
	Get(ctx context.Context) (ProgressState, error)
	// Create stores state if none exists and returns whichever state is stored.
	Create(ctx context.Context, state ProgressState) (ProgressState, error)
	// Update applies fn to the stored state under exclusive access and
	// persists the result. Returning an error from fn discards the change and
	// Update returns the unmodified stored state with that error.
	Update(ctx context.Context, fn func(*ProgressState) error) (ProgressState, error)
}

// ListingStore persists raw listings keyed by title.
type ListingStore interface {
	Titles(ctx context.Context) ([]string, error)
	// InsertListings stores listings whose title is not yet present and
	// reports how many were written.
	InsertListings(ctx context.Context, listings []RawListing) (int, error)
	PageListings(ctx context.Context, province string, page int) ([]Record, error)
}

// FacilityStore persists raw facility records keyed by kecamatan.
type FacilityStore interface {
	HasFacility(ctx context.Context, kecamatan string) (bool, error)
	UpsertFacility(ctx context.Context, rec RawFacilityRecord) error
	FacilityRecords(ctx context.Context, kecamatans []string) ([]Record, error)
}

// CleanedStore persists cleaned projections keyed by their raw key.
type CleanedStore interface {
	SaveCleanedListings(ctx context.Context, listings []CleanedListing) error
	SaveCleanedFacilities(ctx context.Context, facilities []CleanedFacility) error
}

// Fetcher retrieves a page over HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// BlobStore archives raw documents.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher emits JSON notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
