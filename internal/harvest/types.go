package harvest

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// ProgressDocumentID keys the singleton progress record.
const ProgressDocumentID = "current_progress"

// ProgressState is the crawl cursor shared by every stage.
type ProgressState struct {
	// CurrentPage is the page being harvested for every region still on it.
	CurrentPage int `json:"current_page" validate:"gte=1"`
	// Provinces maps a region slug to the next page to harvest for it.
	Provinces map[string]int `json:"provinces" validate:"required,min=1,dive,keys,required,endkeys,gte=1"`
}

// NewProgressState returns the first-run state with every region on page 1.
func NewProgressState(regions []string) ProgressState {
	provinces := make(map[string]int, len(regions))
	for _, r := range regions {
		provinces[r] = 1
	}
	return ProgressState{CurrentPage: 1, Provinces: provinces}
}

// Clone returns a deep copy.
func (s ProgressState) Clone() ProgressState {
	out := ProgressState{CurrentPage: s.CurrentPage}
	if s.Provinces != nil {
		out.Provinces = make(map[string]int, len(s.Provinces))
		for k, v := range s.Provinces {
			out.Provinces[k] = v
		}
	}
	return out
}

// PendingRegions returns, sorted, the regions whose cursor equals CurrentPage.
func (s ProgressState) PendingRegions() []string {
	out := make([]string, 0, len(s.Provinces))
	for region, page := range s.Provinces {
		if page == s.CurrentPage {
			out = append(out, region)
		}
	}
	sort.Strings(out)
	return out
}

// Record is the document form of a stored row. Keys that were never written
// are absent, which is distinct from a key holding nil.
type Record map[string]any

// String returns the trimmed string stored under key, if any. A value that is
// not a string reports false.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// RawListing is one listing exactly as harvested from a detail page.
type RawListing struct {
	Title         string
	Price         *int64
	Kecamatan     *string
	KabupatenKota *string
	Provinsi      string
	Updated       *string
	Agent         *string
	URL           string
	// Attributes holds every structured attribute keyed by document field;
	// a nil value means the page did not show it.
	Attributes map[string]*string
	ScrapedAt  time.Time

	Province   string
	Page       int
	InsertedAt time.Time
}

// Record flattens the listing into its stored document. Every attribute key is
// present, holding nil when the page lacked it.
func (l RawListing) Record() Record {
	rec := Record{
		FieldTitle:         l.Title,
		FieldPrice:         nil,
		FieldKecamatan:     derefString(l.Kecamatan),
		FieldKabupatenKota: derefString(l.KabupatenKota),
		FieldProvinsi:      l.Provinsi,
		FieldUpdated:       derefString(l.Updated),
		FieldAgent:         derefString(l.Agent),
		FieldLink:          l.URL,
		FieldScrapedAt:     l.ScrapedAt.UTC().Format(time.RFC3339),
		FieldProvince:      l.Province,
		FieldPage:          l.Page,
	}
	if l.Price != nil {
		rec[FieldPrice] = *l.Price
	}
	if !l.InsertedAt.IsZero() {
		rec[FieldInsertedAt] = l.InsertedAt.UTC().Format(time.RFC3339)
	}
	for _, field := range AttributeFields {
		rec[field] = derefString(l.Attributes[field])
	}
	return rec
}

// FacilityCounts maps each facility count field to its tally.
type FacilityCounts map[string]int

// RawFacilityRecord is the per-kecamatan facility tally, upserted by name.
type RawFacilityRecord struct {
	Kecamatan  string
	Counts     FacilityCounts
	Status     string
	ComputedAt time.Time
}

// Record flattens the facility tally into its stored document.
func (f RawFacilityRecord) Record() Record {
	rec := Record{
		FieldKecamatan: f.Kecamatan,
		FieldStatus:    f.Status,
		FieldTimestamp: f.ComputedAt.UTC().Format(time.RFC3339),
	}
	for _, field := range FacilityCountFields {
		rec[field] = f.Counts[field]
	}
	return rec
}

// CleanedListing is the schema-validated projection of a RawListing. Fields
// holds every cleaned column; a nil value is an explicit absent value, and
// present values are int64, float64, or string.
type CleanedListing struct {
	Title     string
	Province  string
	Page      int
	Kecamatan *string
	Fields    map[string]any
	CleanedAt time.Time
}

// Int returns the integer column, or nil when absent.
func (c CleanedListing) Int(field string) *int64 {
	if v, ok := c.Fields[field].(int64); ok {
		return &v
	}
	return nil
}

// Float returns the float column, or nil when absent.
func (c CleanedListing) Float(field string) *float64 {
	if v, ok := c.Fields[field].(float64); ok {
		return &v
	}
	return nil
}

// Text returns the string column, or nil when absent.
func (c CleanedListing) Text(field string) *string {
	if v, ok := c.Fields[field].(string); ok {
		return &v
	}
	return nil
}

// CleanedFacility is the schema-validated projection of a RawFacilityRecord.
type CleanedFacility struct {
	Kecamatan string
	Education *int64
	Health    *int64
	Retail    *int64
	Transport *int64
	Leisure   *int64
	CleanedAt time.Time
}

// Page is a fetched HTML document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// PageCommit is published after a region's page has been advanced.
type PageCommit struct {
	RunID       string    `json:"run_id"`
	Province    string    `json:"province"`
	Page        int       `json:"page"`
	NextPage    int       `json:"next_page"`
	Listings    int       `json:"listings"`
	Facilities  int       `json:"facilities"`
	CommittedAt time.Time `json:"committed_at"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
