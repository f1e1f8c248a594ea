package listing

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// Candidate is a listing card found on an index page.
type Candidate struct {
	Title string
	URL   string
}

// ParseIndex returns the cards on an index page in page order. Cards without
// a title or detail link are skipped. Links are resolved against baseURL.
func ParseIndex(body []byte, baseURL string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, harvest.Wrap(harvest.ErrParse, "listing.parse_index", err)
	}
	base := strings.TrimRight(baseURL, "/")
	var out []Candidate
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		title := strings.TrimSpace(card.Find(cardTitleSelector).First().Text())
		href, ok := card.Find(cardLinkSelector).First().Attr("href")
		if title == "" || !ok || href == "" {
			return
		}
		out = append(out, Candidate{Title: title, URL: base + href})
	})
	return out, nil
}

// ParseDetail applies DetailRules to a detail page. Missing selectors leave
// fields absent; only an unreadable document is an error.
func ParseDetail(body []byte, url, province string, scrapedAt time.Time) (harvest.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.RawListing{}, harvest.Wrap(harvest.ErrParse, "listing.parse_detail", fmt.Errorf("%s: %w", url, err))
	}
	values := make(map[string]*string, len(DetailRules))
	for _, rule := range DetailRules {
		if v, ok := rule.Extract(doc); ok {
			values[rule.Field] = &v
		}
	}

	listing := harvest.RawListing{
		Price:         parsePrice(values[harvest.FieldPrice]),
		Kecamatan:     values[harvest.FieldKecamatan],
		KabupatenKota: values[harvest.FieldKabupatenKota],
		Provinsi:      province,
		Updated:       values[harvest.FieldUpdated],
		Agent:         values[harvest.FieldAgent],
		URL:           url,
		Attributes:    make(map[string]*string, len(harvest.AttributeFields)),
		ScrapedAt:     scrapedAt,
	}
	if title := values[harvest.FieldTitle]; title != nil {
		listing.Title = *title
	}
	for _, field := range harvest.AttributeFields {
		listing.Attributes[field] = values[field]
	}
	return listing, nil
}

// parsePrice keeps only the digits of the price text.
func parsePrice(text *string) *int64 {
	if text == nil {
		return nil
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, *text)
	if digits == "" {
		return nil
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
