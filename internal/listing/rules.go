package listing

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// Selectors for index and detail pages.
const (
	cardSelector      = "div.ui-organism-intersection__element"
	cardLinkSelector  = "a[href^='/properti/']"
	cardTitleSelector = "a[href^='/properti/'] h2"

	headingSelector  = "h1"
	priceSelector    = "span.text-primary.font-bold"
	locationSelector = "p.text-xs.text-gray-500.mb-2"
	updatedSelector  = "p.text-3xs.text-gray-400.mb-4"
)

// Rule extracts one field from a detail page. ok is false when the page does
// not carry the field.
type Rule struct {
	Field   string
	Extract func(doc *goquery.Document) (value string, ok bool)
}

// DetailRules is the ordered field table applied to every detail page.
var DetailRules = []Rule{
	{Field: harvest.FieldTitle, Extract: firstText(headingSelector)},
	{Field: harvest.FieldPrice, Extract: firstText(priceSelector)},
	{Field: harvest.FieldKecamatan, Extract: locationPart(true)},
	{Field: harvest.FieldKabupatenKota, Extract: locationPart(false)},
	{Field: harvest.FieldUpdated, Extract: updatedDate},
	{Field: harvest.FieldAgent, Extract: updatedAgent},
	{Field: harvest.FieldBedrooms, Extract: labelled("Kamar Tidur")},
	{Field: harvest.FieldBathrooms, Extract: labelled("Kamar Mandi")},
	{Field: harvest.FieldLandArea, Extract: labelled("Luas Tanah")},
	{Field: harvest.FieldBuildingArea, Extract: labelled("Luas Bangunan")},
	{Field: harvest.FieldCarport, Extract: labelled("Carport")},
	{Field: harvest.FieldCertificate, Extract: labelled("Sertifikat")},
	{Field: harvest.FieldPower, Extract: labelled("Daya Listrik")},
	{Field: harvest.FieldMaidBedrooms, Extract: labelled("Kamar Tidur Pembantu")},
	{Field: harvest.FieldMaidBathrooms, Extract: labelled("Kamar Mandi Pembantu")},
	{Field: harvest.FieldKitchen, Extract: labelled("Dapur")},
	{Field: harvest.FieldDiningRoom, Extract: labelled("Ruang Makan")},
	{Field: harvest.FieldLivingRoom, Extract: labelled("Ruang Tamu")},
	{Field: harvest.FieldFurnishing, Extract: labelled("Kondisi Perabotan")},
	{Field: harvest.FieldBuildingMaterial, Extract: labelled("Material Bangunan")},
	{Field: harvest.FieldFloorMaterial, Extract: labelled("Material Lantai")},
	{Field: harvest.FieldGarage, Extract: labelled("Garasi")},
	{Field: harvest.FieldFloors, Extract: labelled("Jumlah Lantai")},
	{Field: harvest.FieldStyle, Extract: labelled("Konsep dan Gaya Rumah")},
	{Field: harvest.FieldView, Extract: labelled("Pemandangan")},
	{Field: harvest.FieldInternet, Extract: labelled("Terjangkau Internet")},
	{Field: harvest.FieldRoadWidth, Extract: labelled("Lebar Jalan")},
	{Field: harvest.FieldYearBuilt, Extract: labelled("Tahun Dibangun")},
	{Field: harvest.FieldYearRenovated, Extract: labelled("Tahun Direnovasi")},
	{Field: harvest.FieldWaterSource, Extract: labelled("Sumber Air")},
	{Field: harvest.FieldHook, Extract: labelled("Hook")},
	{Field: harvest.FieldPropertyCondition, Extract: labelled("Kondisi Properti")},
}

func firstText(selector string) func(*goquery.Document) (string, bool) {
	return func(doc *goquery.Document) (string, bool) {
		return nonEmpty(doc.Find(selector).First().Text())
	}
}

// labelled reads the paragraph right after the one whose text is label.
func labelled(label string) func(*goquery.Document) (string, bool) {
	return func(doc *goquery.Document) (string, bool) {
		var (
			value string
			found bool
		)
		doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
			if !strings.EqualFold(strings.TrimSpace(p.Text()), label) {
				return true
			}
			value, found = nonEmpty(p.NextFiltered("p").Text())
			return !found
		})
		return value, found
	}
}

// locationPart splits "Kecamatan, Kota" text. The kecamatan is the first
// part; the kabupaten/kota is the last part and only exists with a comma.
func locationPart(first bool) func(*goquery.Document) (string, bool) {
	return func(doc *goquery.Document) (string, bool) {
		text, ok := firstText(locationSelector)(doc)
		if !ok {
			return "", false
		}
		parts := strings.Split(text, ",")
		if first {
			return nonEmpty(parts[0])
		}
		if len(parts) < 2 {
			return "", false
		}
		return nonEmpty(parts[len(parts)-1])
	}
}

// updatedDate reads the date out of "Diperbarui <date> oleh <agent>".
func updatedDate(doc *goquery.Document) (string, bool) {
	text, ok := firstText(updatedSelector)(doc)
	if !ok {
		return "", false
	}
	head, _, _ := strings.Cut(text, "oleh")
	fields := strings.Fields(head)
	if len(fields) < 2 {
		return "", false
	}
	return strings.Join(fields[1:], " "), true
}

func updatedAgent(doc *goquery.Document) (string, bool) {
	text, ok := firstText(updatedSelector)(doc)
	if !ok {
		return "", false
	}
	_, agent, found := strings.Cut(text, "oleh")
	if !found {
		return "", false
	}
	return nonEmpty(agent)
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}
