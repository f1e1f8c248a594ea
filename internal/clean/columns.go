package clean

import "github.com/JakeFAU/housing-harvester/internal/harvest"

type kind int

const (
	kindInt kind = iota
	kindFloat
	kindString
)

type column struct {
	name string
	kind kind
}

// listingColumns are the required listing columns in output order. The title
// is required too but is carried as the key, not as a column.
var listingColumns = []column{
	{harvest.FieldPrice, kindInt},
	{harvest.FieldKecamatan, kindString},
	{harvest.FieldKabupatenKota, kindString},
	{harvest.FieldProvinsi, kindString},
	{harvest.FieldUpdated, kindString},
	{harvest.FieldAgent, kindString},
	{harvest.FieldLink, kindString},
	{harvest.FieldBedrooms, kindInt},
	{harvest.FieldBathrooms, kindInt},
	{harvest.FieldLandArea, kindFloat},
	{harvest.FieldBuildingArea, kindFloat},
	{harvest.FieldCarport, kindInt},
	{harvest.FieldCertificate, kindString},
	{harvest.FieldPower, kindInt},
	{harvest.FieldMaidBedrooms, kindInt},
	{harvest.FieldMaidBathrooms, kindInt},
	{harvest.FieldKitchen, kindInt},
	{harvest.FieldDiningRoom, kindString},
	{harvest.FieldLivingRoom, kindString},
	{harvest.FieldFurnishing, kindString},
	{harvest.FieldBuildingMaterial, kindString},
	{harvest.FieldFloorMaterial, kindString},
	{harvest.FieldGarage, kindInt},
	{harvest.FieldFloors, kindInt},
	{harvest.FieldStyle, kindString},
	{harvest.FieldView, kindString},
	{harvest.FieldInternet, kindString},
	{harvest.FieldRoadWidth, kindString},
	{harvest.FieldYearBuilt, kindInt},
	{harvest.FieldYearRenovated, kindInt},
	{harvest.FieldWaterSource, kindString},
	{harvest.FieldHook, kindString},
	{harvest.FieldPropertyCondition, kindString},
}

// RequiredListingColumns returns every column a listing batch must carry.
func RequiredListingColumns() []string {
	out := make([]string, 0, len(listingColumns)+1)
	out = append(out, harvest.FieldTitle)
	for _, col := range listingColumns {
		out = append(out, col.name)
	}
	return out
}

// RequiredFacilityColumns returns every column a facility batch must carry.
func RequiredFacilityColumns() []string {
	return append([]string{harvest.FieldKecamatan}, harvest.FacilityCountFields...)
}
