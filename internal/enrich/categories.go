package enrich

import "github.com/JakeFAU/housing-harvester/internal/harvest"

// Category is one facility counter and the Overpass filter expressions whose
// counts are summed into it.
type Category struct {
	Field   string
	Filters []string
}

// Categories is the fixed facility table, in query order.
var Categories = []Category{
	{
		Field:   harvest.FieldEducation,
		Filters: []string{`amenity~"school|university|college|kindergarten"`},
	},
	{
		Field:   harvest.FieldHealth,
		Filters: []string{`amenity~"hospital|clinic|doctors|dentist|pharmacy"`},
	},
	{
		Field: harvest.FieldRetail,
		Filters: []string{
			`shop~"supermarket|mall|department_store|convenience"`,
			`amenity~"marketplace|shopping_mall"`,
		},
	},
	{
		Field: harvest.FieldTransport,
		Filters: []string{
			`amenity~"bus_station|taxi|ferry_terminal"`,
			`aeroway~"aerodrome|terminal"`,
			`railway~"station|halt"`,
		},
	},
	{
		Field: harvest.FieldLeisure,
		Filters: []string{
			`leisure~"park|sports_centre|fitness_centre|swimming_pool"`,
			`amenity~"park|theatre|cinema"`,
		},
	},
}
