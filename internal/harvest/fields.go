package harvest

// Document keys for raw and cleaned listings. The names match the columns the
// downstream analytics tables were built against, so they stay in Indonesian.
const (
	FieldTitle         = "judul_iklan"
	FieldPrice         = "harga"
	FieldKecamatan     = "kecamatan"
	FieldKabupatenKota = "kabupaten_kota"
	FieldProvinsi      = "provinsi"
	FieldUpdated       = "terakhir_diperbarui"
	FieldAgent         = "agen"
	FieldLink          = "link_rumah123"
	FieldScrapedAt     = "waktu_scraping"

	FieldProvince   = "province"
	FieldPage       = "page"
	FieldInsertedAt = "inserted_at"
)

// Structured listing attributes, in the order they appear on a detail page.
const (
	FieldBedrooms          = "kamar_tidur"
	FieldBathrooms         = "kamar_mandi"
	FieldLandArea          = "luas_tanah"
	FieldBuildingArea      = "luas_bangunan"
	FieldCarport           = "carport"
	FieldCertificate       = "sertifikat"
	FieldPower             = "daya_listrik"
	FieldMaidBedrooms      = "kamar_tidur_pembantu"
	FieldMaidBathrooms     = "kamar_mandi_pembantu"
	FieldKitchen           = "dapur"
	FieldDiningRoom        = "ruang_makan"
	FieldLivingRoom        = "ruang_tamu"
	FieldFurnishing        = "kondisi_perabotan"
	FieldBuildingMaterial  = "material_bangunan"
	FieldFloorMaterial     = "material_lantai"
	FieldGarage            = "garasi"
	FieldFloors            = "jumlah_lantai"
	FieldStyle             = "konsep_dan_gaya_rumah"
	FieldView              = "pemandangan"
	FieldInternet          = "terjangkau_internet"
	FieldRoadWidth         = "lebar_jalan"
	FieldYearBuilt         = "tahun_dibangun"
	FieldYearRenovated     = "tahun_direnovasi"
	FieldWaterSource       = "sumber_air"
	FieldHook              = "hook"
	FieldPropertyCondition = "kondisi_properti"
)

// AttributeFields lists every structured attribute a detail page may carry.
var AttributeFields = []string{
	FieldBedrooms,
	FieldBathrooms,
	FieldLandArea,
	FieldBuildingArea,
	FieldCarport,
	FieldCertificate,
	FieldPower,
	FieldMaidBedrooms,
	FieldMaidBathrooms,
	FieldKitchen,
	FieldDiningRoom,
	FieldLivingRoom,
	FieldFurnishing,
	FieldBuildingMaterial,
	FieldFloorMaterial,
	FieldGarage,
	FieldFloors,
	FieldStyle,
	FieldView,
	FieldInternet,
	FieldRoadWidth,
	FieldYearBuilt,
	FieldYearRenovated,
	FieldWaterSource,
	FieldHook,
	FieldPropertyCondition,
}

// Facility document keys.
const (
	FieldEducation = "jumlah_fasilitas_pendidikan"
	FieldHealth    = "jumlah_fasilitas_kesehatan"
	FieldRetail    = "jumlah_fasilitas_perbelanjaan"
	FieldTransport = "jumlah_fasilitas_transportasi"
	FieldLeisure   = "jumlah_fasilitas_rekreasi"
	FieldStatus    = "status"
	FieldTimestamp = "timestamp"
	FieldUpdatedAt = "updated_at"
)

// FacilityCountFields lists the five facility category counters.
var FacilityCountFields = []string{
	FieldEducation,
	FieldHealth,
	FieldRetail,
	FieldTransport,
	FieldLeisure,
}
