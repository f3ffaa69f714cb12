package domain

import (
	"github.com/paulmach/orb"
)

// OccurrenceRecord is one raw occurrence as decoded from the source: a sparse set of
// named fields. It never travels past [Normalize].
type OccurrenceRecord map[string]any

// Names of the occurrence fields retained by normalization.
const (
	FieldKey                    = "key"
	FieldBasisOfRecord          = "basisOfRecord"
	FieldIndividualCount        = "individualCount"
	FieldScientificName         = "scientificName"
	FieldAcceptedScientificName = "acceptedScientificName"
	FieldKingdom                = "kingdom"
	FieldPhylum                 = "phylum"
	FieldClass                  = "class"
	FieldOrder                  = "order"
	FieldFamily                 = "family"
	FieldGenus                  = "genus"
	FieldSpecies                = "species"
	FieldGenericName            = "genericName"
	FieldSpecificEpithet        = "specificEpithet"
	FieldTaxonRank              = "taxonRank"
	FieldTaxonomicStatus        = "taxonomicStatus"
	FieldIUCNRedListCategory    = "iucnRedListCategory"
	FieldDecimalLongitude       = "decimalLongitude"
	FieldDecimalLatitude        = "decimalLatitude"
	FieldContinent              = "continent"
	FieldStateProvince          = "stateProvince"
	FieldYear                   = "year"
	FieldCountryCode            = "countryCode"
	FieldCountry                = "country"
	FieldCoordinateUncertainty  = "coordinateUncertaintyInMeters"
	FieldLifeStage              = "lifeStage"
	FieldOccurrenceRemarks      = "occurrenceRemarks"
	FieldIdentificationRemarks  = "identificationRemarks"
)

// KeepFields is the fixed attribute projection applied to every occurrence record.
// Order carries no meaning.
var KeepFields = []string{
	FieldKey, FieldBasisOfRecord, FieldIndividualCount,
	FieldScientificName, FieldAcceptedScientificName,
	FieldKingdom, FieldPhylum, FieldClass, FieldOrder, FieldFamily, FieldGenus, FieldSpecies,
	FieldGenericName, FieldSpecificEpithet,
	FieldTaxonRank, FieldTaxonomicStatus, FieldIUCNRedListCategory,
	FieldDecimalLongitude, FieldDecimalLatitude,
	FieldContinent, FieldStateProvince, FieldYear, FieldCountryCode, FieldCountry,
	FieldCoordinateUncertainty, FieldLifeStage,
	FieldOccurrenceRemarks, FieldIdentificationRemarks,
}

// OccurrenceAttributes holds the allow-listed fields of a record. Nil means the field
// was absent, unparseable, or not requested.
type OccurrenceAttributes struct {
	Key                           *int64   `json:"key,omitempty"`
	BasisOfRecord                 *string  `json:"basisOfRecord,omitempty"`
	IndividualCount               *int64   `json:"individualCount,omitempty"`
	ScientificName                *string  `json:"scientificName,omitempty"`
	AcceptedScientificName        *string  `json:"acceptedScientificName,omitempty"`
	Kingdom                       *string  `json:"kingdom,omitempty"`
	Phylum                        *string  `json:"phylum,omitempty"`
	Class                         *string  `json:"class,omitempty"`
	Order                         *string  `json:"order,omitempty"`
	Family                        *string  `json:"family,omitempty"`
	Genus                         *string  `json:"genus,omitempty"`
	Species                       *string  `json:"species,omitempty"`
	GenericName                   *string  `json:"genericName,omitempty"`
	SpecificEpithet               *string  `json:"specificEpithet,omitempty"`
	TaxonRank                     *string  `json:"taxonRank,omitempty"`
	TaxonomicStatus               *string  `json:"taxonomicStatus,omitempty"`
	IUCNRedListCategory           *string  `json:"iucnRedListCategory,omitempty"`
	DecimalLongitude              *float64 `json:"decimalLongitude,omitempty"`
	DecimalLatitude               *float64 `json:"decimalLatitude,omitempty"`
	Continent                     *string  `json:"continent,omitempty"`
	StateProvince                 *string  `json:"stateProvince,omitempty"`
	Year                          *int64   `json:"year,omitempty"`
	CountryCode                   *string  `json:"countryCode,omitempty"`
	Country                       *string  `json:"country,omitempty"`
	CoordinateUncertaintyInMeters *float64 `json:"coordinateUncertaintyInMeters,omitempty"`
	LifeStage                     *string  `json:"lifeStage,omitempty"`
	OccurrenceRemarks             *string  `json:"occurrenceRemarks,omitempty"`
	IdentificationRemarks         *string  `json:"identificationRemarks,omitempty"`
}

// OccurrencePoint is a normalized occurrence with a (lon, lat) location.
type OccurrencePoint struct {
	Attributes OccurrenceAttributes `json:"attributes"`
	Location   orb.Point            `json:"location"`
}

// PointTable is the output of normalization. Points is never nil.
type PointTable struct {
	CRS     CRS               `json:"crs"`
	Points  []OccurrencePoint `json:"points"`
	Dropped int               `json:"dropped"`
}

// Len returns the number of points.
func (t PointTable) Len() int { return len(t.Points) }

// ResolvedOccurrence pairs a point with the eco-region containing it.
type ResolvedOccurrence struct {
	Point      OccurrencePoint `json:"point"`
	RegionID   string          `json:"region_id,omitempty"`
	RegionName string          `json:"region_name,omitempty"`
}

// RegionCount is the number of resolved occurrences in one eco-region.
type RegionCount struct {
	RegionID   string `json:"region_id,omitempty" yaml:"region_id,omitempty"`
	RegionName string `json:"region_name" yaml:"region_name"`
	Count      int    `json:"count" yaml:"count"`
}
