package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// fieldSetters maps each allow-listed field name to the function that copies a raw
// value into OccurrenceAttributes.
var fieldSetters = map[string]func(a *OccurrenceAttributes, v any){
	FieldKey:                    func(a *OccurrenceAttributes, v any) { a.Key = intValue(v) },
	FieldBasisOfRecord:          func(a *OccurrenceAttributes, v any) { a.BasisOfRecord = stringValue(v) },
	FieldIndividualCount:        func(a *OccurrenceAttributes, v any) { a.IndividualCount = intValue(v) },
	FieldScientificName:         func(a *OccurrenceAttributes, v any) { a.ScientificName = stringValue(v) },
	FieldAcceptedScientificName: func(a *OccurrenceAttributes, v any) { a.AcceptedScientificName = stringValue(v) },
	FieldKingdom:                func(a *OccurrenceAttributes, v any) { a.Kingdom = stringValue(v) },
	FieldPhylum:                 func(a *OccurrenceAttributes, v any) { a.Phylum = stringValue(v) },
	FieldClass:                  func(a *OccurrenceAttributes, v any) { a.Class = stringValue(v) },
	FieldOrder:                  func(a *OccurrenceAttributes, v any) { a.Order = stringValue(v) },
	FieldFamily:                 func(a *OccurrenceAttributes, v any) { a.Family = stringValue(v) },
	FieldGenus:                  func(a *OccurrenceAttributes, v any) { a.Genus = stringValue(v) },
	FieldSpecies:                func(a *OccurrenceAttributes, v any) { a.Species = stringValue(v) },
	FieldGenericName:            func(a *OccurrenceAttributes, v any) { a.GenericName = stringValue(v) },
	FieldSpecificEpithet:        func(a *OccurrenceAttributes, v any) { a.SpecificEpithet = stringValue(v) },
	FieldTaxonRank:              func(a *OccurrenceAttributes, v any) { a.TaxonRank = stringValue(v) },
	FieldTaxonomicStatus:        func(a *OccurrenceAttributes, v any) { a.TaxonomicStatus = stringValue(v) },
	FieldIUCNRedListCategory:    func(a *OccurrenceAttributes, v any) { a.IUCNRedListCategory = stringValue(v) },
	FieldDecimalLongitude:       func(a *OccurrenceAttributes, v any) { a.DecimalLongitude = floatValue(v) },
	FieldDecimalLatitude:        func(a *OccurrenceAttributes, v any) { a.DecimalLatitude = floatValue(v) },
	FieldContinent:              func(a *OccurrenceAttributes, v any) { a.Continent = stringValue(v) },
	FieldStateProvince:          func(a *OccurrenceAttributes, v any) { a.StateProvince = stringValue(v) },
	FieldYear:                   func(a *OccurrenceAttributes, v any) { a.Year = intValue(v) },
	FieldCountryCode:            func(a *OccurrenceAttributes, v any) { a.CountryCode = stringValue(v) },
	FieldCountry:                func(a *OccurrenceAttributes, v any) { a.Country = stringValue(v) },
	FieldCoordinateUncertainty:  func(a *OccurrenceAttributes, v any) { a.CoordinateUncertaintyInMeters = floatValue(v) },
	FieldLifeStage:              func(a *OccurrenceAttributes, v any) { a.LifeStage = stringValue(v) },
	FieldOccurrenceRemarks:      func(a *OccurrenceAttributes, v any) { a.OccurrenceRemarks = stringValue(v) },
	FieldIdentificationRemarks:  func(a *OccurrenceAttributes, v any) { a.IdentificationRemarks = stringValue(v) },
}

// Normalize projects raw records onto keepFields and builds a point for each record
// with numeric decimalLongitude and decimalLatitude. Records without usable
// coordinates are dropped and counted. Field names outside [KeepFields] are ignored.
// Input order is preserved and duplicates are kept.
func Normalize(records []OccurrenceRecord, keepFields []string, crs CRS) PointTable {
	setters := make([]func(*OccurrenceAttributes, any), 0, len(keepFields))
	names := make([]string, 0, len(keepFields))
	for _, f := range keepFields {
		if set, ok := fieldSetters[f]; ok {
			setters = append(setters, set)
			names = append(names, f)
		}
	}

	table := PointTable{CRS: crs, Points: make([]OccurrencePoint, 0, len(records))}
	for _, rec := range records {
		lon := floatValue(rec[FieldDecimalLongitude])
		lat := floatValue(rec[FieldDecimalLatitude])
		if lon == nil || lat == nil {
			table.Dropped++
			continue
		}

		var attrs OccurrenceAttributes
		for i, set := range setters {
			if v, ok := rec[names[i]]; ok && v != nil {
				set(&attrs, v)
			}
		}
		table.Points = append(table.Points, OccurrencePoint{
			Attributes: attrs,
			Location:   orb.Point{*lon, *lat},
		})
	}
	return table
}

func stringValue(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	return &s
}

// floatValue parses numbers and numeric strings. NaN and infinities are rejected.
func floatValue(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// intValue accepts integral numbers and integer strings.
func intValue(v any) *int64 {
	switch t := v.(type) {
	case int:
		n := int64(t)
		return &n
	case int64:
		return &t
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil
		}
		return &n
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return &n
		}
	}
	f := floatValue(v)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt64 {
		return nil
	}
	n := int64(*f)
	return &n
}
