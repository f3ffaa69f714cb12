// Package domain models species occurrences resolved against WWF eco-regions.
//
// # Data Sources
//
// Occurrence records come from the GBIF API (https://api.gbif.org/v1). A scientific
// name is first matched against the GBIF backbone taxonomy (species/match), and the
// resulting usage key is used to page through occurrence/search. Records arrive as
// sparse JSON objects; only the fields listed in [KeepFields] survive normalization.
//
// Eco-region polygons come from a CSV export of the WWF terrestrial eco-regions layer,
// one row per region with the geometry as WKT in EPSG:4326 (lon/lat degrees).
//
// # Coordinates
//
// Points are orb.Point values in (longitude, latitude) order. Every table carries a
// [CRS] tag; joining tables with different tags fails with [ErrCRSMismatch] instead
// of coercing.
//
// # Containment
//
// [Resolve] emits one row per (point, containing region) pair. Candidate regions are
// found through an S2 cell covering of each region's bounding box and then confirmed
// with planar point-in-polygon tests, so the index never changes the result set.
//
// A point lying on a region's outer ring counts as inside, a point on a hole's ring
// counts as outside, and a point on a seam shared by two regions yields one row for
// each of them.
//
// # Outcomes
//
// A name that does not resolve, a taxon with no occurrences, and records without
// usable coordinates are all ordinary outcomes, not errors. Only I/O failures while
// paging ([FetchError]) and reference-data problems ([ReferenceLoadError]) are errors.
package domain
