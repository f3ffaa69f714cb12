package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// CRS identifies a coordinate reference system, e.g. "EPSG:4326".
type CRS string

// WGS84 is the geographic lon/lat system used by both GBIF and the eco-region layer.
const WGS84 CRS = "EPSG:4326"

// ReferencePolygon is one eco-region. Geometry is an orb.Polygon or orb.MultiPolygon.
type ReferencePolygon struct {
	ID         string
	Name       string
	Geometry   orb.Geometry
	Attributes map[string]string
}

// PolygonTable is the immutable eco-region layer. It is built once at startup and
// shared read-only between queries, so it needs no locking.
type PolygonTable struct {
	crs      CRS
	polygons []ReferencePolygon
	index    *cellIndex
}

// NewPolygonTable validates the geometries and builds the spatial index.
// The slice is copied; callers may reuse it afterwards.
func NewPolygonTable(crs CRS, polygons []ReferencePolygon) (*PolygonTable, error) {
	if crs == "" {
		return nil, fmt.Errorf("polygon table: empty CRS")
	}
	owned := make([]ReferencePolygon, len(polygons))
	copy(owned, polygons)

	bounds := make([]orb.Bound, len(owned))
	for i, p := range owned {
		if err := ValidateRegionGeometry(p.Geometry); err != nil {
			return nil, fmt.Errorf("region %q: %w", p.ID, err)
		}
		bounds[i] = p.Geometry.Bound()
	}

	return &PolygonTable{
		crs:      crs,
		polygons: owned,
		index:    newCellIndex(bounds),
	}, nil
}

// CRS returns the coordinate system of every polygon in the table.
func (t *PolygonTable) CRS() CRS { return t.crs }

// Len returns the number of regions.
func (t *PolygonTable) Len() int { return len(t.polygons) }

// At returns the i-th region. The returned value shares geometry with the table and
// must not be modified.
func (t *PolygonTable) At(i int) ReferencePolygon { return t.polygons[i] }

// Each calls fn for every region in table order.
func (t *PolygonTable) Each(fn func(i int, p ReferencePolygon)) {
	for i, p := range t.polygons {
		fn(i, p)
	}
}

// ValidateRegionGeometry checks that g is a polygon or multipolygon whose rings are
// closed and have at least four vertices.
func ValidateRegionGeometry(g orb.Geometry) error {
	switch geom := g.(type) {
	case orb.Polygon:
		return validatePolygon(geom)
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return fmt.Errorf("empty multipolygon")
		}
		for i, p := range geom {
			if err := validatePolygon(p); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		return nil
	case nil:
		return fmt.Errorf("missing geometry")
	default:
		return fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("empty polygon")
	}
	for i, ring := range p {
		if len(ring) < 4 {
			return fmt.Errorf("ring %d has %d vertices, need at least 4", i, len(ring))
		}
		if !ring.Closed() {
			return fmt.Errorf("ring %d is not closed", i)
		}
	}
	return nil
}
