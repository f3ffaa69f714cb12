package domain

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Resolve joins points against the eco-region table by containment. It returns one
// row per (point, containing region) pair, in point order and then table order.
// Points outside every region are omitted. Both tables must share a CRS.
func Resolve(points PointTable, polygons *PolygonTable) ([]ResolvedOccurrence, error) {
	if points.CRS != polygons.CRS() {
		return nil, fmt.Errorf("%w: points %q, polygons %q", ErrCRSMismatch, points.CRS, polygons.CRS())
	}

	out := make([]ResolvedOccurrence, 0, len(points.Points))
	for _, pt := range points.Points {
		for _, i := range polygons.index.candidates(pt.Location) {
			region := polygons.polygons[i]
			if !contains(region.Geometry, pt.Location) {
				continue
			}
			out = append(out, ResolvedOccurrence{
				Point:      pt,
				RegionID:   region.ID,
				RegionName: region.Name,
			})
		}
	}
	return out, nil
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, pt)
	default:
		return false
	}
}
