package domain

import (
	"math"
	"slices"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// Cell levels for region coverings. Level 3 cells are roughly 1000km across and level
// 9 cells roughly 15km; eco-regions range from islands to half a continent, so eight
// cells between those levels bound each region tightly enough to skip most candidates.
const (
	coverMinLevel = 3
	coverMaxLevel = 9
	coverMaxCells = 8

	// boundPadDegrees widens each bounding box before covering so that points on the
	// box edge still land in a covering cell.
	boundPadDegrees = 1e-6
)

// cellIndex maps S2 cells to the regions whose bounding boxes they cover.
// It only narrows the candidate set; containment is always confirmed with
// planar tests.
type cellIndex struct {
	cells map[s2.CellID][]int
}

func newCellIndex(bounds []orb.Bound) *cellIndex {
	rc := &s2.RegionCoverer{
		MinLevel: coverMinLevel,
		MaxLevel: coverMaxLevel,
		LevelMod: 1,
		MaxCells: coverMaxCells,
	}

	idx := &cellIndex{cells: make(map[s2.CellID][]int)}
	for i, b := range bounds {
		for _, cell := range rc.Covering(boundToRect(b)) {
			idx.cells[cell] = append(idx.cells[cell], i)
		}
	}
	return idx
}

// candidates returns the deduplicated indexes of regions whose covering contains
// the point, in ascending order.
func (idx *cellIndex) candidates(pt orb.Point) []int {
	lon, lat := pt[0], pt[1]
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return nil
	}

	leaf := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon))

	var out []int
	seen := make(map[int]struct{})
	// Coverings may be normalized to coarser cells than coverMinLevel, so walk
	// every ancestor of the leaf.
	for level := coverMaxLevel; level >= 0; level-- {
		for _, i := range idx.cells[leaf.Parent(level)] {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			out = append(out, i)
		}
	}
	slices.Sort(out)
	return out
}

// boundToRect converts an orb.Bound in lon/lat degrees to a padded S2 rectangle.
func boundToRect(b orb.Bound) s2.Rect {
	minLon := clamp(b.Min[0]-boundPadDegrees, -180, 180)
	maxLon := clamp(b.Max[0]+boundPadDegrees, -180, 180)
	minLat := clamp(b.Min[1]-boundPadDegrees, -90, 90)
	maxLat := clamp(b.Max[1]+boundPadDegrees, -90, 90)

	return s2.Rect{
		Lat: r1.Interval{Lo: radians(minLat), Hi: radians(maxLat)},
		Lng: s1.IntervalFromEndpoints(radians(minLon), radians(maxLon)),
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
