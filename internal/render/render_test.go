package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(minLon, minLat, maxLon, maxLat float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}}
}

func testPolygons(t *testing.T) *domain.PolygonTable {
	t.Helper()
	table, err := domain.NewPolygonTable(domain.WGS84, []domain.ReferencePolygon{
		{ID: "PA0445", Name: "Western European broadleaf forests", Geometry: box(0, 45, 12, 52)},
		{ID: "PA1209", Name: "Iberian sclerophyllous and semi-deciduous forests", Geometry: box(-9.5, 36, -1, 43)},
	})
	require.NoError(t, err)
	return table
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func testPoints() domain.PointTable {
	return domain.PointTable{
		CRS: domain.WGS84,
		Points: []domain.OccurrencePoint{
			{Location: orb.Point{2.35, 48.85}, Attributes: domain.OccurrenceAttributes{Key: int64Ptr(1), ScientificName: strPtr("Cixius nervosus")}},
			{Location: orb.Point{2.36, 48.86}, Attributes: domain.OccurrenceAttributes{Key: int64Ptr(2)}},
			{Location: orb.Point{-40, 0}, Attributes: domain.OccurrenceAttributes{Key: int64Ptr(3)}},
		},
	}
}

func resolveAll(t *testing.T, points domain.PointTable, polygons *domain.PolygonTable) []domain.ResolvedOccurrence {
	t.Helper()
	resolved, err := domain.Resolve(points, polygons)
	require.NoError(t, err)
	return resolved
}

func featuresOfKind(fc *geojson.FeatureCollection, kind string) []*geojson.Feature {
	var out []*geojson.Feature
	for _, f := range fc.Features {
		if f.Properties["kind"] == kind {
			out = append(out, f)
		}
	}
	return out
}

func TestRender_MatchedRegionsAndAllPoints(t *testing.T) {
	polygons := testPolygons(t)
	points := testPoints()

	art, err := Render(resolveAll(t, points, polygons), points, polygons, Options{})
	require.NoError(t, err)

	regions := featuresOfKind(art.GeoJSON, KindRegion)
	require.Len(t, regions, 1, "only regions with matches by default")
	assert.Equal(t, "PA0445", regions[0].ID)
	assert.Equal(t, 2, regions[0].Properties["count"])

	occ := featuresOfKind(art.GeoJSON, KindOccurrence)
	require.Len(t, occ, 3, "every point is drawn, resolved or not")
	assert.Equal(t, int64(1), occ[0].Properties[domain.FieldKey])
	assert.Equal(t, "Cixius nervosus", occ[0].Properties[domain.FieldScientificName])
	assert.NotContains(t, occ[1].Properties, domain.FieldScientificName)
}

func TestRender_IncludeEmptyRegions(t *testing.T) {
	polygons := testPolygons(t)
	points := testPoints()

	art, err := Render(resolveAll(t, points, polygons), points, polygons, Options{IncludeEmptyRegions: true})
	require.NoError(t, err)

	regions := featuresOfKind(art.GeoJSON, KindRegion)
	require.Len(t, regions, 2)
	assert.Equal(t, 0, regions[1].Properties["count"])
}

func TestRender_DoesNotMutateInputs(t *testing.T) {
	polygons := testPolygons(t)
	points := testPoints()
	resolved := resolveAll(t, points, polygons)

	before := polygons.At(0).Geometry.(orb.Polygon)[0][0]
	pointsBefore := append([]domain.OccurrencePoint(nil), points.Points...)
	resolvedLen := len(resolved)

	art, err := Render(resolved, points, polygons, Options{})
	require.NoError(t, err)

	// Writing to the artifact's geometry must not reach the reference table.
	regions := featuresOfKind(art.GeoJSON, KindRegion)
	regions[0].Geometry.(orb.Polygon)[0][0] = orb.Point{99, 99}

	assert.Equal(t, before, polygons.At(0).Geometry.(orb.Polygon)[0][0])
	assert.Empty(t, cmp.Diff(pointsBefore, points.Points))
	assert.Len(t, resolved, resolvedLen)
}

func TestRender_GeoJSONIsValid(t *testing.T) {
	polygons := testPolygons(t)
	points := testPoints()

	art, err := Render(resolveAll(t, points, polygons), points, polygons, Options{})
	require.NoError(t, err)

	data, err := json.Marshal(art.GeoJSON)
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 4)
}

func TestRender_HTML(t *testing.T) {
	polygons := testPolygons(t)
	points := testPoints()

	art, err := Render(resolveAll(t, points, polygons), points, polygons, Options{Title: "Cixius <nervosus>"})
	require.NoError(t, err)

	page := string(art.HTML)
	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "Cixius &lt;nervosus&gt;", "title is escaped")
	assert.Contains(t, page, "leaflet")
	assert.Contains(t, page, `"PA0445"`)
	assert.Contains(t, page, "Western European broadleaf forests")
}

func TestRender_NoPoints(t *testing.T) {
	polygons := testPolygons(t)

	art, err := Render(nil, domain.PointTable{CRS: domain.WGS84, Points: []domain.OccurrencePoint{}}, polygons, Options{})
	require.NoError(t, err)
	assert.Empty(t, art.GeoJSON.Features)
	assert.Empty(t, art.Clusters)
	assert.NotEmpty(t, art.HTML)
}

func TestRender_Errors(t *testing.T) {
	_, err := Render(nil, domain.PointTable{CRS: domain.WGS84}, nil, Options{})
	require.Error(t, err)

	_, err = Render(nil, domain.PointTable{CRS: "EPSG:3857"}, testPolygons(t), Options{})
	require.ErrorIs(t, err, domain.ErrCRSMismatch)
}

func TestClusters(t *testing.T) {
	points := testPoints()

	clusters := Clusters(points, 4)
	require.Len(t, clusters, 2)

	assert.Equal(t, 2, clusters[0].Count)
	assert.Len(t, clusters[0].Geohash, 4)
	assert.InDelta(t, 2.355, clusters[0].Center.Lon(), 1e-9)
	assert.InDelta(t, 48.855, clusters[0].Center.Lat(), 1e-9)
	assert.Equal(t, 1, clusters[1].Count)

	total := 0
	for _, c := range Clusters(points, 1) {
		total += c.Count
	}
	assert.Equal(t, points.Len(), total)
}
