// Package render builds the map artifact for a resolved query: a GeoJSON feature
// collection, geohash marker clusters and a standalone Leaflet page.
package render

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature kinds, stored in the "kind" property.
const (
	KindRegion     = "region"
	KindOccurrence = "occurrence"
)

// DefaultGeohashPrecision groups markers into cells of roughly 20 km.
const DefaultGeohashPrecision = 4

//go:embed map.html.tmpl
var mapTemplateText string

var mapTemplate = template.Must(template.New("map").Parse(mapTemplateText))

// Options controls what goes into the artifact.
type Options struct {
	Title string

	// IncludeEmptyRegions adds regions without any matching occurrence.
	IncludeEmptyRegions bool

	// GeohashPrecision is the cluster cell size in geohash characters (1-12).
	GeohashPrecision int
}

// Cluster is a group of nearby occurrence points sharing a geohash prefix.
type Cluster struct {
	Geohash string    `json:"geohash"`
	Count   int       `json:"count"`
	Center  orb.Point `json:"center"`
}

// MapArtifact is the rendered output of one query.
type MapArtifact struct {
	GeoJSON  *geojson.FeatureCollection
	Clusters []Cluster
	HTML     []byte
}

// Render builds the map for resolved rows over the given points and regions.
// Geometries are copied, so the inputs are never modified.
func Render(resolved []domain.ResolvedOccurrence, points domain.PointTable, polygons *domain.PolygonTable, opts Options) (MapArtifact, error) {
	if polygons == nil {
		return MapArtifact{}, fmt.Errorf("render: nil polygon table")
	}
	if points.CRS != "" && points.CRS != polygons.CRS() {
		return MapArtifact{}, fmt.Errorf("render: %w: points %q, polygons %q", domain.ErrCRSMismatch, points.CRS, polygons.CRS())
	}

	precision := opts.GeohashPrecision
	if precision <= 0 || precision > 12 {
		precision = DefaultGeohashPrecision
	}

	counts := make(map[string]int)
	for _, r := range resolved {
		counts[r.RegionID]++
	}

	fc := geojson.NewFeatureCollection()
	polygons.Each(func(_ int, p domain.ReferencePolygon) {
		n := counts[p.ID]
		if n == 0 && !opts.IncludeEmptyRegions {
			return
		}
		f := geojson.NewFeature(orb.Clone(p.Geometry))
		f.ID = p.ID
		f.Properties["kind"] = KindRegion
		f.Properties["id"] = p.ID
		f.Properties["name"] = p.Name
		f.Properties["count"] = n
		fc.Append(f)
	})

	for _, pt := range points.Points {
		f := geojson.NewFeature(pt.Location)
		f.Properties = occurrenceProperties(pt.Attributes)
		fc.Append(f)
	}

	clusters := Clusters(points, precision)

	page, err := renderHTML(opts.Title, fc, clusters)
	if err != nil {
		return MapArtifact{}, err
	}

	return MapArtifact{
		GeoJSON:  fc,
		Clusters: clusters,
		HTML:     page,
	}, nil
}

// Clusters groups points by geohash prefix. The center of a cluster is the mean
// position of its points. Clusters are ordered by size, largest first.
func Clusters(points domain.PointTable, precision int) []Cluster {
	type acc struct {
		n        int
		lon, lat float64
	}
	cells := make(map[string]*acc)
	for _, pt := range points.Points {
		hash := geohash.EncodeWithPrecision(pt.Location.Lat(), pt.Location.Lon(), precision)
		a, ok := cells[hash]
		if !ok {
			a = &acc{}
			cells[hash] = a
		}
		a.n++
		a.lon += pt.Location.Lon()
		a.lat += pt.Location.Lat()
	}

	out := make([]Cluster, 0, len(cells))
	for hash, a := range cells {
		out = append(out, Cluster{
			Geohash: hash,
			Count:   a.n,
			Center:  orb.Point{a.lon / float64(a.n), a.lat / float64(a.n)},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Geohash < out[j].Geohash
	})
	return out
}

func occurrenceProperties(a domain.OccurrenceAttributes) geojson.Properties {
	props := geojson.Properties{"kind": KindOccurrence}
	setString := func(k string, v *string) {
		if v != nil {
			props[k] = *v
		}
	}
	setInt := func(k string, v *int64) {
		if v != nil {
			props[k] = *v
		}
	}
	setInt(domain.FieldKey, a.Key)
	setString(domain.FieldScientificName, a.ScientificName)
	setString(domain.FieldSpecies, a.Species)
	setString(domain.FieldBasisOfRecord, a.BasisOfRecord)
	setString(domain.FieldCountry, a.Country)
	setInt(domain.FieldYear, a.Year)
	setInt(domain.FieldIndividualCount, a.IndividualCount)
	return props
}

type pageData struct {
	Title    string
	GeoJSON  template.JS
	Clusters template.JS
}

func renderHTML(title string, fc *geojson.FeatureCollection, clusters []Cluster) ([]byte, error) {
	if title == "" {
		title = "Eco-region occurrences"
	}
	// json.Marshal escapes <, > and & so the output is safe inside a script element.
	features, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode geojson: %w", err)
	}
	markers, err := json.Marshal(clusters)
	if err != nil {
		return nil, fmt.Errorf("encode clusters: %w", err)
	}

	var buf bytes.Buffer
	err = mapTemplate.Execute(&buf, pageData{
		Title:    title,
		GeoJSON:  template.JS(features), //nolint:gosec // produced by json.Marshal
		Clusters: template.JS(markers),  //nolint:gosec // produced by json.Marshal
	})
	if err != nil {
		return nil, fmt.Errorf("render map page: %w", err)
	}
	return buf.Bytes(), nil
}
