// Package reference loads the static data every query runs against: the eco-region
// polygon layer and the selectable taxon names. Both loaders read the whole file up
// front and fail on the first problem; a half-loaded layer is never returned.
package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/paulmach/orb/encoding/wkt"
)

// Default column names of the eco-region and taxon files.
const (
	DefaultIDColumn       = "ECO_ID"
	DefaultNameColumn     = "ECO_NAME"
	DefaultGeometryColumn = "geometry"
	DefaultGenusColumn    = "nom_genre"
	DefaultSpeciesColumn  = "nom_complet"
)

// PolygonOptions names the columns of the eco-region CSV. Empty fields fall back to
// the defaults. Columns other than these are kept as region attributes.
type PolygonOptions struct {
	IDColumn       string
	NameColumn     string
	GeometryColumn string
	Comma          rune
}

// TaxonOptions names the columns of the taxon CSV.
type TaxonOptions struct {
	GenusColumn   string
	SpeciesColumn string
	Comma         rune
}

var errEmptyTable = errors.New("no data rows")

// LoadPolygons reads the eco-region CSV at path. Every geometry must decode as WKT
// Polygon or MultiPolygon with closed rings. The returned table is tagged EPSG:4326.
func LoadPolygons(path string, opts PolygonOptions) (*domain.PolygonTable, error) {
	idCol := orDefault(opts.IDColumn, DefaultIDColumn)
	nameCol := orDefault(opts.NameColumn, DefaultNameColumn)
	geomCol := orDefault(opts.GeometryColumn, DefaultGeometryColumn)

	var polygons []domain.ReferencePolygon
	err := readCSV(path, opts.Comma, []string{idCol, nameCol, geomCol}, func(line int, header []string, row []string, cols map[string]int) error {
		name := strings.TrimSpace(row[cols[nameCol]])
		if name == "" {
			return fmt.Errorf("empty %s", nameCol)
		}
		geom, err := wkt.Unmarshal(row[cols[geomCol]])
		if err != nil {
			return fmt.Errorf("decode %s: %w", geomCol, err)
		}
		if err := domain.ValidateRegionGeometry(geom); err != nil {
			return err
		}

		attrs := make(map[string]string, len(header)-3)
		for i, h := range header {
			if h == idCol || h == nameCol || h == geomCol {
				continue
			}
			attrs[h] = strings.TrimSpace(row[i])
		}
		polygons = append(polygons, domain.ReferencePolygon{
			ID:         strings.TrimSpace(row[cols[idCol]]),
			Name:       name,
			Geometry:   geom,
			Attributes: attrs,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(polygons) == 0 {
		return nil, &domain.ReferenceLoadError{Path: path, Err: errEmptyTable}
	}

	table, err := domain.NewPolygonTable(domain.WGS84, polygons)
	if err != nil {
		return nil, &domain.ReferenceLoadError{Path: path, Err: err}
	}
	return table, nil
}

// LoadTaxonIndex reads the (genus, full name) CSV at path.
func LoadTaxonIndex(path string, opts TaxonOptions) (*domain.NameIndex, error) {
	genusCol := orDefault(opts.GenusColumn, DefaultGenusColumn)
	speciesCol := orDefault(opts.SpeciesColumn, DefaultSpeciesColumn)

	var names []domain.TaxonName
	err := readCSV(path, opts.Comma, []string{genusCol, speciesCol}, func(_ int, _ []string, row []string, cols map[string]int) error {
		n := domain.TaxonName{
			Genus:   strings.TrimSpace(row[cols[genusCol]]),
			Species: strings.TrimSpace(row[cols[speciesCol]]),
		}
		if n.Genus == "" || n.Species == "" {
			return fmt.Errorf("empty %s or %s", genusCol, speciesCol)
		}
		names = append(names, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, &domain.ReferenceLoadError{Path: path, Err: errEmptyTable}
	}
	return domain.NewNameIndex(names), nil
}

type rowFunc func(line int, header, row []string, cols map[string]int) error

// readCSV streams path row by row, checking that every required column is present in
// the header. Errors are returned as *domain.ReferenceLoadError.
func readCSV(path string, comma rune, required []string, fn rowFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return &domain.ReferenceLoadError{Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	if comma != 0 {
		r.Comma = comma
	}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &domain.ReferenceLoadError{Path: path, Err: errors.New("missing header")}
	}
	if err != nil {
		return &domain.ReferenceLoadError{Path: path, Line: 1, Err: err}
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		cols[h] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return &domain.ReferenceLoadError{Path: path, Line: 1, Err: fmt.Errorf("missing column %q", c)}
		}
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var line int
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			return &domain.ReferenceLoadError{Path: path, Line: line, Err: err}
		}
		line, _ := r.FieldPos(0)
		if err := fn(line, header, row, cols); err != nil {
			return &domain.ReferenceLoadError{Path: path, Line: line, Err: err}
		}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
