// Command validate checks the reference data and the mock occurrence fixture
// before they are shipped: the eco-region layer, the selectable taxon list, the
// fixture's internal consistency, and an end-to-end resolution of every fixture
// taxon against the layer.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -regions data/eco_regions.csv \
//	  -taxa data/taxons.csv \
//	  -fixture data/mock/occurrences.json
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/fixture"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/pipeline"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/reference"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	regionsPath := flag.String("regions", "data/eco_regions.csv", "eco-region CSV with WKT geometries")
	taxaPath := flag.String("taxa", "data/taxons.csv", "selectable taxon CSV")
	fixturePath := flag.String("fixture", "data/mock/occurrences.json", "mock occurrence fixture")
	flag.Parse()

	if *regionsPath == "" || *taxaPath == "" || *fixturePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(os.Stdout, *regionsPath, *taxaPath, *fixturePath))
}

func run(out io.Writer, regionsPath, taxaPath, fixturePath string) int {
	// Fixed clock so result timestamps are reproducible between runs.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.May, 2, 9, 30, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	fmt.Fprintln(out, "=== Eco-region Reference Validation ===")
	fmt.Fprintln(out)

	polygons, err := reference.LoadPolygons(regionsPath, reference.PolygonOptions{})
	if err != nil {
		fmt.Fprintf(out, "FATAL: load eco-regions: %v\n", err)
		return 1
	}
	names, err := reference.LoadTaxonIndex(taxaPath, reference.TaxonOptions{})
	if err != nil {
		fmt.Fprintf(out, "FATAL: load taxon index: %v\n", err)
		return 1
	}
	fix, err := fixture.ReadFile(fixturePath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load fixture: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateRegions(polygons),
		validateTaxonIndex(names),
		validateFixture(fix),
		validateFixtureNames(fix, names),
		validateResolution(fix, polygons),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Records: %d eco-regions, %d taxa, %d fixture taxa, %d fixture occurrences\n",
		polygons.Len(), names.Len(), len(fix.Taxa), countOccurrences(fix))

	for _, p := range phases {
		if len(p.notes) == 0 && p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for _, n := range p.notes {
			fmt.Fprintf(out, "  note: %s\n", n)
		}
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func countOccurrences(f fixture.File) int {
	n := 0
	for _, t := range f.Taxa {
		n += len(t.Occurrences)
	}
	return n
}

// ── Phase 1: Eco-regions ──
// Geometry shape is already enforced by the loader; this phase checks identity
// and extent.

var world = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

func validateRegions(polygons *domain.PolygonTable) *phase {
	p := &phase{name: "Phase 1: Eco-regions (identity, extent)"}

	seen := make(map[string]int, polygons.Len())
	polygons.Each(func(i int, r domain.ReferencePolygon) {
		if r.ID == "" {
			p.errorf("region %d: empty id", i)
		} else if prev, ok := seen[r.ID]; ok {
			p.errorf("region %d: id %q already used by region %d", i, r.ID, prev)
		} else {
			seen[r.ID] = i
		}
		if strings.TrimSpace(r.Name) == "" {
			p.errorf("region %d (%s): empty name", i, r.ID)
		}

		b := r.Geometry.Bound()
		if !world.Contains(b.Min) || !world.Contains(b.Max) {
			p.errorf("region %d (%s): bound %v outside lon/lat range", i, r.ID, b)
		}
		if planar.Area(r.Geometry) <= 0 {
			p.errorf("region %d (%s): zero area", i, r.ID)
		}
	})
	return p
}

// ── Phase 2: Taxon index ──

func validateTaxonIndex(names *domain.NameIndex) *phase {
	p := &phase{name: "Phase 2: Taxon index (genus prefixes)"}

	for _, genus := range names.Genera() {
		if strings.TrimSpace(genus) == "" {
			p.errorf("empty genus")
			continue
		}
		for _, sp := range names.Species(genus) {
			if !strings.HasPrefix(sp, genus+" ") {
				p.errorf("species %q does not start with its genus %q", sp, genus)
			}
		}
	}
	return p
}

// ── Phase 3: Fixture integrity ──

func validateFixture(f fixture.File) *phase {
	p := &phase{name: "Phase 3: Fixture integrity"}

	names := map[string]bool{}
	keys := map[string]string{}
	for i, t := range f.Taxa {
		id := fmt.Sprintf("taxon %d (%s)", i, t.Name)
		rank, err := domain.ParseRank(string(t.Rank))
		if err != nil {
			p.errorf("%s: %v", id, err)
			continue
		}
		nk := string(rank) + "|" + strings.ToLower(strings.Join(strings.Fields(t.Name), " "))
		if names[nk] {
			p.errorf("%s: duplicate name at rank %s", id, rank)
		}
		names[nk] = true

		if t.Match.Resolved {
			if t.Match.Key == 0 {
				p.errorf("%s: resolved match without a key", id)
			}
			if t.Match.CanonicalName == "" {
				p.errorf("%s: resolved match without a canonical name", id)
			}
		} else if len(t.Occurrences) > 0 {
			p.errorf("%s: unresolved match carries %d occurrences", id, len(t.Occurrences))
		}

		for j, rec := range t.Occurrences {
			k := fmt.Sprint(rec["key"])
			if rec["key"] == nil {
				p.errorf("%s occurrence %d: missing key", id, j)
				continue
			}
			if prev, ok := keys[k]; ok {
				p.errorf("%s occurrence %d: key %s already used by %s", id, j, k, prev)
			}
			keys[k] = t.Name
		}

		table := domain.Normalize(t.Occurrences, domain.KeepFields, domain.WGS84)
		if table.Dropped > 0 {
			p.notef("%s: %d of %d occurrences lack usable coordinates", t.Name, table.Dropped, len(t.Occurrences))
		}
	}
	return p
}

// ── Phase 4: Fixture names ──
// Every fixture name should be selectable in the UI.

func validateFixtureNames(f fixture.File, names *domain.NameIndex) *phase {
	p := &phase{name: "Phase 4: Fixture names (taxon index)"}

	for _, t := range f.Taxa {
		name := strings.Join(strings.Fields(t.Name), " ")
		switch t.Rank {
		case domain.RankGenus:
			if !slices.Contains(names.Genera(), name) {
				p.errorf("genus %q not in taxon index", name)
			}
		case "", domain.RankSpecies:
			genus, _, _ := strings.Cut(name, " ")
			if !slices.Contains(names.Species(genus), name) {
				p.errorf("species %q not in taxon index", name)
			}
		default:
			p.notef("%s %q is not checked against the index", t.Rank, name)
		}
	}
	return p
}

// ── Phase 5: Resolution ──
// Runs every fixture taxon through the query service.

func validateResolution(f fixture.File, polygons *domain.PolygonTable) *phase {
	p := &phase{name: "Phase 5: Resolution (fixture vs eco-regions)"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := pipeline.NewService(fixture.New(f), polygons, pipeline.Options{}, observability.NewMetricsForTesting(), logger)

	for _, t := range f.Taxa {
		res, err := svc.Resolve(context.Background(), pipeline.Query{Name: t.Name, Rank: t.Rank})
		if err != nil {
			p.errorf("%s: %v", t.Name, err)
			continue
		}

		want := pipeline.StatusUnresolved
		if t.Match.Resolved {
			want = pipeline.StatusNoOccurrences
			if res.Summary.TotalResolved > 0 {
				want = pipeline.StatusOK
			}
		}
		if res.Status != want {
			p.errorf("%s: status %s, expected %s", t.Name, res.Status, want)
		}
		if res.Fetched != len(t.Occurrences) {
			p.errorf("%s: fetched %d of %d fixture occurrences", t.Name, res.Fetched, len(t.Occurrences))
		}

		outside := res.Points.Len() - res.Summary.TotalResolved
		p.notef("%s: %s, %d resolved in %d regions, %d outside every region",
			t.Name, res.Status, res.Summary.TotalResolved, res.Summary.DistinctRegions, outside)
	}
	return p
}
