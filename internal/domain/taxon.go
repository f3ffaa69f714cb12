package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Rank is a taxonomic level at which a name is matched.
type Rank string

const (
	RankKingdom    Rank = "kingdom"
	RankPhylum     Rank = "phylum"
	RankClass      Rank = "class"
	RankOrder      Rank = "order"
	RankFamily     Rank = "family"
	RankGenus      Rank = "genus"
	RankSpecies    Rank = "species"
	RankSubspecies Rank = "subspecies"
)

var knownRanks = map[Rank]struct{}{
	RankKingdom: {}, RankPhylum: {}, RankClass: {}, RankOrder: {},
	RankFamily: {}, RankGenus: {}, RankSpecies: {}, RankSubspecies: {},
}

// ParseRank accepts a rank name in any case. An empty string means species.
func ParseRank(s string) (Rank, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RankSpecies, nil
	}
	r := Rank(s)
	if _, ok := knownRanks[r]; !ok {
		return "", fmt.Errorf("unknown taxon rank %q", s)
	}
	return r, nil
}

// Lineage is the classification chain returned by name matching.
type Lineage struct {
	Kingdom string `json:"kingdom,omitempty" yaml:"kingdom,omitempty"`
	Phylum  string `json:"phylum,omitempty" yaml:"phylum,omitempty"`
	Class   string `json:"class,omitempty" yaml:"class,omitempty"`
	Order   string `json:"order,omitempty" yaml:"order,omitempty"`
	Family  string `json:"family,omitempty" yaml:"family,omitempty"`
	Genus   string `json:"genus,omitempty" yaml:"genus,omitempty"`
	Species string `json:"species,omitempty" yaml:"species,omitempty"`
}

// ResolvedTaxon is the outcome of matching a name against the backbone taxonomy.
// Resolved is false when no canonical taxon was found; Key is then zero.
type ResolvedTaxon struct {
	Resolved       bool    `json:"resolved" yaml:"resolved"`
	Key            int64   `json:"key,omitempty" yaml:"key,omitempty"`
	ScientificName string  `json:"scientific_name,omitempty" yaml:"scientific_name,omitempty"`
	CanonicalName  string  `json:"canonical_name,omitempty" yaml:"canonical_name,omitempty"`
	Rank           Rank    `json:"rank,omitempty" yaml:"rank,omitempty"`
	Status         string  `json:"status,omitempty" yaml:"status,omitempty"`         // ACCEPTED, SYNONYM, DOUBTFUL
	MatchType      string  `json:"match_type,omitempty" yaml:"match_type,omitempty"` // EXACT, FUZZY, HIGHERRANK, NONE
	Confidence     int     `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Lineage        Lineage `json:"lineage" yaml:"lineage"`
}

// Unresolved returns the result for a name with no canonical match.
func Unresolved(matchType string) ResolvedTaxon {
	return ResolvedTaxon{MatchType: matchType}
}

// TaxonName is one row of the selectable-names file.
type TaxonName struct {
	Genus   string
	Species string
}

// NameIndex groups full scientific names by genus for selection lists.
// It is immutable after construction.
type NameIndex struct {
	genera  []string
	byGenus map[string][]string
	all     []string
}

// NewNameIndex builds an index. Duplicate names are kept once; genera and species
// lists are sorted.
func NewNameIndex(names []TaxonName) *NameIndex {
	byGenus := make(map[string][]string)
	seen := make(map[TaxonName]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		byGenus[n.Genus] = append(byGenus[n.Genus], n.Species)
	}

	idx := &NameIndex{byGenus: byGenus}
	for g, species := range byGenus {
		sort.Strings(species)
		idx.genera = append(idx.genera, g)
		idx.all = append(idx.all, species...)
	}
	sort.Strings(idx.genera)
	sort.Strings(idx.all)
	return idx
}

// Len returns the number of distinct (genus, species) entries.
func (x *NameIndex) Len() int { return len(x.all) }

// Genera returns the sorted genus names. The slice must not be modified.
func (x *NameIndex) Genera() []string { return x.genera }

// Species returns the sorted full names recorded for genus, or nil.
// The slice must not be modified.
func (x *NameIndex) Species(genus string) []string { return x.byGenus[genus] }

// Suggest returns up to limit known names closest to query by edit distance,
// ignoring case. Names further than half the query length away are skipped.
func (x *NameIndex) Suggest(query string, limit int) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}
	maxDist := len(q)/2 + 1

	type scored struct {
		name string
		dist int
	}
	var hits []scored
	for _, name := range x.all {
		lower := strings.ToLower(name)
		var d int
		if strings.HasPrefix(lower, q) {
			d = 0
		} else {
			d = levenshtein.ComputeDistance(q, lower)
		}
		if d <= maxDist {
			hits = append(hits, scored{name: name, dist: d})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}
