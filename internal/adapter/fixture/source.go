// Package fixture serves occurrence data from a JSON file so the resolver can run
// without network access. Fixtures are produced by cmd/genmock.
package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
)

// File is the on-disk fixture layout.
type File struct {
	Taxa []Taxon `json:"taxa"`
}

// Taxon is one matchable name and every occurrence recorded for it.
type Taxon struct {
	Name        string                    `json:"name"`
	Rank        domain.Rank               `json:"rank"`
	Match       domain.ResolvedTaxon      `json:"match"`
	Occurrences []domain.OccurrenceRecord `json:"occurrences"`
}

// Source implements domain.OccurrenceSource over an in-memory fixture.
type Source struct {
	byName map[string]domain.ResolvedTaxon
	byKey  map[int64][]domain.OccurrenceRecord
}

// Load reads a fixture file and builds a source from it.
func Load(path string) (*Source, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// ReadFile decodes a fixture file. Numbers are kept as json.Number, the way
// GBIF responses are decoded.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read fixture: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var f File
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return f, nil
}

// WriteFile stores f as indented JSON, creating parent directories as needed.
func WriteFile(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// New builds a source from an already decoded fixture.
func New(f File) *Source {
	s := &Source{
		byName: make(map[string]domain.ResolvedTaxon, len(f.Taxa)),
		byKey:  make(map[int64][]domain.OccurrenceRecord, len(f.Taxa)),
	}
	for _, t := range f.Taxa {
		rank := t.Rank
		if rank == "" {
			rank = domain.RankSpecies
		}
		s.byName[nameKey(t.Name, rank)] = t.Match
		if t.Match.Resolved {
			s.byKey[t.Match.Key] = append(s.byKey[t.Match.Key], t.Occurrences...)
		}
	}
	return s
}

// MatchName returns the fixture's match for name, or an unresolved taxon.
func (s *Source) MatchName(ctx context.Context, name string, rank domain.Rank) (domain.ResolvedTaxon, error) {
	if err := ctx.Err(); err != nil {
		return domain.ResolvedTaxon{}, err
	}
	if t, ok := s.byName[nameKey(name, rank)]; ok {
		return t, nil
	}
	return domain.Unresolved("NONE"), nil
}

// SearchOccurrences pages through the fixture's records for q.TaxonKey.
func (s *Source) SearchOccurrences(ctx context.Context, q domain.OccurrenceQuery) (domain.OccurrencePage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OccurrencePage{}, err
	}
	all := s.byKey[q.TaxonKey]
	start := min(max(q.Offset, 0), len(all))
	end := len(all)
	if q.Limit > 0 {
		end = min(start+q.Limit, len(all))
	}
	return domain.OccurrencePage{
		Records:      all[start:end:end],
		EndOfRecords: end == len(all),
		Count:        int64(len(all)),
	}, nil
}

func nameKey(name string, rank domain.Rank) string {
	return string(rank) + "|" + strings.ToLower(strings.Join(strings.Fields(name), " "))
}
