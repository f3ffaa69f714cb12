package domain

import "sort"

// Aggregate counts resolved occurrences per region. Rows without a region name are
// ignored, so the counts sum to the number of rows that name a region. Entries are
// ordered by count, highest first, then by name.
func Aggregate(resolved []ResolvedOccurrence) []RegionCount {
	byName := make(map[string]*RegionCount)
	for _, r := range resolved {
		if r.RegionName == "" {
			continue
		}
		rc, ok := byName[r.RegionName]
		if !ok {
			rc = &RegionCount{RegionID: r.RegionID, RegionName: r.RegionName}
			byName[r.RegionName] = rc
		}
		rc.Count++
	}

	out := make([]RegionCount, 0, len(byName))
	for _, rc := range byName {
		out = append(out, *rc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RegionName < out[j].RegionName
	})
	return out
}

// DistinctRegions returns the number of regions named by at least one row.
func DistinctRegions(resolved []ResolvedOccurrence) int {
	seen := make(map[string]struct{})
	for _, r := range resolved {
		if r.RegionName != "" {
			seen[r.RegionName] = struct{}{}
		}
	}
	return len(seen)
}
