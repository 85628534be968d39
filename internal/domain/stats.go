package domain

import (
	"sort"
	"time"
)

// Summary aggregates a report collection for the history screens.
type Summary struct {
	Kind       Kind           `json:"kind"`
	Total      int            `json:"total"`
	Resolved   int            `json:"resolved"`
	Unresolved int            `json:"unresolved"`
	Unsynced   int            `json:"unsynced"`
	ByType     map[string]int `json:"by_type"`
	ByRegion   map[string]int `json:"by_region"`

	// Confirmations is the sum of confirmation counters.
	Confirmations int `json:"confirmations"`

	// MeanTimeToResolve is averaged over resolved reports with a resolution date
	// not before the creation date. Zero when there are none.
	MeanTimeToResolve time.Duration `json:"mean_time_to_resolve"`

	// TopRegions lists regions by descending report count, ties by name.
	TopRegions []string `json:"top_regions"`
}

// Summarize computes a Summary over reports.
func Summarize(kind Kind, reports []Report) Summary {
	s := Summary{
		Kind:     kind,
		Total:    len(reports),
		ByType:   make(map[string]int),
		ByRegion: make(map[string]int),
	}

	var resolveTotal time.Duration
	var resolveCount int
	for _, r := range reports {
		s.ByType[r.Type]++
		s.ByRegion[r.Region]++
		s.Confirmations += r.Confirmations
		if !r.Synced {
			s.Unsynced++
		}
		if !r.Resolved {
			s.Unresolved++
			continue
		}
		s.Resolved++
		if r.ResolutionDate != nil && !r.ResolutionDate.Before(r.Date) {
			resolveTotal += r.ResolutionDate.Sub(r.Date)
			resolveCount++
		}
	}
	if resolveCount > 0 {
		s.MeanTimeToResolve = resolveTotal / time.Duration(resolveCount)
	}

	s.TopRegions = make([]string, 0, len(s.ByRegion))
	for region := range s.ByRegion {
		s.TopRegions = append(s.TopRegions, region)
	}
	sort.Slice(s.TopRegions, func(i, j int) bool {
		a, b := s.TopRegions[i], s.TopRegions[j]
		if s.ByRegion[a] != s.ByRegion[b] {
			return s.ByRegion[a] > s.ByRegion[b]
		}
		return a < b
	})
	return s
}
