package domain

import "time"

const (
	// DefaultRecentWindow is the trailing window used by Recent and Nearby.
	DefaultRecentWindow = 24 * time.Hour

	// DefaultNearbyRadiusKm is the proximity radius used when none is given.
	DefaultNearbyRadiusKm = 20.0
)

// ByType returns the reports tagged t. An empty t returns every report.
func ByType(reports []Report, t string) []Report {
	if t == "" {
		return clone(reports)
	}
	return filter(reports, func(r Report) bool { return r.Type == t })
}

// ByRegion returns the reports in region. An empty region returns every report.
func ByRegion(reports []Report, region string) []Report {
	if region == "" {
		return clone(reports)
	}
	return filter(reports, func(r Report) bool { return r.Region == region })
}

// Recent returns unresolved reports dated within the trailing window ending at now.
// A non-positive window means DefaultRecentWindow.
func Recent(reports []Report, now time.Time, window time.Duration) []Report {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	cutoff := now.Add(-window)
	return filter(reports, func(r Report) bool {
		return !r.Resolved && !r.Date.Before(cutoff)
	})
}

// Nearby returns unresolved reports from the last DefaultRecentWindow that lie
// within radiusKm of center. Both the recency and the radius filter apply.
// A non-positive radius means DefaultNearbyRadiusKm.
func Nearby(reports []Report, now time.Time, center Geo, radiusKm float64) []Report {
	if radiusKm <= 0 {
		radiusKm = DefaultNearbyRadiusKm
	}
	cutoff := now.Add(-DefaultRecentWindow)
	return filter(reports, func(r Report) bool {
		if r.Resolved || r.Date.Before(cutoff) {
			return false
		}
		return Distance(center, r.Geo()) <= radiusKm
	})
}

// Unsynced returns the reports not known to exist remotely.
func Unsynced(reports []Report) []Report {
	return filter(reports, func(r Report) bool { return !r.Synced })
}

func filter(reports []Report, keep func(Report) bool) []Report {
	out := make([]Report, 0, len(reports))
	for _, r := range reports {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func clone(reports []Report) []Report {
	out := make([]Report, len(reports))
	copy(out, reports)
	return out
}

// DefaultPageSize caps the UI-facing remote list.
const DefaultPageSize = 200

// ListFilter narrows a remote list call. Zero values mean "no filter"; Hours
// limits the list to reports dated within the trailing window.
type ListFilter struct {
	Type   string
	Region string
	Hours  int
	Limit  int
	Offset int
}
