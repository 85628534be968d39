package store

import (
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
)

// Queries never perform I/O; they derive their result from the in-memory collection.

// Reports returns a snapshot of the collection, most recent first.
func (s *Store) Reports() []domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneReports(s.reports)
}

// Get returns the report with the given identifier.
func (s *Store) Get(id string) (domain.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.reports[idx], true
	}
	return domain.Report{}, false
}

// ByType returns reports with the given type tag; empty returns all.
func (s *Store) ByType(t string) []domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ByType(s.reports, t)
}

// ByRegion returns reports in the given region; empty returns all.
func (s *Store) ByRegion(region string) []domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ByRegion(s.reports, region)
}

// Recent returns unresolved reports within the trailing window (24h when zero).
func (s *Store) Recent(window time.Duration) []domain.Report {
	now := domain.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Recent(s.reports, now, window)
}

// Nearby returns unresolved reports from the last 24 hours within radiusKm
// (20 km when zero) of the given point.
func (s *Store) Nearby(lat, lon, radiusKm float64) []domain.Report {
	now := domain.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Nearby(s.reports, now, domain.Geo{Lat: lat, Lon: lon}, radiusKm)
}

// Unsynced returns reports not known to exist remotely.
func (s *Store) Unsynced() []domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Unsynced(s.reports)
}

// Summary aggregates the local collection.
func (s *Store) Summary() domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Summarize(s.spec.Kind, s.reports)
}

// ConfirmedToday reports whether this device already confirmed id today.
func (s *Store) ConfirmedToday(id string) bool {
	today := domain.DayString(domain.Now(), s.opts.Location)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.ConfirmedOn(id, today)
}
