package domain

import (
	"context"
	"log/slog"
)

// EnrichWithGeocoding fills placeholder location labels of a new report from the
// geocoder. Labels the reporter supplied are never overwritten. If geocoder is nil
// or the lookup fails, the report is returned unchanged (graceful degradation).
func EnrichWithGeocoding(ctx context.Context, n NewReport, geocoder Geocoder, logger *slog.Logger) NewReport {
	if geocoder == nil || !n.HasUnknownLabel() {
		return n
	}

	place, err := geocoder.ReverseGeocode(ctx, n.Latitude, n.Longitude)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", n.Latitude,
			"lon", n.Longitude,
			"error", err,
		)
		return n
	}
	if place.Empty() {
		return n
	}

	n.Quartier = fillLabel(n.Quartier, place.Quartier)
	n.Ville = fillLabel(n.Ville, place.Ville)
	n.Region = fillLabel(n.Region, place.Region)
	return n
}

func fillLabel(current, found string) string {
	if !isUnknown(current) || found == "" {
		return current
	}
	return found
}
