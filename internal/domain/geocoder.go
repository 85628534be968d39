package domain

import "context"

// Place contains the administrative labels a reverse geocoder found for a point.
type Place struct {
	Quartier         string
	Ville            string
	Region           string
	FormattedAddress string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Empty reports whether the provider returned no usable label.
func (p Place) Empty() bool {
	return p.Quartier == "" && p.Ville == "" && p.Region == ""
}

// Geocoder resolves coordinates to place labels.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}
