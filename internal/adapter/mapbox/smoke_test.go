//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		observability.NewMetricsForTesting(),
	)
}

func TestSmoke_ReverseGeocode_Douala(t *testing.T) {
	c := smokeClient(t)

	place, err := c.ReverseGeocode(context.Background(), 4.0511, 9.7679)
	require.NoError(t, err)

	assert.Contains(t, place.Ville, "Douala")
	assert.NotEmpty(t, place.Region)
	assert.NotEmpty(t, place.FormattedAddress)
	assert.Greater(t, place.Confidence, 0.0)
}

func TestSmoke_ReverseGeocode_Ocean(t *testing.T) {
	c := smokeClient(t)

	// Gulf of Guinea: Mapbox may return nothing, which must not be an error.
	_, err := c.ReverseGeocode(context.Background(), 0.0, 0.0)
	require.NoError(t, err)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())

	p1, err := cached.ReverseGeocode(context.Background(), 3.8480, 11.5021)
	require.NoError(t, err)

	p2, err := cached.ReverseGeocode(context.Background(), 3.8480, 11.5021)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}
