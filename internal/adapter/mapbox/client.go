package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// reverseTypes are the administrative levels a report's location labels come from.
const reverseTypes = "neighborhood,locality,place,region"

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// ReverseGeocode resolves coordinates to quartier, ville and region labels.
// An empty Place with a nil error means Mapbox knows nothing about the point.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.Place, error) {
	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", lon, lat)
	u := fmt.Sprintf("%s/%s.json", c.baseURL, coord)
	params := url.Values{
		"access_token": {c.token},
		"types":        {reverseTypes},
	}

	start := time.Now()
	place, err := c.doRequest(ctx, u+"?"+params.Encode())
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
	case place.Empty():
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	}
	return place, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.Place, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Place{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Place{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.Place{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return domain.Place{}, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		return domain.Place{}, nil
	}
	return placeFromFeatures(mapboxResp.Features), nil
}

// placeFromFeatures collects labels from every returned feature and its context.
// A neighborhood wins over a locality for the quartier.
func placeFromFeatures(features []feature) domain.Place {
	first := features[0]
	place := domain.Place{
		FormattedAddress: first.PlaceName,
		Confidence:       first.Relevance,
	}

	var locality string
	assign := func(id, text string) {
		if text == "" {
			return
		}
		switch layer(id) {
		case "neighborhood":
			if place.Quartier == "" {
				place.Quartier = text
			}
		case "locality":
			if locality == "" {
				locality = text
			}
		case "place":
			if place.Ville == "" {
				place.Ville = text
			}
		case "region":
			if place.Region == "" {
				place.Region = text
			}
		}
	}

	for _, f := range features {
		assign(f.ID, f.Text)
		for _, ctxItem := range f.Context {
			assign(ctxItem.ID, ctxItem.Text)
		}
	}
	if place.Quartier == "" {
		place.Quartier = locality
	}
	return place
}

// layer returns the type prefix of a Mapbox feature id such as "place.1234".
func layer(id string) string {
	prefix, _, _ := strings.Cut(id, ".")
	return prefix
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string        `json:"id"`
	PlaceName string        `json:"place_name"`
	Text      string        `json:"text"`
	Relevance float64       `json:"relevance"`
	Context   []contextItem `json:"context"`
}

type contextItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}
