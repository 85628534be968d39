package mapbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken         = "test-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string, metrics *observability.Metrics) *Client {
	return &Client{
		token:      testToken,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    metrics,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func doualaResponse() response {
	return response{
		Features: []feature{
			{
				ID:        "neighborhood.101",
				PlaceName: "Akwa, Douala, Littoral, Cameroon",
				Text:      "Akwa",
				Relevance: 0.97,
				Context: []contextItem{
					{ID: "locality.55", Text: "Douala I"},
					{ID: "place.12", Text: "Douala"},
					{ID: "region.7", Text: "Littoral"},
					{ID: "country.1", Text: "Cameroon"},
				},
			},
			{ID: "place.12", Text: "Douala", Relevance: 0.9},
		},
	}
}

func TestClient_ReverseGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/9.767900,4.051100.json", r.URL.Path)
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))
		assert.Equal(t, reverseTypes, r.URL.Query().Get("types"))

		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(doualaResponse()))
	}))
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	c := testClient(srv.URL, m)
	place, err := c.ReverseGeocode(context.Background(), 4.0511, 9.7679)
	require.NoError(t, err)

	assert.Equal(t, domain.Place{
		Quartier:         "Akwa",
		Ville:            "Douala",
		Region:           "Littoral",
		FormattedAddress: "Akwa, Douala, Littoral, Cameroon",
		Confidence:       0.97,
	}, place)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues("success")), 0)
}

func TestClient_ReverseGeocode_LocalityFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := response{Features: []feature{{
			ID:        "locality.3",
			Text:      "Bastos",
			PlaceName: "Bastos, Yaoundé",
			Context:   []contextItem{{ID: "place.9", Text: "Yaoundé"}},
		}}}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := testClient(srv.URL, observability.NewMetricsForTesting())
	place, err := c.ReverseGeocode(context.Background(), 3.89, 11.51)
	require.NoError(t, err)
	assert.Equal(t, "Bastos", place.Quartier)
	assert.Equal(t, "Yaoundé", place.Ville)
	assert.Empty(t, place.Region)
}

func TestClient_ReverseGeocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(response{Features: []feature{}}))
	}))
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	c := testClient(srv.URL, m)
	place, err := c.ReverseGeocode(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, place.Empty())
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues("empty")), 0)
}

func TestClient_ReverseGeocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	c := testClient(srv.URL, m)
	c.token = "bad-token"

	_, err := c.ReverseGeocode(context.Background(), 4.05, 9.76)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeocodeRequests.WithLabelValues("error")), 0)
}

func TestClient_ReverseGeocode_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL, observability.NewMetricsForTesting())
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.ReverseGeocode(context.Background(), 4.05, 9.76)
	require.Error(t, err)
}

func TestLayer(t *testing.T) {
	assert.Equal(t, "place", layer("place.1234"))
	assert.Equal(t, "region", layer("region"))
	assert.Empty(t, layer(""))
}
