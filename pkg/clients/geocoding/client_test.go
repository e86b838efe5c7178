package geocoding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

const naplesResponse = `{
  "status": "OK",
  "results": [{
    "formatted_address": "100 Gulf Shore Blvd, Naples, FL 34102, USA",
    "address_components": [
      {"long_name": "100", "short_name": "100", "types": ["street_number"]},
      {"long_name": "Gulf Shore Boulevard", "short_name": "Gulf Shore Blvd", "types": ["route"]},
      {"long_name": "Naples", "short_name": "Naples", "types": ["locality", "political"]},
      {"long_name": "Florida", "short_name": "FL", "types": ["administrative_area_level_1", "political"]},
      {"long_name": "34102", "short_name": "34102", "types": ["postal_code"]}
    ],
    "geometry": {"location": {"lat": 26.1, "lng": -81.8}}
  }]
}`

func TestGeocode_ParsesComponents(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("address")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(naplesResponse))
	}))
	defer srv.Close()

	c, err := NewClient("AIzaTestKey", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	got, err := c.Geocode(context.Background(), " Naples ")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "Naples", gotQuery)
	assert.Equal(t, "Naples", got[0].City)
	assert.Equal(t, "FL", got[0].State)
	assert.Equal(t, "34102", got[0].Zip)
	assert.Equal(t, "100 Gulf Shore Blvd", got[0].Street)
	assert.Equal(t, "100 Gulf Shore Blvd, Naples, FL 34102, USA", got[0].FormattedAddress)
}

func TestGeocode_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient("AIzaTestKey", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	got, err := c.Geocode(context.Background(), "00000")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}
