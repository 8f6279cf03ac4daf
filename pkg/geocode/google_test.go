package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

func TestGoogleGeocode_Rooftop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "postal_code:33000|country:FR", r.URL.Query().Get("components"))
		_, _ = io.WriteString(w, `{"status":"OK","results":[{"geometry":{
			"location":{"lat":44.8378,"lng":-0.5792},"location_type":"ROOFTOP"}}]}`)
	}))
	defer srv.Close()

	g := NewGoogleProvider("test-key", "", newRewriteClient(srv.URL, DefaultGoogleGeocodeURL))
	r, err := g.Geocode(context.Background(), AddressInput{Street: "1 cours de l'Intendance", City: "Bordeaux", PostalCode: "33000"})
	require.NoError(t, err)
	assert.True(t, r.Matched)
	assert.InDelta(t, 44.8378, r.Latitude, 1e-9)
	assert.Equal(t, "rooftop", r.Quality)
}

func TestGoogleGeocode_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ZERO_RESULTS","results":[]}`)
	}))
	defer srv.Close()

	g := NewGoogleProvider("k", srv.URL, nil)
	r, err := g.Geocode(context.Background(), AddressInput{City: "Nowhere"})
	require.NoError(t, err)
	assert.False(t, r.Matched)
}

func TestGoogleGeocode_Denied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"REQUEST_DENIED","error_message":"bad key"}`)
	}))
	defer srv.Close()

	g := NewGoogleProvider("k", srv.URL, nil)
	_, err := g.Geocode(context.Background(), AddressInput{City: "Paris"})
	require.Error(t, err)
	assert.True(t, resilience.IsQuotaOrAuth(err))
}

func TestGoogleProvider_UnavailableWithoutKey(t *testing.T) {
	g := NewGoogleProvider("", "", nil)
	assert.False(t, g.Available())
	_, err := g.Geocode(context.Background(), AddressInput{City: "Paris"})
	assert.Error(t, err)
}

func TestGoogleLocationTypeToQuality(t *testing.T) {
	assert.Equal(t, "rooftop", googleLocationTypeToQuality("rooftop"))
	assert.Equal(t, "street", googleLocationTypeToQuality("RANGE_INTERPOLATED"))
	assert.Equal(t, "centroid", googleLocationTypeToQuality("GEOMETRIC_CENTER"))
	assert.Equal(t, "approximate", googleLocationTypeToQuality("???"))
}
