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

func TestBAN_HouseNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/", r.URL.Path)
		assert.Equal(t, "10 Rue de Rivoli, Paris", r.URL.Query().Get("q"))
		assert.Equal(t, "75004", r.URL.Query().Get("postcode"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"type":"FeatureCollection","features":[{
			"geometry":{"type":"Point","coordinates":[2.3601,48.8553]},
			"properties":{"score":0.93,"type":"housenumber","label":"10 Rue de Rivoli 75004 Paris","postcode":"75004"}
		}]}`)
	}))
	defer srv.Close()

	p := NewBANProvider(WithBANURL(srv.URL), WithBANRateLimit(1000))
	r, err := p.Geocode(context.Background(), AddressInput{Street: "10 Rue de Rivoli", City: "Paris", PostalCode: "75004"})
	require.NoError(t, err)
	assert.True(t, r.Matched)
	assert.InDelta(t, 48.8553, r.Latitude, 1e-9)
	assert.InDelta(t, 2.3601, r.Longitude, 1e-9)
	assert.Equal(t, "rooftop", r.Quality)
	assert.Equal(t, "ban", r.Source)
}

func TestBAN_LowScoreIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"features":[{"geometry":{"coordinates":[2.0,48.0]},"properties":{"score":0.21,"type":"street"}}]}`)
	}))
	defer srv.Close()

	p := NewBANProvider(WithBANURL(srv.URL), WithBANRateLimit(1000))
	r, err := p.Geocode(context.Background(), AddressInput{Street: "chemin inconnu", City: "Nulle Part"})
	require.NoError(t, err)
	assert.False(t, r.Matched)
}

func TestBAN_NoFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"features":[]}`)
	}))
	defer srv.Close()

	p := NewBANProvider(WithBANURL(srv.URL), WithBANRateLimit(1000))
	r, err := p.Geocode(context.Background(), AddressInput{Street: "1 rue X", City: "Y"})
	require.NoError(t, err)
	assert.False(t, r.Matched)
}

func TestBAN_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewBANProvider(WithBANURL(srv.URL), WithBANRateLimit(1000))
	_, err := p.Geocode(context.Background(), AddressInput{Street: "1 rue X", City: "Y"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestBAN_TooShortQuerySkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	p := NewBANProvider(WithBANURL(srv.URL))
	r, err := p.Geocode(context.Background(), AddressInput{})
	require.NoError(t, err)
	assert.False(t, r.Matched)
	assert.False(t, called)
}
