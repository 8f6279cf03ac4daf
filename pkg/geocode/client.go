// Package geocode resolves French postal addresses to coordinates through a
// cascade of providers (BAN, Nominatim, Google) behind an in-memory cache.
package geocode

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

// ErrNotFound is the GeocodeMiss condition: no provider matched the address.
// Callers treat it as a terminal, non-error state for the record.
var ErrNotFound = eris.New("geocode: address not found")

// Client geocodes addresses.
type Client interface {
	// Geocode returns a matched Result, or a Result with Matched=false when
	// no provider found the address. Errors are reserved for cancellation.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// Provider is a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
	Available() bool
}

// AddressInput is an address to geocode.
type AddressInput struct {
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Empty reports whether the input has nothing to search for.
func (a AddressInput) Empty() bool {
	return strings.TrimSpace(a.Street) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.PostalCode) == ""
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64
	Longitude float64
	Source    string  // provider name
	Quality   string  // "rooftop", "street", "centroid", "approximate"
	Score     float64 // provider confidence, 0..1 when the provider reports one
	Matched   bool
}

// formatOneLine renders "street, postal city" without empty parts.
func formatOneLine(addr AddressInput) string {
	var parts []string
	if s := strings.TrimSpace(addr.Street); s != "" {
		parts = append(parts, s)
	}
	locality := strings.TrimSpace(strings.TrimSpace(addr.PostalCode) + " " + strings.TrimSpace(addr.City))
	if locality != "" {
		parts = append(parts, locality)
	}
	if c := strings.TrimSpace(addr.Country); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, ", ")
}

// doGet performs a GET and returns the body of a 200 response. Other status
// codes are classified with resilience.FromHTTPStatus.
func doGet(ctx context.Context, hc *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s request", provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s read body", provider)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus(
			eris.Errorf("geocode: %s returned status %d", provider, resp.StatusCode),
			resp.StatusCode,
		)
	}
	return body, nil
}
