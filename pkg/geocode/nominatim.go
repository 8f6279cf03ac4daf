package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimProvider geocodes through OpenStreetMap Nominatim. The public
// instance requires a User-Agent and at most one request per second.
type NominatimProvider struct {
	baseURL     string
	httpClient  *http.Client
	userAgent   string
	minInterval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NominatimOption configures a NominatimProvider.
type NominatimOption func(*NominatimProvider)

// WithNominatimURL overrides the base URL.
func WithNominatimURL(u string) NominatimOption {
	return func(n *NominatimProvider) {
		if strings.TrimSpace(u) != "" {
			n.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithNominatimHTTPClient sets the HTTP client.
func WithNominatimHTTPClient(hc *http.Client) NominatimOption {
	return func(n *NominatimProvider) {
		if hc != nil {
			n.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) NominatimOption {
	return func(n *NominatimProvider) { n.userAgent = ua }
}

// WithMinInterval sets the minimum spacing between requests.
func WithMinInterval(d time.Duration) NominatimOption {
	return func(n *NominatimProvider) { n.minInterval = d }
}

// NewNominatimProvider creates a NominatimProvider.
func NewNominatimProvider(opts ...NominatimOption) *NominatimProvider {
	n := &NominatimProvider{
		baseURL:     DefaultNominatimURL,
		httpClient:  http.DefaultClient,
		userAgent:   "repairer-sync/1.0",
		minInterval: time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements Provider.
func (n *NominatimProvider) Name() string { return "nominatim" }

// Available implements Provider.
func (n *NominatimProvider) Available() bool { return n.userAgent != "" }

// Geocode implements Provider.
func (n *NominatimProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	q := formatOneLine(addr)
	if q == "" {
		return &Result{Source: n.Name()}, nil
	}
	if err := n.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim rate limit")
	}

	params := url.Values{
		"format":       {"jsonv2"},
		"limit":        {"1"},
		"q":            {q},
		"countrycodes": {"fr"},
	}
	req, err := http.NewRequest(http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	body, err := doGet(ctx, n.httpClient, n.Name(), req)
	if err != nil {
		return nil, err
	}

	var hits []struct {
		Lat        string  `json:"lat"`
		Lon        string  `json:"lon"`
		Importance float64 `json:"importance"`
		AddrType   string  `json:"addresstype"`
	}
	if err := json.Unmarshal(body, &hits); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(hits) == 0 {
		return &Result{Source: n.Name()}, nil
	}

	lat, errLat := strconv.ParseFloat(hits[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(hits[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return &Result{Source: n.Name()}, nil
	}
	quality := "approximate"
	switch hits[0].AddrType {
	case "building", "house", "shop", "amenity":
		quality = "rooftop"
	case "road":
		quality = "street"
	case "city", "town", "village", "municipality":
		quality = "centroid"
	}
	return &Result{
		Latitude:  lat,
		Longitude: lng,
		Source:    n.Name(),
		Quality:   quality,
		Score:     hits[0].Importance,
		Matched:   true,
	}, nil
}

// wait blocks until minInterval has passed since the previous request slot.
func (n *NominatimProvider) wait(ctx context.Context) error {
	if n.minInterval <= 0 {
		return nil
	}
	n.mu.Lock()
	now := time.Now()
	next := n.last.Add(n.minInterval)
	if !next.After(now) {
		n.last = now
		n.mu.Unlock()
		return nil
	}
	n.last = next
	n.mu.Unlock()

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
