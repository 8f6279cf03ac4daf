package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultBANURL is the Base Adresse Nationale search API.
const DefaultBANURL = "https://api-adresse.data.gouv.fr"

// BANProvider geocodes through the French national address base.
type BANProvider struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	minScore   float64
}

// BANOption configures a BANProvider.
type BANOption func(*BANProvider)

// WithBANURL overrides the API base URL.
func WithBANURL(u string) BANOption {
	return func(p *BANProvider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithBANHTTPClient sets the HTTP client.
func WithBANHTTPClient(hc *http.Client) BANOption {
	return func(p *BANProvider) { p.httpClient = hc }
}

// WithBANRateLimit sets requests per second. The public API allows 50.
func WithBANRateLimit(rps float64) BANOption {
	return func(p *BANProvider) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithBANMinScore sets the score below which a hit counts as a miss.
func WithBANMinScore(s float64) BANOption {
	return func(p *BANProvider) { p.minScore = s }
}

// NewBANProvider creates a BANProvider.
func NewBANProvider(opts ...BANOption) *BANProvider {
	p := &BANProvider{
		baseURL:    DefaultBANURL,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(20, 1),
		minScore:   0.5,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *BANProvider) Name() string { return "ban" }

// Available implements Provider.
func (p *BANProvider) Available() bool { return p.baseURL != "" }

type banResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Score    float64 `json:"score"`
			Type     string  `json:"type"`
			Label    string  `json:"label"`
			Postcode string  `json:"postcode"`
		} `json:"properties"`
	} `json:"features"`
}

// Geocode implements Provider.
func (p *BANProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	q := formatOneLine(AddressInput{Street: addr.Street, City: addr.City})
	if q == "" {
		q = addr.PostalCode
	}
	if len(strings.TrimSpace(q)) < 3 {
		return &Result{Source: p.Name()}, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: ban rate limit")
	}

	params := url.Values{"q": {q}, "limit": {"1"}}
	if addr.PostalCode != "" {
		params.Set("postcode", addr.PostalCode)
	}
	req, err := http.NewRequest(http.MethodGet, p.baseURL+"/search/?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: ban build request")
	}

	body, err := doGet(ctx, p.httpClient, p.Name(), req)
	if err != nil {
		return nil, err
	}

	var resp banResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: ban parse response")
	}
	if len(resp.Features) == 0 {
		return &Result{Source: p.Name()}, nil
	}

	f := resp.Features[0]
	if len(f.Geometry.Coordinates) < 2 || f.Properties.Score < p.minScore {
		return &Result{Source: p.Name(), Score: f.Properties.Score}, nil
	}
	return &Result{
		Longitude: f.Geometry.Coordinates[0],
		Latitude:  f.Geometry.Coordinates[1],
		Source:    p.Name(),
		Quality:   banTypeToQuality(f.Properties.Type),
		Score:     f.Properties.Score,
		Matched:   true,
	}, nil
}

func banTypeToQuality(t string) string {
	switch t {
	case "housenumber":
		return "rooftop"
	case "street":
		return "street"
	case "municipality", "locality":
		return "centroid"
	}
	return "approximate"
}
