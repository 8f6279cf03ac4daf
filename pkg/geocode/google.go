package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

// DefaultGoogleGeocodeURL is the Google Geocoding API endpoint.
const DefaultGoogleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleProvider geocodes through the Google Geocoding API.
type GoogleProvider struct {
	endpoint   string
	key        string
	region     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGoogleProvider creates a GoogleProvider. An empty key makes it
// unavailable so the cascade skips it.
func NewGoogleProvider(key, endpoint string, hc *http.Client) *GoogleProvider {
	if endpoint == "" {
		endpoint = DefaultGoogleGeocodeURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &GoogleProvider{
		endpoint:   endpoint,
		key:        key,
		region:     "fr",
		httpClient: hc,
		limiter:    rate.NewLimiter(25, 5),
	}
}

// Name implements Provider.
func (g *GoogleProvider) Name() string { return "google" }

// Available implements Provider.
func (g *GoogleProvider) Available() bool { return g.key != "" }

type googleGeocodeResponse struct {
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Geocode implements Provider.
func (g *GoogleProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if g.key == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	oneLine := formatOneLine(addr)
	if oneLine == "" {
		return &Result{Source: g.Name()}, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params := url.Values{"address": {oneLine}, "key": {g.key}, "region": {g.region}}
	if addr.PostalCode != "" {
		params.Set("components", "postal_code:"+addr.PostalCode+"|country:FR")
	}
	req, err := http.NewRequest(http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	body, err := doGet(ctx, g.httpClient, g.Name(), req)
	if err != nil {
		return nil, err
	}

	var resp googleGeocodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}
	switch resp.Status {
	case "OK":
	case "OVER_QUERY_LIMIT", "REQUEST_DENIED":
		return nil, resilience.NewQuotaError(eris.Errorf("geocode: google %s: %s", resp.Status, resp.ErrorMessage), 0)
	default:
		return &Result{Source: g.Name()}, nil
	}
	if len(resp.Results) == 0 {
		return &Result{Source: g.Name()}, nil
	}

	r := resp.Results[0]
	return &Result{
		Latitude:  r.Geometry.Location.Lat,
		Longitude: r.Geometry.Location.Lng,
		Source:    g.Name(),
		Quality:   googleLocationTypeToQuality(r.Geometry.LocationType),
		Matched:   true,
	}, nil
}

func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "street"
	case "GEOMETRIC_CENTER":
		return "centroid"
	}
	return "approximate"
}
