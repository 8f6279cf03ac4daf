package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// fieldMask lists the Place fields requested from Text Search. Billing tier
// depends on it, so keep it to what the normalizer reads.
const fieldMask = "places.id,places.displayName,places.formattedAddress,places.addressComponents," +
	"places.nationalPhoneNumber,places.internationalPhoneNumber,places.websiteUri,places.location," +
	"places.types,places.businessStatus,nextPageToken"

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
}

// TextSearchRequest is a Places Text Search query. PageToken continues a
// previous response.
type TextSearchRequest struct {
	TextQuery    string `json:"textQuery"`
	LanguageCode string `json:"languageCode,omitempty"`
	RegionCode   string `json:"regionCode,omitempty"`
	PageSize     int    `json:"pageSize,omitempty"`
	PageToken    string `json:"pageToken,omitempty"`
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Place represents a place returned by the API.
type Place struct {
	ID                       string             `json:"id"`
	DisplayName              DisplayName        `json:"displayName"`
	FormattedAddress         string             `json:"formattedAddress"`
	AddressComponents        []AddressComponent `json:"addressComponents,omitempty"`
	NationalPhoneNumber      string             `json:"nationalPhoneNumber,omitempty"`
	InternationalPhoneNumber string             `json:"internationalPhoneNumber,omitempty"`
	WebsiteURI               string             `json:"websiteUri,omitempty"`
	Location                 *LatLng            `json:"location,omitempty"`
	Types                    []string           `json:"types,omitempty"`
	BusinessStatus           string             `json:"businessStatus,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// AddressComponent is one typed part of a structured address.
type AddressComponent struct {
	LongText  string   `json:"longText"`
	ShortText string   `json:"shortText"`
	Types     []string `json:"types"`
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Component returns the long text of the first address component tagged
// with typ.
func (p Place) Component(typ string) string {
	for _, c := range p.AddressComponents {
		for _, t := range c.Types {
			if t == typ {
				return c.LongText
			}
		}
	}
	return ""
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, in TextSearchRequest) (*TextSearchResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "google: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "google: read response"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, truncate(respBody))
		if resp.StatusCode == http.StatusTooManyRequests && strings.Contains(string(respBody), "RESOURCE_EXHAUSTED") {
			return nil, resilience.NewQuotaError(err, resp.StatusCode)
		}
		return nil, resilience.FromHTTPStatus(err, resp.StatusCode)
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	return &result, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
