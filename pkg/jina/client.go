// Package jina provides a client for the Jina AI search API.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

// Client defines the Jina AI Search operations.
type Client interface {
	// Search performs a web search via Jina AI Search and returns results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// SearchResponse is the parsed Jina Search API response.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	siteFilter string
	country    string
	language   string
	num        int
	page       int
}

// WithSiteFilter restricts search results to a specific domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) {
		o.siteFilter = domain
	}
}

// WithLocale biases results to a country (gl) and interface language (hl).
func WithLocale(country, language string) SearchOption {
	return func(o *searchOpts) {
		o.country = country
		o.language = language
	}
}

// WithPage requests a 1-based result page of num results.
func WithPage(page, num int) SearchOption {
	return func(o *searchOpts) {
		o.page = page
		o.num = num
	}
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithSearchBaseURL sets a custom search base URL (for testing).
func WithSearchBaseURL(url string) Option {
	return func(c *httpClient) {
		c.searchBaseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey        string
	searchBaseURL string
	http          *http.Client
}

// NewClient creates a new Jina AI Search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		searchBaseURL: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 45 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	params := url.Values{}
	params.Set("q", query)
	if so.siteFilter != "" {
		params.Set("site", so.siteFilter)
	}
	if so.country != "" {
		params.Set("gl", so.country)
	}
	if so.language != "" {
		params.Set("hl", so.language)
	}
	if so.num > 0 {
		params.Set("num", strconv.Itoa(so.num))
	}
	if so.page > 1 {
		params.Set("page", strconv.Itoa(so.page))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchBaseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Respond-With", "no-content")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "jina: search request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "jina: read response body"), resp.StatusCode)
	}

	// Jina returns 422 when no results are available for the query.
	// Treat this as empty results rather than an error.
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: http.StatusUnprocessableEntity}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus(
			eris.Errorf("jina: search unexpected status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode,
		)
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}

	return &result, nil
}
