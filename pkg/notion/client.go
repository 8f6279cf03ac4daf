// Package notion reads Notion databases as tabular rows for bulk import.
// Shop lists curated by hand in Notion come in through the same importer as
// CSV and XLSX exports.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// defaultRPS is Notion's documented average request rate per integration.
const defaultRPS = 3

// Client is the part of the Notion API the importer needs.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// ClientOption configures NewClient.
type ClientOption func(*apiClient)

// WithRateLimit sets the request rate. A non-positive rps disables
// throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *apiClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type apiClient struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// NewClient returns a Client authenticated with an integration token and
// throttled to Notion's rate limit.
func NewClient(token string, opts ...ClientOption) Client {
	c := &apiClient{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(defaultRPS, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *apiClient) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "notion: rate limit")
}

// QueryDatabase fetches one page of a database query.
func (c *apiClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query database %s", dbID)
	}
	return resp, nil
}
