package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

const defaultUserAgent = "repairer-sync/1.0"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// HostRate is the starting requests-per-second budget for each host.
	HostRate rate.Limit
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing host rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher downloads files with per-host adaptive rate limiting and
// retries on transient statuses.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.HostRate <= 0 {
		opts.HostRate = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("fetcher", "download")
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.HostRate, 1)
		f.limiters[host] = lim
	}
	return lim
}

// Download fetches rawURL and returns the response body. 408, 429 and 5xx
// responses are retried; other non-200 statuses fail immediately.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	lim := f.limiterFor(u.Host)

	body, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (io.ReadCloser, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
		}
		if resp.StatusCode == http.StatusOK {
			lim.OnSuccess()
			return resp.Body, nil
		}

		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		return nil, resilience.FromHTTPStatus(
			eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL),
			resp.StatusCode,
		)
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
