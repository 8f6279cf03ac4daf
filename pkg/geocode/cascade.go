package geocode

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CascadeClient tries providers in order until one matches. Results,
// including clean misses, are cached for the life of the client.
type CascadeClient struct {
	providers []Provider
	timeout   time.Duration
	cache     *memoryCache
	group     singleflight.Group
}

// CascadeOption configures a CascadeClient.
type CascadeOption func(*CascadeClient)

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) CascadeOption {
	return func(c *CascadeClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCacheSize bounds the number of cached addresses.
func WithCacheSize(n int) CascadeOption {
	return func(c *CascadeClient) { c.cache = newMemoryCache(n) }
}

// NewCascadeClient creates a CascadeClient over providers.
func NewCascadeClient(providers []Provider, opts ...CascadeOption) *CascadeClient {
	c := &CascadeClient{
		providers: providers,
		timeout:   8 * time.Second,
		cache:     newMemoryCache(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookup struct {
	result    Result
	cacheable bool
}

// Geocode implements Client. Provider failures fall through to the next
// provider; only cancellation of ctx is returned as an error.
func (c *CascadeClient) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if addr.Empty() {
		return &Result{Source: "cascade"}, nil
	}

	key := cacheKey(addr)
	if r, ok := c.cache.get(key); ok {
		return &r, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		l, err := c.resolve(ctx, addr)
		if err != nil {
			return nil, err
		}
		if l.cacheable {
			c.cache.put(key, l.result)
		}
		return l.result, nil
	})
	if err != nil {
		return nil, err
	}
	r := v.(Result)
	return &r, nil
}

func (c *CascadeClient) resolve(ctx context.Context, addr AddressInput) (lookup, error) {
	clean := true
	for _, p := range c.providers {
		if !p.Available() {
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		r, err := p.Geocode(pctx, addr)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return lookup{}, ctx.Err()
			}
			clean = false
			zap.L().Debug("geocode: provider error, trying next",
				zap.String("component", "geocode"),
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			continue
		}
		if r != nil && r.Matched {
			return lookup{result: *r, cacheable: true}, nil
		}
	}
	return lookup{result: Result{Source: "cascade"}, cacheable: clean}, nil
}

// CacheLen reports the number of cached addresses.
func (c *CascadeClient) CacheLen() int { return c.cache.len() }
