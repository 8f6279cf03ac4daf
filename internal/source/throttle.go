package source

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/repairer-sync/internal/model"
)

// Throttle enforces the anti-blocking delay for one source: consecutive
// requests start at least minDelay apart, plus a random extra pause so the
// gap lands in [minDelay, maxDelay]. At most concurrency requests are in
// flight at once.
type Throttle struct {
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
	sem      *semaphore.Weighted

	jitter func(n int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewThrottle creates a throttle. concurrency < 1 is treated as 1.
func NewThrottle(minDelay, maxDelay time.Duration, concurrency int) *Throttle {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	return &Throttle{
		minDelay: minDelay,
		maxDelay: maxDelay,
		limiter:  rate.NewLimiter(limit, 1),
		sem:      semaphore.NewWeighted(int64(concurrency)),
		jitter:   rand.Int64N,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until a request may start. The returned release must be
// called once the request has finished.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "source: acquire slot")
	}
	release := func() { t.sem.Release(1) }

	if err := t.limiter.Wait(ctx); err != nil {
		release()
		return nil, eris.Wrap(err, "source: throttle wait")
	}
	if spread := t.maxDelay - t.minDelay; spread > 0 {
		if err := t.sleep(ctx, time.Duration(t.jitter(int64(spread)))); err != nil {
			release()
			return nil, eris.Wrap(err, "source: throttle jitter")
		}
	}
	return release, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type throttled struct {
	inner    Fetcher
	throttle *Throttle
}

// Throttled wraps f so every Fetch goes through t.
func Throttled(f Fetcher, t *Throttle) Fetcher {
	return &throttled{inner: f, throttle: t}
}

func (t *throttled) Kind() model.SourceKind { return t.inner.Kind() }

func (t *throttled) Fetch(ctx context.Context, query string, sub model.SubScope, cursor *Cursor) ([]model.RawCandidate, *Cursor, error) {
	release, err := t.throttle.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()
	return t.inner.Fetch(ctx, query, sub, cursor)
}
