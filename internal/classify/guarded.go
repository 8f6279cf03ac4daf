package classify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/resilience"
)

// Guarded bounds a remote backend with a per-call timeout and a circuit
// breaker. Every failure, including an open circuit, surfaces as
// ErrUnavailable.
type Guarded struct {
	inner   Classifier
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	log     *zap.Logger
}

// NewGuarded wraps inner. timeout <= 0 disables the per-call deadline.
func NewGuarded(inner Classifier, breaker *resilience.CircuitBreaker, timeout time.Duration) *Guarded {
	return &Guarded{
		inner:   inner,
		breaker: breaker,
		timeout: timeout,
		log:     zap.L().With(zap.String("component", "classify"), zap.String("classifier", inner.Name())),
	}
}

// Name implements Classifier.
func (g *Guarded) Name() string { return g.inner.Name() }

// Classify implements Classifier.
func (g *Guarded) Classify(ctx context.Context, cs []model.Candidate, prompt string) ([]model.ClassificationResult, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]model.ClassificationResult, error) {
		return g.inner.Classify(ctx, cs, prompt)
	})
	if err != nil {
		g.log.Warn("classifier unavailable, batch passes unclassified",
			zap.Int("batch", len(cs)),
			zap.String("error_class", resilience.Class(err)),
			zap.Error(err),
		)
		return nil, eris.Wrapf(ErrUnavailable, "%s: %v", g.inner.Name(), err)
	}
	return res, nil
}
