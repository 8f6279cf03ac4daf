package classify

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/config"
	"github.com/sells-group/repairer-sync/internal/resilience"
	"github.com/sells-group/repairer-sync/pkg/anthropic"
	"github.com/sells-group/repairer-sync/pkg/perplexity"
)

// FromConfig returns the configured classifier, or nil when classification
// is disabled. Remote backends are wrapped in Guarded.
func FromConfig(cfg *config.Config) (Classifier, error) {
	cc := cfg.Classify
	if !cc.Enabled {
		return nil, nil
	}

	var remote Classifier
	switch cc.Provider {
	case "rules", "":
		r, err := LoadRules(cc.RulesPath)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "anthropic":
		remote = NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	case "perplexity":
		remote = NewPerplexity(perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		))
	default:
		return nil, eris.Errorf("classify: unknown provider %q", cc.Provider)
	}

	breaker := resilience.NewCircuitBreaker(resilience.NewCircuitConfig(cc.BreakerThreshold, cc.BreakerResetSecs))
	return NewGuarded(remote, breaker, time.Duration(cc.TimeoutSecs)*time.Second), nil
}
