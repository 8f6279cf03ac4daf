package source

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/config"
	"github.com/sells-group/repairer-sync/pkg/google"
	"github.com/sells-group/repairer-sync/pkg/jina"
	"github.com/sells-group/repairer-sync/pkg/perplexity"
)

// FromConfig builds a registry with every enabled source whose credentials
// are present. Each fetcher is wrapped in its own throttle.
func FromConfig(cfg *config.Config) *Registry {
	log := zap.L().With(zap.String("component", "source"))
	timeout := time.Duration(cfg.Engine.FetchTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	hc := &http.Client{Timeout: timeout}

	reg := NewRegistry()
	add := func(f Fetcher, sc config.SourceConfig) {
		t := NewThrottle(
			time.Duration(sc.MinDelayMs)*time.Millisecond,
			time.Duration(sc.MaxDelayMs)*time.Millisecond,
			sc.Concurrency,
		)
		reg.Register(Throttled(f, t), sc.Queries)
		log.Debug("source registered", zap.String("source", string(f.Kind())))
	}

	if sc := cfg.Sources.Places; sc.Enabled && cfg.Google.Key != "" {
		c := google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.PlacesURL), google.WithHTTPClient(hc))
		add(NewPlaces(c, cfg.Google.Language, cfg.Google.Region), sc)
	}
	if sc := cfg.Sources.WebSearch; sc.Enabled && cfg.Jina.Key != "" {
		c := jina.NewClient(cfg.Jina.Key, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL), jina.WithHTTPClient(hc))
		add(NewWebSearch(c), sc)
	}
	if sc := cfg.Sources.AI; sc.Enabled && cfg.Perplexity.Key != "" {
		c := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
			perplexity.WithHTTPClient(hc),
		)
		add(NewAI(c), sc)
	}
	return reg
}
