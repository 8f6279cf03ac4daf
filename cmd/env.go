package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/classify"
	"github.com/sells-group/repairer-sync/internal/config"
	"github.com/sells-group/repairer-sync/internal/engine"
	"github.com/sells-group/repairer-sync/internal/normalize"
	"github.com/sells-group/repairer-sync/internal/pipeline"
	"github.com/sells-group/repairer-sync/internal/reconcile"
	"github.com/sells-group/repairer-sync/internal/resilience"
	"github.com/sells-group/repairer-sync/internal/scope"
	"github.com/sells-group/repairer-sync/internal/source"
	"github.com/sells-group/repairer-sync/internal/store"
	"github.com/sells-group/repairer-sync/pkg/geocode"
)

// appEnv holds the store and the write path shared by serve, scrape and
// import.
type appEnv struct {
	Store    store.Store
	Walker   *scope.Walker
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, opens and migrates the store, loads
// the reference tables and builds the pipeline. Callers defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := scope.Load(cfg.Scope.CommunesPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	classifier, err := classify.FromConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(normalize.New(), initGeocoder(cfg.Geocode, cfg.Google), classifier, reconcile.New(st), pipeline.Config{
		Concurrency:    cfg.Engine.PipelineConcurrency,
		ClassifyBatch:  cfg.Classify.BatchSize,
		DropInvalid:    cfg.Classify.DropInvalid,
		Prompt:         cfg.Classify.Prompt,
		GeocodeTimeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second,
	})

	zap.L().Info("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("cities", ref.CityCount()),
		zap.Bool("classify", classifier != nil),
	)
	return &appEnv{Store: st, Walker: scope.NewWalker(ref), Pipeline: p}, nil
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	dsn := cfg.Store.DatabaseURL
	if cfg.Store.Driver == "sqlite" {
		dsn = cfg.Store.SQLitePath
	}
	st, err := store.Open(ctx, cfg.Store.Driver, dsn, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initGeocoder builds the provider cascade in configured order. Unknown
// names are logged and skipped; an empty cascade disables geocoding.
func initGeocoder(gc config.GeocodeConfig, google config.GoogleConfig) geocode.Client {
	timeout := time.Duration(gc.TimeoutSecs) * time.Second
	hc := &http.Client{Timeout: timeout}

	var providers []geocode.Provider
	for _, name := range gc.Providers {
		switch name {
		case "ban":
			providers = append(providers, geocode.NewBANProvider(
				geocode.WithBANURL(gc.BANURL),
				geocode.WithBANHTTPClient(hc),
				geocode.WithBANRateLimit(gc.RateLimit),
			))
		case "nominatim":
			providers = append(providers, geocode.NewNominatimProvider(
				geocode.WithNominatimURL(gc.NominatimURL),
				geocode.WithNominatimHTTPClient(hc),
				geocode.WithUserAgent(gc.UserAgent),
			))
		case "google":
			providers = append(providers, geocode.NewGoogleProvider(google.Key, google.GeocodeURL, hc))
		default:
			zap.L().Warn("unknown geocode provider", zap.String("provider", name))
		}
	}
	if len(providers) == 0 {
		return nil
	}
	return geocode.NewCascadeClient(providers,
		geocode.WithProviderTimeout(timeout),
		geocode.WithCacheSize(gc.CacheSize),
	)
}

// newEngine builds the orchestrator over env. sources may be nil for
// commands that only read job state.
func newEngine(env *appEnv, sources *source.Registry) *engine.Engine {
	if sources == nil {
		sources = source.NewRegistry()
	}
	ec := cfg.Engine
	return engine.New(env.Store, env.Walker, sources, env.Pipeline, engine.Config{
		Retry:        resilience.NewRetryConfig(ec.MaxAttempts, ec.InitialBackoffMs, ec.MaxBackoffMs),
		MaxPages:     ec.MaxPages,
		TestCities:   ec.TestCities,
		TestQueries:  ec.TestQueries,
		FetchTimeout: time.Duration(ec.FetchTimeoutSecs) * time.Second,
	})
}
