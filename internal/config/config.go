package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Scope      ScopeConfig      `yaml:"scope" mapstructure:"scope"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the job-control API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// EngineConfig configures the job orchestrator.
type EngineConfig struct {
	MaxAttempts         int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs    int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	PipelineConcurrency int `yaml:"pipeline_concurrency" mapstructure:"pipeline_concurrency"`
	MaxPages            int `yaml:"max_pages" mapstructure:"max_pages"`
	TestCities          int `yaml:"test_cities" mapstructure:"test_cities"`
	TestQueries         int `yaml:"test_queries" mapstructure:"test_queries"`
	FetchTimeoutSecs    int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
}

// SourceConfig configures one external source.
type SourceConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Queries     []string `yaml:"queries" mapstructure:"queries"`
	MinDelayMs  int      `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs  int      `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// SourcesConfig holds per-source settings keyed by source kind.
type SourcesConfig struct {
	Places    SourceConfig `yaml:"places" mapstructure:"places"`
	WebSearch SourceConfig `yaml:"websearch" mapstructure:"websearch"`
	AI        SourceConfig `yaml:"ai" mapstructure:"ai"`
}

// GoogleConfig holds Google Maps Platform settings.
type GoogleConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	PlacesURL  string `yaml:"places_url" mapstructure:"places_url"`
	GeocodeURL string `yaml:"geocode_url" mapstructure:"geocode_url"`
	Language   string `yaml:"language" mapstructure:"language"`
	Region     string `yaml:"region" mapstructure:"region"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeocodeConfig configures the geocoder cascade.
type GeocodeConfig struct {
	Providers    []string `yaml:"providers" mapstructure:"providers"`
	BANURL       string   `yaml:"ban_url" mapstructure:"ban_url"`
	NominatimURL string   `yaml:"nominatim_url" mapstructure:"nominatim_url"`
	UserAgent    string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit    float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	CacheSize    int      `yaml:"cache_size" mapstructure:"cache_size"`
}

// ClassifyConfig configures the optional classification stage.
type ClassifyConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	Provider         string `yaml:"provider" mapstructure:"provider"`
	RulesPath        string `yaml:"rules_path" mapstructure:"rules_path"`
	Prompt           string `yaml:"prompt" mapstructure:"prompt"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	DropInvalid      bool   `yaml:"drop_invalid" mapstructure:"drop_invalid"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ScopeConfig points at optional reference data overrides.
type ScopeConfig struct {
	CommunesPath string `yaml:"communes_path" mapstructure:"communes_path"`
}

// NotionConfig holds Notion API credentials for bulk import.
type NotionConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.repairer-sync")

	v.SetEnvPrefix("REPAIRER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Secrets and paths default to empty so env overrides bind on Unmarshal.
	for _, key := range []string{
		"store.database_url", "google.key", "jina.key", "perplexity.key",
		"anthropic.key", "notion.token", "scope.communes_path",
		"classify.rules_path", "classify.prompt",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "repairer.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.initial_backoff_ms", 1000)
	v.SetDefault("engine.max_backoff_ms", 30000)
	v.SetDefault("engine.pipeline_concurrency", 6)
	v.SetDefault("engine.max_pages", 3)
	v.SetDefault("engine.test_cities", 1)
	v.SetDefault("engine.test_queries", 1)
	v.SetDefault("engine.fetch_timeout_secs", 45)

	defaultQueries := []string{"réparation téléphone", "réparateur smartphone", "réparation ordinateur"}
	for _, src := range []string{"places", "websearch", "ai"} {
		v.SetDefault("sources."+src+".enabled", true)
		v.SetDefault("sources."+src+".queries", defaultQueries)
		v.SetDefault("sources."+src+".min_delay_ms", 1000)
		v.SetDefault("sources."+src+".max_delay_ms", 3000)
		v.SetDefault("sources."+src+".concurrency", 1)
	}

	v.SetDefault("google.places_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.geocode_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.language", "fr")
	v.SetDefault("google.region", "fr")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)

	v.SetDefault("geocode.providers", []string{"ban", "nominatim"})
	v.SetDefault("geocode.ban_url", "https://api-adresse.data.gouv.fr")
	v.SetDefault("geocode.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "repairer-sync/1.0")
	v.SetDefault("geocode.timeout_secs", 8)
	v.SetDefault("geocode.rate_limit", 10.0)
	v.SetDefault("geocode.cache_size", 10000)

	v.SetDefault("classify.enabled", false)
	v.SetDefault("classify.provider", "rules")
	v.SetDefault("classify.batch_size", 20)
	v.SetDefault("classify.drop_invalid", true)
	v.SetDefault("classify.timeout_secs", 8)
	v.SetDefault("classify.breaker_threshold", 3)
	v.SetDefault("classify.breaker_reset_secs", 60)
}

// Validate checks that the settings a command depends on are present.
// mode is one of "serve", "scrape" or "import".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			missing = append(missing, "store.sqlite_path")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Classify.Enabled {
		switch c.Classify.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				missing = append(missing, "anthropic.key")
			}
		case "perplexity":
			if c.Perplexity.Key == "" {
				missing = append(missing, "perplexity.key")
			}
		case "rules":
		default:
			return eris.Errorf("config: unknown classify provider %q", c.Classify.Provider)
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		missing = append(missing, "server.port")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
