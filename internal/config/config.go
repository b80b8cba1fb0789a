package config

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/quest-group/content-engine/internal/cost"
	"github.com/quest-group/content-engine/internal/scoring"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Temporal     TemporalConfig     `yaml:"temporal" mapstructure:"temporal"`
	NewsAPI      NewsAPIConfig      `yaml:"newsapi" mapstructure:"newsapi"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Firecrawl    FirecrawlConfig    `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	ImageGen     ImageGenConfig     `yaml:"imagegen" mapstructure:"imagegen"`
	Zep          ZepConfig          `yaml:"zep" mapstructure:"zep"`
	Crawl        CrawlConfig        `yaml:"crawl" mapstructure:"crawl"`
	Research     ResearchConfig     `yaml:"research" mapstructure:"research"`
	Synthesis    SynthesisConfig    `yaml:"synthesis" mapstructure:"synthesis"`
	Images       ImagesConfig       `yaml:"images" mapstructure:"images"`
	Completeness CompletenessConfig `yaml:"completeness" mapstructure:"completeness"`
	Ambiguity    AmbiguityConfig    `yaml:"ambiguity" mapstructure:"ambiguity"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Pricing      cost.Rates         `yaml:"pricing" mapstructure:"pricing"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TemporalConfig configures the durable workflow runtime.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// NewsAPIConfig holds the news search adapter settings.
type NewsAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds deep-research adapter settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// FirecrawlConfig holds crawler adapter settings.
type FirecrawlConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	MaxPages int    `yaml:"max_pages" mapstructure:"max_pages"`
}

// AnthropicConfig holds LLM settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// ImageGenConfig holds the image generation adapter settings.
type ImageGenConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ZepConfig holds the knowledge graph adapter settings.
type ZepConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// MaxEpisodeChars bounds posted episode summaries.
	MaxEpisodeChars int `yaml:"max_episode_chars" mapstructure:"max_episode_chars"`
}

// CrawlConfig configures the crawl activities.
type CrawlConfig struct {
	MaxPages      int `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDepth      int `yaml:"max_depth" mapstructure:"max_depth"`
	CacheTTLHours int `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// ResearchConfig configures the research fan-out and dedupe policy.
type ResearchConfig struct {
	DuplicateLookbackDays  int  `yaml:"duplicate_lookback_days" mapstructure:"duplicate_lookback_days"`
	MaxReresearchAttempts  int  `yaml:"max_reresearch_attempts" mapstructure:"max_reresearch_attempts"`
	RescrapeOnLowConfidence bool `yaml:"rescrape_on_low_confidence" mapstructure:"rescrape_on_low_confidence"`
}

// SynthesisConfig configures draft generation retries.
type SynthesisConfig struct {
	MaxExpansionRetries int     `yaml:"max_expansion_retries" mapstructure:"max_expansion_retries"`
	MaxSchemaRetries    int     `yaml:"max_schema_retries" mapstructure:"max_schema_retries"`
	MinConfidencePublish float64 `yaml:"min_confidence_for_publish" mapstructure:"min_confidence_for_publish"`
}

// ImagesConfig configures the image sequencer.
type ImagesConfig struct {
	ArticleCount int `yaml:"article_count" mapstructure:"article_count"`
	CompanyCount int `yaml:"company_count" mapstructure:"company_count"`
}

// BelowFloorMode selects the policy when completeness lands under the floor.
type BelowFloorMode string

const (
	// BelowFloorDraft persists the record with status draft and an event.
	BelowFloorDraft BelowFloorMode = "draft"
	// BelowFloorRetry performs a single re-synthesis with expanded research.
	BelowFloorRetry BelowFloorMode = "retry"
)

// CompletenessConfig configures the persistence gate.
type CompletenessConfig struct {
	FloorArticle  float64        `yaml:"floor_article" mapstructure:"floor_article"`
	FloorCompany  float64        `yaml:"floor_company" mapstructure:"floor_company"`
	BelowFloorMode BelowFloorMode `yaml:"below_floor_mode" mapstructure:"below_floor_mode"`
}

// AmbiguityConfig configures company identity scoring.
type AmbiguityConfig struct {
	Weights scoring.AmbiguityWeights `yaml:"weights" mapstructure:"weights"`
}

// RateLimitConfig holds per-adapter token-bucket rates (requests/sec).
type RateLimitConfig struct {
	DefaultPerSec float64            `yaml:"default_per_sec" mapstructure:"default_per_sec"`
	Burst         int                `yaml:"burst" mapstructure:"burst"`
	Adapters      map[string]float64 `yaml:"adapters" mapstructure:"adapters"`
}

// RetryConfig holds the default activity retry policy.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseMS      int `yaml:"base_ms" mapstructure:"base_ms"`
	MaxMS       int `yaml:"max_ms" mapstructure:"max_ms"`
}

// ServerConfig configures the HTTP trigger gateway.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "quest-content-queue")
	v.SetDefault("newsapi.base_url", "https://newsapi.org/v2")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("firecrawl.max_pages", 20)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("imagegen.base_url", "https://api.imagegen.dev/v1")
	v.SetDefault("imagegen.model", "default")
	v.SetDefault("zep.base_url", "https://api.getzep.com/api/v2")
	v.SetDefault("zep.max_episode_chars", 10_000)
	v.SetDefault("crawl.max_pages", 20)
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.cache_ttl_hours", 24)
	v.SetDefault("research.duplicate_lookback_days", 7)
	v.SetDefault("research.max_reresearch_attempts", 1)
	v.SetDefault("research.rescrape_on_low_confidence", true)
	v.SetDefault("synthesis.max_expansion_retries", 2)
	v.SetDefault("synthesis.max_schema_retries", 2)
	v.SetDefault("synthesis.min_confidence_for_publish", 0.70)
	v.SetDefault("images.article_count", 7)
	v.SetDefault("images.company_count", 2)
	v.SetDefault("completeness.floor_article", 60)
	v.SetDefault("completeness.floor_company", 50)
	v.SetDefault("completeness.below_floor_mode", string(BelowFloorDraft))
	v.SetDefault("ambiguity.weights.name_url", 0.30)
	v.SetDefault("ambiguity.weights.category", 0.25)
	v.SetDefault("ambiguity.weights.consistency", 0.20)
	v.SetDefault("ambiguity.weights.homonym", 0.15)
	v.SetDefault("ambiguity.weights.core_fields", 0.10)
	v.SetDefault("rate_limit.default_per_sec", 5)
	v.SetDefault("rate_limit.burst", 2)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_ms", 1000)
	v.SetDefault("retry.max_ms", 60_000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pricing.news_search.per_query", 0.002)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.firecrawl.plan_monthly", 19.00)
	v.SetDefault("pricing.firecrawl.credits_included", 3000)
	v.SetDefault("pricing.imagegen.per_image", 0.04)

	// Read config file (optional)
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

// Redacted returns a copy safe to print: vendor keys are masked and any
// password embedded in the database URL is scrubbed.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return s
		}
		return "[redacted]"
	}
	out.NewsAPI.Key = mask(out.NewsAPI.Key)
	out.Perplexity.Key = mask(out.Perplexity.Key)
	out.Firecrawl.Key = mask(out.Firecrawl.Key)
	out.Anthropic.Key = mask(out.Anthropic.Key)
	out.ImageGen.Key = mask(out.ImageGen.Key)
	out.Zep.Key = mask(out.Zep.Key)
	if u, err := url.Parse(out.Store.DatabaseURL); err == nil && u.User != nil {
		out.Store.DatabaseURL = u.Redacted()
	}
	return &out
}

// YAML renders the configuration for display.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
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
