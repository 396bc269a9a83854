package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Extraction strategies.
const (
	StrategyAuto      = "auto"
	StrategyLLM       = "llm"
	StrategyHeuristic = "heuristic"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Serper     SerperConfig     `yaml:"serper" mapstructure:"serper"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SerperConfig holds Serper search API settings.
type SerperConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	MaxResults      int     `yaml:"max_results" mapstructure:"max_results"`
	TimeoutMs       int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
}

// Timeout returns the search request timeout.
func (c SerperConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OpenAIConfig holds settings for any OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ExtractionConfig selects the extraction strategy and LLM backend.
type ExtractionConfig struct {
	Strategy  string `yaml:"strategy" mapstructure:"strategy"`
	Backend   string `yaml:"backend" mapstructure:"backend"`
	TimeoutMs int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
}

// Timeout returns the LLM call timeout.
func (c ExtractionConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DiscoveryConfig configures the discovery pipeline.
type DiscoveryConfig struct {
	ValidateBeforeSave bool   `yaml:"validate_before_save" mapstructure:"validate_before_save"`
	EnrichImages       bool   `yaml:"enrich_images" mapstructure:"enrich_images"`
	ImageTimeoutMs     int    `yaml:"image_timeout_ms" mapstructure:"image_timeout_ms"`
	CatalogPath        string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// ImageTimeout returns the image search timeout.
func (c DiscoveryConfig) ImageTimeout() time.Duration {
	if c.ImageTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ImageTimeoutMs) * time.Millisecond
}

// ResilienceConfig tunes retries and the circuit breaker around search calls.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures CSV batch discovery.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have empty defaults so AutomaticEnv can populate them on Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("serper.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("openai.key", "")
	v.SetDefault("discovery.catalog_path", "")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("serper.max_results", 3)
	v.SetDefault("serper.timeout_ms", 10000)
	v.SetDefault("serper.rate_limit_per_sec", 5)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("openai.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("openai.model", "gemini-1.5-flash")
	v.SetDefault("extraction.strategy", StrategyAuto)
	v.SetDefault("extraction.backend", "anthropic")
	v.SetDefault("extraction.timeout_ms", 30000)
	v.SetDefault("discovery.validate_before_save", true)
	v.SetDefault("discovery.enrich_images", true)
	v.SetDefault("discovery.image_timeout_ms", 5000)
	v.SetDefault("resilience.max_attempts", 2)
	v.SetDefault("resilience.initial_backoff_ms", 250)
	v.SetDefault("resilience.max_backoff_ms", 2000)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields required by the given command mode:
// "discover", "serve", "batch", "migrate", "import" or "read".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch mode {
	case "migrate", "import", "read":
	case "discover", "serve", "batch":
		switch c.Extraction.Strategy {
		case StrategyAuto, StrategyLLM, StrategyHeuristic:
		default:
			errs = append(errs, fmt.Sprintf("extraction.strategy must be auto, llm or heuristic, got %q", c.Extraction.Strategy))
		}
		if c.Extraction.Strategy == StrategyLLM && c.LLMKey() == "" {
			errs = append(errs, fmt.Sprintf("%s.key is required when extraction.strategy is llm", c.Extraction.Backend))
		}
		if c.Serper.MaxResults < 1 || c.Serper.MaxResults > 20 {
			errs = append(errs, "serper.max_results must be between 1 and 20")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if mode == "batch" && (c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 32) {
			errs = append(errs, "batch.max_concurrent must be between 1 and 32")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// LLMKey returns the API key of the configured extraction backend.
func (c *Config) LLMKey() string {
	switch c.Extraction.Backend {
	case "openai":
		return c.OpenAI.Key
	case "anthropic":
		return c.Anthropic.Key
	default:
		return ""
	}
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
