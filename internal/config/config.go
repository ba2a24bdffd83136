package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Params     ParamsConfig     `yaml:"params" mapstructure:"params"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	Model         string `yaml:"model" mapstructure:"model"`
	FallbackModel string `yaml:"fallback_model" mapstructure:"fallback_model"`
	MaxTokens     int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractionConfig configures the resilient extraction pipeline.
type ExtractionConfig struct {
	MaxRetries           int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs       float64 `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	MaxRequestsPerMinute int     `yaml:"max_requests_per_minute" mapstructure:"max_requests_per_minute"`
	UseCache             bool    `yaml:"use_cache" mapstructure:"use_cache"`
	CacheTTLSecs         int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// RetryDelay returns the base backoff as a duration.
func (c ExtractionConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs * float64(time.Second))
}

// CacheTTL returns the entry lifetime as a duration.
func (c ExtractionConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// CacheConfig configures the durable cache tier.
type CacheConfig struct {
	// Durable selects the second tier: "file", "store", or "none".
	Durable string `yaml:"durable" mapstructure:"durable"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// ParamsConfig configures the parameter registry source.
type ParamsConfig struct {
	// File overrides the embedded default registry when set.
	File string `yaml:"file" mapstructure:"file"`
}

// BatchConfig configures batch scorecard runs.
type BatchConfig struct {
	MaxConcurrentParams int `yaml:"max_concurrent_params" mapstructure:"max_concurrent_params"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port              int     `yaml:"port" mapstructure:"port"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
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
	v.SetEnvPrefix("SCORECARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "scorecard.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.requests_per_second", 10)
	v.SetDefault("batch.max_concurrent_params", 4)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fallback_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.retry_delay_secs", 1.0)
	v.SetDefault("extraction.max_requests_per_minute", 60)
	v.SetDefault("extraction.use_cache", true)
	v.SetDefault("extraction.cache_ttl_secs", 86400)
	v.SetDefault("cache.durable", "file")
	v.SetDefault("cache.dir", ".scorecard-cache")

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

// Validate checks the configuration required for a command mode:
// "extract" and "batch" need provider credentials, "serve" additionally
// needs a listenable port. Collects all problems into one error.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "extract", "batch", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required")
	}
	if c.Extraction.MaxRetries < 1 {
		problems = append(problems, "extraction.max_retries must be >= 1")
	}
	if c.Extraction.RetryDelaySecs < 0 {
		problems = append(problems, "extraction.retry_delay_secs must be >= 0")
	}
	if c.Extraction.MaxRequestsPerMinute < 0 {
		problems = append(problems, "extraction.max_requests_per_minute must be >= 0")
	}
	if c.Extraction.UseCache && c.Extraction.CacheTTLSecs <= 0 {
		problems = append(problems, "extraction.cache_ttl_secs must be > 0 when use_cache is set")
	}
	if c.Cache.Durable == "file" && c.Cache.Dir == "" {
		problems = append(problems, "cache.dir is required for the file tier")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}

	if mode == "batch" || mode == "serve" {
		if c.Batch.MaxConcurrentParams < 1 || c.Batch.MaxConcurrentParams > 32 {
			problems = append(problems, "batch.max_concurrent_params must be between 1 and 32")
		}
	}
	if mode == "serve" {
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.RequestsPerSecond <= 0 {
			problems = append(problems, "server.requests_per_second must be > 0")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
