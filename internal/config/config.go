// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Classify ClassifyConfig `mapstructure:"classify"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	DB       DBConfig       `mapstructure:"db"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetchConfig governs the page fetch client.
type FetchConfig struct {
	MaxAttempts        int     `mapstructure:"max_attempts"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	MinBodyBytes       int     `mapstructure:"min_body_bytes"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	RateLimitBackoffMs int     `mapstructure:"rate_limit_backoff_ms"`
	BrowserEnabled     bool    `mapstructure:"browser_enabled"`
	BrowserWaitSeconds int     `mapstructure:"browser_wait_seconds"`
	PerHostQPS         float64 `mapstructure:"per_host_qps"`
}

// RetryConfig stretches the fetch budgets for the retry pass over previously
// failed sources.
type RetryConfig struct {
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
	BrowserWaitSeconds int `mapstructure:"browser_wait_seconds"`
	PageDelaySeconds   int `mapstructure:"page_delay_seconds"`
}

// CrawlConfig governs pagination behavior.
type CrawlConfig struct {
	PageDelaySeconds int `mapstructure:"page_delay_seconds"`
	MaxPages         int `mapstructure:"max_pages"`
}

// ClassifyConfig governs the consensus classification engine.
type ClassifyConfig struct {
	BatchSize      int    `mapstructure:"batch_size"`
	Workers        int    `mapstructure:"workers"`
	PassDelayMinMs int    `mapstructure:"pass_delay_min_ms"`
	PassDelayMaxMs int    `mapstructure:"pass_delay_max_ms"`
	Topic          string `mapstructure:"topic"`
	GraceSeconds   int    `mapstructure:"grace_seconds"`
}

// OpenAIConfig holds credentials for the chat-completions endpoint.
type OpenAIConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// PathsConfig sets the on-disk state files.
type PathsConfig struct {
	SourceList      string `mapstructure:"source_list"`
	FailureRegistry string `mapstructure:"failure_registry"`
	Archive         string `mapstructure:"archive"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.min_body_bytes", 1000)
	v.SetDefault("fetch.backoff_initial_ms", 2000)
	v.SetDefault("fetch.backoff_max_ms", 30000)
	v.SetDefault("fetch.rate_limit_backoff_ms", 10000)
	v.SetDefault("fetch.browser_enabled", true)
	v.SetDefault("fetch.browser_wait_seconds", 60)
	v.SetDefault("fetch.per_host_qps", 1.0)
	v.SetDefault("retry.timeout_seconds", 120)
	v.SetDefault("retry.browser_wait_seconds", 300)
	v.SetDefault("retry.page_delay_seconds", 10)
	v.SetDefault("crawl.page_delay_seconds", 2)
	v.SetDefault("crawl.max_pages", 50)
	v.SetDefault("classify.batch_size", 10)
	v.SetDefault("classify.workers", 20)
	v.SetDefault("classify.pass_delay_min_ms", 1000)
	v.SetDefault("classify.pass_delay_max_ms", 3000)
	v.SetDefault("classify.topic", "artificial intelligence")
	v.SetDefault("classify.grace_seconds", 30)
	v.SetDefault("openai.base_url", "https://api.openai.com")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout_seconds", 120)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.max_tokens", 8192)
	v.SetDefault("db.table", "papers")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("paths.source_list", "sources.json")
	v.SetDefault("paths.failure_registry", "state/failed_sources.json")
	v.SetDefault("paths.archive", "state/non_relevant.jsonl")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Classify.BatchSize <= 0 {
		return fmt.Errorf("classify.batch_size must be > 0")
	}
	if c.Classify.Workers <= 0 {
		return fmt.Errorf("classify.workers must be > 0")
	}
	if c.OpenAI.Model == "" {
		return fmt.Errorf("openai.model must be set")
	}
	if c.Paths.SourceList == "" {
		return fmt.Errorf("paths.source_list must be set")
	}
	return nil
}

// FetchTimeout converts the fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// PageDelay converts the crawl page delay to a duration.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Crawl.PageDelaySeconds) * time.Second
}
