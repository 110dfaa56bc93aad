// Package config loads the chat core configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the chat core.
type Config struct {
	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Providers holds upstream provider credentials and endpoints.
	Providers ProvidersConfig `yaml:"providers"`

	// Router configures model selection.
	Router RouterConfig `yaml:"router"`

	// Cache configures the shared key-value cache.
	Cache CacheConfig `yaml:"cache"`

	// Vector configures the vector store used for retrieval.
	Vector VectorConfig `yaml:"vector"`

	// Analytics configures the metric sink.
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Database configures the relational repository.
	Database DatabaseConfig `yaml:"database"`

	// Limits holds per-user quota defaults.
	Limits LimitsConfig `yaml:"limits"`

	// Captcha configures the turn verification endpoint.
	Captcha CaptchaConfig `yaml:"captcha"`

	// AppURL is the externally visible base URL, passed to tools that
	// build poll/callback links.
	AppURL string `yaml:"app_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProvidersConfig holds provider credentials.
type ProvidersConfig struct {
	// AlwaysEnabled is a comma-separated list of providers whose models
	// are available to every user regardless of their settings.
	AlwaysEnabled string `yaml:"always_enabled"`

	// DefaultModel is the model returned when routing cannot produce a
	// candidate.
	DefaultModel string `yaml:"default_model"`

	// AuxiliaryModel is the small model used for prompt analysis,
	// reranking, and summarisation.
	AuxiliaryModel string `yaml:"auxiliary_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	BedrockRegion   string `yaml:"bedrock_region"`
	MistralAPIKey   string `yaml:"mistral_api_key"`
	GroqAPIKey      string `yaml:"groq_api_key"`
}

// AlwaysEnabledSet parses AlwaysEnabled into a lowercase provider set.
func (p ProvidersConfig) AlwaysEnabledSet() map[string]bool {
	set := make(map[string]bool)
	for _, name := range strings.Split(p.AlwaysEnabled, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name != "" {
			set[name] = true
		}
	}
	return set
}

// RouterConfig configures model selection bounds.
type RouterConfig struct {
	MaxComparisonModels      int     `yaml:"max_comparison_models"`
	ComparisonScoreThreshold float64 `yaml:"comparison_score_threshold"`
}

// CacheConfig configures the KV cache.
type CacheConfig struct {
	// Backend is "redis" or "memory".
	Backend  string        `yaml:"backend"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// VectorConfig configures the vector store.
type VectorConfig struct {
	// Backend is "qdrant" or "memory".
	Backend string `yaml:"backend"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	APIKey  string `yaml:"api_key"`
	UseTLS  bool   `yaml:"use_tls"`
}

// AnalyticsConfig configures the ClickHouse metric sink.
type AnalyticsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addrs    []string `yaml:"addrs"`
	Database string   `yaml:"database"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Table    string   `yaml:"table"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// LimitsConfig holds quota defaults.
type LimitsConfig struct {
	FreeMonthlyMessages int     `yaml:"free_monthly_messages"`
	ProMonthlyMessages  int     `yaml:"pro_monthly_messages"`
	FreeMonthlyCost     float64 `yaml:"free_monthly_cost"`
	ProMonthlyCost      float64 `yaml:"pro_monthly_cost"`
	MaxDelegationDepth  int     `yaml:"max_delegation_depth"`
}

// CaptchaConfig configures the captcha verifier contract.
type CaptchaConfig struct {
	VerifyURL string `yaml:"verify_url"`
	Secret    string `yaml:"secret"`
	SiteKey   string `yaml:"site_key"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Providers: ProvidersConfig{
			AlwaysEnabled:  "mistral,groq",
			DefaultModel:   "mistral-large",
			AuxiliaryModel: "mistral-small",
		},
		Router: RouterConfig{
			MaxComparisonModels:      2,
			ComparisonScoreThreshold: 3.0,
		},
		Cache:    CacheConfig{Backend: "memory", TTL: time.Hour},
		Vector:   VectorConfig{Backend: "memory", Port: 6334},
		Database: DatabaseConfig{Backend: "memory"},
		Limits: LimitsConfig{
			FreeMonthlyMessages: 200,
			ProMonthlyMessages:  5000,
			FreeMonthlyCost:     1.0,
			ProMonthlyCost:      50.0,
			MaxDelegationDepth:  3,
		},
	}
}

// Load reads a YAML config file, applies defaults for missing values, and
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("MISTRAL_API_KEY"); v != "" {
		c.Providers.MistralAPIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Providers.GroqAPIKey = v
	}
	if v := os.Getenv("CHORUS_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
		c.Database.Backend = "postgres"
	}
	if v := os.Getenv("CHORUS_REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
		c.Cache.Backend = "redis"
	}
	if v := os.Getenv("CHORUS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHORUS_APP_URL"); v != "" {
		c.AppURL = v
	}
	if v := os.Getenv("CAPTCHA_SECRET"); v != "" {
		c.Captcha.Secret = v
	}
}
