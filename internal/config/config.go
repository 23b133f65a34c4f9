// Package config loads service configuration from an optional YAML file with
// environment-variable overrides. Secrets (API keys, tokens) come from the
// environment only and never live in the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration
type Config struct {
	DataDir  string         `yaml:"data_dir"` // store, cache, reports
	Catalog  CatalogConfig  `yaml:"catalog"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Provider ProviderConfig `yaml:"provider"`
	Health   HealthConfig   `yaml:"health"`
	Server   ServerConfig   `yaml:"server"`
	Notify   NotifyConfig   `yaml:"notify"`
	Report   ReportConfig   `yaml:"report"`
}

// CatalogConfig points at the content folders
type CatalogConfig struct {
	CompaniesDir    string `yaml:"companies_dir"`
	TechnologiesDir string `yaml:"technologies_dir"`
}

// AnalysisConfig tunes the incremental engine and correlation pass
type AnalysisConfig struct {
	WindowDays           int     `yaml:"window_days"`           // temporal window size
	CorrelationThreshold float64 `yaml:"correlation_threshold"` // min combined similarity
	SameSourceBonus      float64 `yaml:"same_source_bonus"`
	ImpactBoost          float64 `yaml:"impact_boost"` // added per correlation, scaled by score
	BatchSize            int     `yaml:"batch_size"`   // content items per LLM request batch
	Parallelism          int     `yaml:"parallelism"`  // concurrent LLM requests
	HashBodyPrefix       int     `yaml:"hash_body_prefix"` // bytes of body included in fingerprint
	MaxContentChars      int     `yaml:"max_content_chars"` // body truncation for prompts
}

// ProviderConfig selects and tunes LLM providers
type ProviderConfig struct {
	Primary        string  `yaml:"primary"`  // anthropic, bedrock, or "" for auto-detect
	Fallback       string  `yaml:"fallback"` // "" disables failover
	AnthropicModel string  `yaml:"anthropic_model"`
	BedrockModel   string  `yaml:"bedrock_model"`
	EmbedModel     string  `yaml:"embed_model"` // "" disables embeddings
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the per-request provider timeout
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// HealthConfig tunes the provider monitor
type HealthConfig struct {
	IntervalSeconds   int `yaml:"interval_seconds"`
	FailureThreshold  int `yaml:"failure_threshold"`  // consecutive failures -> down
	RecoveryThreshold int `yaml:"recovery_threshold"` // consecutive successes -> healthy
}

// Interval returns the poll interval
func (h HealthConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

// ServerConfig tunes the HTTP API
type ServerConfig struct {
	Port string `yaml:"port"`
}

// NotifyConfig wires the Discord alert channel
type NotifyConfig struct {
	DiscordToken   string `yaml:"-"` // env only
	DiscordChannel string `yaml:"discord_channel"`
}

// ReportConfig controls digest output
type ReportConfig struct {
	OutDir       string `yaml:"out_dir"`
	NotionPageID string `yaml:"notion_page_id"` // "" disables Notion publishing
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Catalog: CatalogConfig{
			CompaniesDir:    "./catalog/companies",
			TechnologiesDir: "./catalog/technologies",
		},
		Analysis: AnalysisConfig{
			WindowDays:           14,
			CorrelationThreshold: 0.35,
			SameSourceBonus:      0.15,
			ImpactBoost:          10,
			BatchSize:            5,
			Parallelism:          4,
			HashBodyPrefix:       2048,
			MaxContentChars:      12000,
		},
		Provider: ProviderConfig{
			AnthropicModel: "claude-sonnet-4-20250514",
			BedrockModel:   "anthropic.claude-sonnet-4-20250514-v1:0",
			MaxTokens:      4096,
			Temperature:    0.2,
			MaxRetries:     3,
			TimeoutSeconds: 120,
		},
		Health: HealthConfig{
			IntervalSeconds:   60,
			FailureThreshold:  3,
			RecoveryThreshold: 2,
		},
		Server: ServerConfig{
			Port: "8240",
		},
		Report: ReportConfig{
			OutDir: "./reports",
		},
	}
}

// Load reads path (if it exists) over the defaults, then applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = envOr("MOMENTS_DATA_DIR", c.DataDir)
	c.Catalog.CompaniesDir = envOr("MOMENTS_COMPANIES_DIR", c.Catalog.CompaniesDir)
	c.Catalog.TechnologiesDir = envOr("MOMENTS_TECHNOLOGIES_DIR", c.Catalog.TechnologiesDir)
	c.Server.Port = envOr("MOMENTS_PORT", c.Server.Port)
	c.Provider.Primary = envOr("MOMENTS_PROVIDER", c.Provider.Primary)
	c.Provider.Fallback = envOr("MOMENTS_PROVIDER_FALLBACK", c.Provider.Fallback)
	c.Provider.AnthropicModel = envOr("ANTHROPIC_MODEL", c.Provider.AnthropicModel)
	c.Provider.BedrockModel = envOr("BEDROCK_MODEL", c.Provider.BedrockModel)
	c.Provider.EmbedModel = envOr("BEDROCK_EMBED_MODEL", c.Provider.EmbedModel)
	c.Notify.DiscordToken = envOr("DISCORD_BOT_TOKEN", c.Notify.DiscordToken)
	c.Notify.DiscordChannel = envOr("DISCORD_ALERT_CHANNEL", c.Notify.DiscordChannel)
	c.Report.NotionPageID = envOr("NOTION_REPORT_PAGE_ID", c.Report.NotionPageID)

	if v := os.Getenv("MOMENTS_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analysis.WindowDays = n
		}
	}
	if v := os.Getenv("MOMENTS_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analysis.Parallelism = n
		}
	}
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.Analysis.WindowDays <= 0 {
		return fmt.Errorf("analysis.window_days must be positive, got %d", c.Analysis.WindowDays)
	}
	if c.Analysis.CorrelationThreshold < 0 || c.Analysis.CorrelationThreshold > 1 {
		return fmt.Errorf("analysis.correlation_threshold must be in [0,1], got %g", c.Analysis.CorrelationThreshold)
	}
	if c.Analysis.BatchSize <= 0 {
		return fmt.Errorf("analysis.batch_size must be positive, got %d", c.Analysis.BatchSize)
	}
	if c.Analysis.Parallelism <= 0 {
		return fmt.Errorf("analysis.parallelism must be positive, got %d", c.Analysis.Parallelism)
	}
	if c.Analysis.HashBodyPrefix <= 0 {
		return fmt.Errorf("analysis.hash_body_prefix must be positive, got %d", c.Analysis.HashBodyPrefix)
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("health.failure_threshold must be positive, got %d", c.Health.FailureThreshold)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
