// Package config loads application configuration from a config file,
// environment variables, and .env files, in ascending precedence of
// defaults < file < environment.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	// Server
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Storage
	DBPath string `mapstructure:"db_path"`

	// LLM
	LLMBaseURL     string  `mapstructure:"llm_base_url"`
	LLMAPIKey      string  `mapstructure:"llm_api_key"`
	LLMModel       string  `mapstructure:"llm_model"`
	LLMMaxTokens   int     `mapstructure:"llm_max_tokens"`
	LLMTemperature float32 `mapstructure:"llm_temperature"`

	// Data sources
	FinnhubAPIKey string `mapstructure:"finnhub_api_key"`

	// Behavior
	ScrapeArticles bool `mapstructure:"scrape_articles"`
	Debug          bool `mapstructure:"debug"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8080",
		DBPath:         "data/stockpulse.db",
		LLMBaseURL:     "https://api.openai.com/v1",
		LLMModel:       "gpt-4o-mini",
		LLMMaxTokens:   800,
		LLMTemperature: 0.3,
		ScrapeArticles: true,
	}
}

// Load reads configuration from an optional config file (stockpulse.yaml in
// the working directory unless path overrides it), STOCKPULSE_-prefixed
// environment variables, and a .env file when present.
func Load(path string) (*Config, error) {
	// .env is a convenience for local development; absence is fine.
	_ = godotenv.Load()

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("cors_origins", defaults.CORSOrigins)
	v.SetDefault("db_path", defaults.DBPath)
	v.SetDefault("llm_base_url", defaults.LLMBaseURL)
	// AutomaticEnv only resolves keys viper knows about, so the env-only
	// secrets need explicit (empty) defaults to be readable at all.
	v.SetDefault("llm_api_key", "")
	v.SetDefault("finnhub_api_key", "")
	v.SetDefault("llm_model", defaults.LLMModel)
	v.SetDefault("llm_max_tokens", defaults.LLMMaxTokens)
	v.SetDefault("llm_temperature", defaults.LLMTemperature)
	v.SetDefault("scrape_articles", defaults.ScrapeArticles)
	v.SetDefault("debug", defaults.Debug)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stockpulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STOCKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is normal; a malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with. The LLM key
// is checked separately because data-only deployments run without one.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.LLMMaxTokens < 0 {
		return fmt.Errorf("llm_max_tokens cannot be negative")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("llm_temperature must be between 0 and 2")
	}
	return nil
}

// HasLLM reports whether sentiment and chat can run.
func (c *Config) HasLLM() bool {
	return strings.TrimSpace(c.LLMAPIKey) != ""
}
