package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/finance-pilot/")
	v.AddConfigPath("$HOME/.finance-pilot")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("FINANCE_PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// LLM provider defaults
	v.SetDefault("llm.provider", "none")

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.0)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 8192)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.0)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 8192)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 8192)

	// Store defaults
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.sqlite_path", "/data/finance_pilot.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/finance_pilot")
	v.SetDefault("store.postgres_dsn", "postgres://localhost:5432/finance_pilot")

	// Vault defaults
	v.SetDefault("vault.path", "/data/vault")
	v.SetDefault("vault.key", "")

	// Gmail defaults
	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.redirect_url", "http://localhost:8080/oauth/callback")

	// Sync defaults
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.fetch_timeout", "30s")
	v.SetDefault("sync.max_retries", 4)
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.workers", 4)

	// Classification defaults
	v.SetDefault("classify.allowed_domains", []string{})
	v.SetDefault("classify.blocked_domains", []string{})

	// Extraction defaults
	v.SetDefault("extract.rule_confidence", 0.85)
	v.SetDefault("extract.fallback_below", 0.6)
	v.SetDefault("extract.llm_timeout", "45s")

	// Dedup defaults
	v.SetDefault("dedup.date_window_days", 3)

	// Alert defaults
	v.SetDefault("alerts.renewal_lead_time", "72h")
	v.SetDefault("alerts.reschedule_tolerance", "24h")
	v.SetDefault("alerts.dispatch_interval", "1m")

	// Anomaly defaults
	v.SetDefault("anomaly.z_threshold", 2.5)
	v.SetDefault("anomaly.min_history", 3)

	// Draft defaults
	v.SetDefault("drafts.rewrite_enabled", false)
	v.SetDefault("drafts.rewrite_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
