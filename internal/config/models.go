package config

import "time"

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// StoreConfig represents the persistence configuration
type StoreConfig struct {
	Type        string
	SQLitePath  string
	MySQLDSN    string
	PostgresDSN string
}

// VaultConfig represents the credential vault configuration
type VaultConfig struct {
	Path string
	Key  string
}

// GmailConfig represents the Gmail OAuth configuration
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// SyncConfig represents the mailbox sync configuration
type SyncConfig struct {
	PageSize     int64
	FetchTimeout time.Duration
	MaxRetries   int
	Interval     time.Duration
	Workers      int
}

// ClassifyConfig represents the classification configuration
type ClassifyConfig struct {
	AllowedDomains []string
	BlockedDomains []string
}

// ExtractConfig represents the extraction engine configuration
type ExtractConfig struct {
	RuleConfidence float64
	FallbackBelow  float64
	LLMTimeout     time.Duration
}

// DedupConfig represents the reconciliation configuration
type DedupConfig struct {
	DateWindowDays int
}

// AlertsConfig represents the alert scheduling configuration
type AlertsConfig struct {
	RenewalLeadTime     time.Duration
	RescheduleTolerance time.Duration
	DispatchInterval    time.Duration
}

// AnomalyConfig represents the anomaly detection configuration
type AnomalyConfig struct {
	ZThreshold float64
	MinHistory int
}

// DraftsConfig represents the draft composition configuration
type DraftsConfig struct {
	RewriteEnabled bool
	RewriteTimeout time.Duration
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetStore returns the persistence configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:        c.GetString("store.type"),
		SQLitePath:  c.GetString("store.sqlite_path"),
		MySQLDSN:    c.GetString("store.mysql_dsn"),
		PostgresDSN: c.GetString("store.postgres_dsn"),
	}
}

// GetVault returns the credential vault configuration
func (c *Config) GetVault() VaultConfig {
	return VaultConfig{
		Path: c.GetString("vault.path"),
		Key:  c.GetString("vault.key"),
	}
}

// GetGmail returns the Gmail OAuth configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{
		ClientID:     c.GetString("gmail.client_id"),
		ClientSecret: c.GetString("gmail.client_secret"),
		RedirectURL:  c.GetString("gmail.redirect_url"),
	}
}

// GetSync returns the mailbox sync configuration
func (c *Config) GetSync() (SyncConfig, error) {
	fetchTimeout, err := c.GetDuration("sync.fetch_timeout")
	if err != nil {
		return SyncConfig{}, err
	}
	interval, err := c.GetDuration("sync.interval")
	if err != nil {
		return SyncConfig{}, err
	}
	return SyncConfig{
		PageSize:     int64(c.GetInt("sync.page_size")),
		FetchTimeout: fetchTimeout,
		MaxRetries:   c.GetInt("sync.max_retries"),
		Interval:     interval,
		Workers:      c.GetInt("sync.workers"),
	}, nil
}

// GetClassify returns the classification configuration
func (c *Config) GetClassify() ClassifyConfig {
	return ClassifyConfig{
		AllowedDomains: c.GetStringSlice("classify.allowed_domains"),
		BlockedDomains: c.GetStringSlice("classify.blocked_domains"),
	}
}

// GetExtract returns the extraction engine configuration
func (c *Config) GetExtract() (ExtractConfig, error) {
	llmTimeout, err := c.GetDuration("extract.llm_timeout")
	if err != nil {
		return ExtractConfig{}, err
	}
	return ExtractConfig{
		RuleConfidence: c.GetFloat64("extract.rule_confidence"),
		FallbackBelow:  c.GetFloat64("extract.fallback_below"),
		LLMTimeout:     llmTimeout,
	}, nil
}

// GetDedup returns the reconciliation configuration
func (c *Config) GetDedup() DedupConfig {
	return DedupConfig{
		DateWindowDays: c.GetInt("dedup.date_window_days"),
	}
}

// GetAlerts returns the alert scheduling configuration
func (c *Config) GetAlerts() (AlertsConfig, error) {
	leadTime, err := c.GetDuration("alerts.renewal_lead_time")
	if err != nil {
		return AlertsConfig{}, err
	}
	tolerance, err := c.GetDuration("alerts.reschedule_tolerance")
	if err != nil {
		return AlertsConfig{}, err
	}
	dispatch, err := c.GetDuration("alerts.dispatch_interval")
	if err != nil {
		return AlertsConfig{}, err
	}
	return AlertsConfig{
		RenewalLeadTime:     leadTime,
		RescheduleTolerance: tolerance,
		DispatchInterval:    dispatch,
	}, nil
}

// GetAnomaly returns the anomaly detection configuration
func (c *Config) GetAnomaly() AnomalyConfig {
	return AnomalyConfig{
		ZThreshold: c.GetFloat64("anomaly.z_threshold"),
		MinHistory: c.GetInt("anomaly.min_history"),
	}
}

// GetDrafts returns the draft composition configuration
func (c *Config) GetDrafts() (DraftsConfig, error) {
	rewriteTimeout, err := c.GetDuration("drafts.rewrite_timeout")
	if err != nil {
		return DraftsConfig{}, err
	}
	return DraftsConfig{
		RewriteEnabled: c.GetBool("drafts.rewrite_enabled"),
		RewriteTimeout: rewriteTimeout,
	}, nil
}
