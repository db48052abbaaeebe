// Package config holds the root configuration for the oapd server.
// Values come from a JSON5 config file overlaid with environment variables;
// secrets (DSN, API keys) are env-only and never persisted.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Vector    VectorConfig    `json:"vector"`
	Engine    EngineConfig    `json:"engine"`
	Providers ProvidersConfig `json:"providers"`
	Ingestion IngestionConfig `json:"ingestion"`
	Jobs      JobsConfig      `json:"jobs"`
	Notify    NotifyConfig    `json:"notifications"`
	Mirror    MirrorConfig    `json:"mirror"`
	Naming    NamingConfig    `json:"naming"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// AllowedOrigins whitelists WebSocket origins. Empty allows all.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// Token authenticates service principals. From env OAPD_SERVICE_TOKEN only.
	Token string `json:"-"`
}

// DatabaseConfig configures Postgres.
// PostgresDSN is NEVER read from the config file — only from env OAPD_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// VectorConfig configures the Qdrant vector index.
type VectorConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	UseTLS bool   `json:"use_tls,omitempty"`
	APIKey string `json:"-"` // env OAPD_QDRANT_API_KEY only
}

// EngineConfig configures the upstream graph-execution engine.
type EngineConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"` // env OAPD_ENGINE_API_KEY only
	// RateLimitRPS bounds outbound calls during sync sweeps.
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"`
	TimeoutSecs  int     `json:"timeout_seconds,omitempty"`
}

// ProvidersConfig configures the LLM and embedding endpoints.
type ProvidersConfig struct {
	// APIBase is an OpenAI-compatible endpoint.
	APIBase        string `json:"api_base"`
	APIKey         string `json:"-"` // env OAPD_LLM_API_KEY only
	EmbeddingModel string `json:"embedding_model"`
	EmbeddingDim   int    `json:"embedding_dimensions"`
}

// IngestionConfig configures the document conversion pipeline.
type IngestionConfig struct {
	// ConverterURL is the external binary-to-markdown converter service.
	ConverterURL string `json:"converter_url"`
	// TranscriptURL / TranscriptFallbackURL are the video transcript
	// providers, tried in order.
	TranscriptURL         string `json:"transcript_url"`
	TranscriptFallbackURL string `json:"transcript_fallback_url,omitempty"`
	// ConversionTimeoutSeconds bounds each conversion call. Default 300.
	ConversionTimeoutSeconds int `json:"conversion_timeout_seconds"`
	// EmbedWorkers bounds concurrent embedding batches. Default 2.
	EmbedWorkers int `json:"embed_workers,omitempty"`
}

// JobsConfig configures the background job scheduler.
type JobsConfig struct {
	// MaxConcurrent is the worker pool capacity. Default 3.
	MaxConcurrent int `json:"max_concurrent"`
}

// NotifyConfig configures share notifications.
type NotifyConfig struct {
	// ExpiryDays is the default time-to-live for pending notifications.
	ExpiryDays int `json:"expiry_days"`
	// ExpireSchedule is a cron expression for the expiry sweeper.
	ExpireSchedule string `json:"expire_schedule,omitempty"`
}

// MirrorConfig configures upstream mirror sweeps.
type MirrorConfig struct {
	// GraceDays is the cleanup horizon for stale mirror rows.
	GraceDays int `json:"grace_days"`
	// IncrementalSchedule / FullSchedule are cron expressions.
	IncrementalSchedule string `json:"incremental_schedule,omitempty"`
	FullSchedule        string `json:"full_schedule,omitempty"`
	PageLimit           int    `json:"page_limit,omitempty"`
}

// NamingConfig configures the thread summarizer.
type NamingConfig struct {
	Enabled            bool   `json:"enabled"`
	Model              string `json:"model"`
	TokenBudget        int    `json:"token_budget"`
	MinIntervalSeconds int    `json:"min_interval_seconds"`
	BatchLimit         int    `json:"batch_limit"`
	Schedule           string `json:"schedule,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	OTLPURL     string `json:"otlp_url,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// MinNamingInterval returns the summarizer throttle as a duration.
func (c *Config) MinNamingInterval() time.Duration {
	secs := c.Naming.MinIntervalSeconds
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// ConversionTimeout returns the per-conversion budget as a duration.
func (c *Config) ConversionTimeout() time.Duration {
	secs := c.Ingestion.ConversionTimeoutSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// NotificationExpiry returns the pending-notification TTL.
func (c *Config) NotificationExpiry() time.Duration {
	days := c.Notify.ExpiryDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// MirrorGrace returns the cleanup horizon.
func (c *Config) MirrorGrace() time.Duration {
	days := c.Mirror.GraceDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}
