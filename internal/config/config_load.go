package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
		Vector: VectorConfig{
			Host: "localhost",
			Port: 6334,
		},
		Engine: EngineConfig{
			BaseURL:      "http://localhost:2024",
			RateLimitRPS: 10,
			TimeoutSecs:  30,
		},
		Providers: ProvidersConfig{
			APIBase:        "https://api.openai.com/v1",
			EmbeddingModel: "text-embedding-3-small",
			EmbeddingDim:   1536,
		},
		Ingestion: IngestionConfig{
			ConversionTimeoutSeconds: 300,
			EmbedWorkers:             2,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 3,
		},
		Notify: NotifyConfig{
			ExpiryDays:     30,
			ExpireSchedule: "*/5 * * * *",
		},
		Mirror: MirrorConfig{
			GraceDays:           7,
			IncrementalSchedule: "*/10 * * * *",
			FullSchedule:        "0 3 * * *",
			PageLimit:           100,
		},
		Naming: NamingConfig{
			Enabled:            true,
			Model:              "gpt-4o-mini",
			TokenBudget:        20000,
			MinIntervalSeconds: 60,
			BatchLimit:         5,
			Schedule:           "* * * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	// Secrets: env only.
	envStr("OAPD_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("OAPD_SERVICE_TOKEN", &c.Server.Token)
	envStr("OAPD_QDRANT_API_KEY", &c.Vector.APIKey)
	envStr("OAPD_ENGINE_API_KEY", &c.Engine.APIKey)
	envStr("OAPD_LLM_API_KEY", &c.Providers.APIKey)

	envStr("OAPD_ENGINE_URL", &c.Engine.BaseURL)
	envStr("OAPD_LLM_API_BASE", &c.Providers.APIBase)
	envStr("OAPD_CONVERTER_URL", &c.Ingestion.ConverterURL)
	envStr("OAPD_TRANSCRIPT_URL", &c.Ingestion.TranscriptURL)
	envStr("OAPD_TRANSCRIPT_FALLBACK_URL", &c.Ingestion.TranscriptFallbackURL)

	// Recognized tuning knobs.
	envInt("MAX_CONCURRENT_JOBS", &c.Jobs.MaxConcurrent)
	envInt("CONVERSION_TIMEOUT_SECONDS", &c.Ingestion.ConversionTimeoutSeconds)
	envInt("NOTIFICATION_EXPIRY", &c.Notify.ExpiryDays)
	envInt("MIRROR_GRACE_DAYS", &c.Mirror.GraceDays)
	envBool("NAMING_ENABLED", &c.Naming.Enabled)
	envStr("NAMING_MODEL", &c.Naming.Model)
	envInt("NAMING_TOKEN_BUDGET", &c.Naming.TokenBudget)
	envInt("NAMING_MIN_INTERVAL_SECONDS", &c.Naming.MinIntervalSeconds)
	envInt("NAMING_BATCH_LIMIT", &c.Naming.BatchLimit)
}
