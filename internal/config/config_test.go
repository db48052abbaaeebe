package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Jobs.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Ingestion.ConversionTimeoutSeconds != 300 {
		t.Errorf("ConversionTimeoutSeconds = %d, want 300", cfg.Ingestion.ConversionTimeoutSeconds)
	}
	if cfg.Naming.TokenBudget != 20000 {
		t.Errorf("TokenBudget = %d, want 20000", cfg.Naming.TokenBudget)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 18890 {
		t.Errorf("Port = %d, want 18890", cfg.Server.Port)
	}
}

func TestLoadJSON5AndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	body := `{
  // comments are allowed
  server: { host: "127.0.0.1", port: 9000 },
  jobs: { max_concurrent: 5 },
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_CONCURRENT_JOBS", "7")
	t.Setenv("OAPD_POSTGRES_DSN", "postgres://test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("server = %s:%d, want 127.0.0.1:9000", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Jobs.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want env override 7", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Database.PostgresDSN != "postgres://test" {
		t.Errorf("PostgresDSN = %q, want env value", cfg.Database.PostgresDSN)
	}
}

func TestSecretsNeverFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	body := `{ database: { PostgresDSN: "postgres://leaked" } }`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.PostgresDSN != "" {
		t.Errorf("DSN loaded from file: %q", cfg.Database.PostgresDSN)
	}
}
