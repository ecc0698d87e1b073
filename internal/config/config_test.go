package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Documents.PartSize != 5<<20 {
		t.Errorf("part size = %d", cfg.Documents.PartSize)
	}
	if cfg.Documents.MultipartThreshold != 16<<20 {
		t.Errorf("multipart threshold = %d", cfg.Documents.MultipartThreshold)
	}
	if cfg.Streaming.BasePollInterval != time.Second {
		t.Errorf("base poll interval = %s", cfg.Streaming.BasePollInterval)
	}
	if cfg.Streaming.MaxConcurrentPerUser != 4 {
		t.Errorf("max concurrent per user = %d", cfg.Streaming.MaxConcurrentPerUser)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  port: 9999
providers:
  - name: main
    type: openai
    model: gpt-4o
    api_key: test-key
streaming:
  max_concurrent_per_user: 2
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Model != "gpt-4o" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Streaming.MaxConcurrentPerUser != 2 {
		t.Errorf("max concurrent per user = %d, want 2", cfg.Streaming.MaxConcurrentPerUser)
	}
	// Unset keys still default.
	if cfg.Documents.InlineResultLimit != 256<<10 {
		t.Errorf("inline result limit = %d", cfg.Documents.InlineResultLimit)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CALLIOPE_SERVER_PORT", "7777")
	t.Setenv("CALLIOPE_STORAGE_DRIVER", "postgres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Storage.Driver)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}
