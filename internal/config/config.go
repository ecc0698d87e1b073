// Package config loads service configuration from a YAML file and
// CALLIOPE_-prefixed environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	Providers   []ProviderConfig  `koanf:"providers"`
	ObjectStore ObjectStoreConfig `koanf:"object_store"`
	Queue       QueueConfig       `koanf:"queue"`
	Documents   DocumentsConfig   `koanf:"documents"`
	Streaming   StreamingConfig   `koanf:"streaming"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, mysql
	DSN    string `koanf:"dsn"`
}

// ProviderConfig configures one LLM provider entry.
type ProviderConfig struct {
	Name    string `koanf:"name"` // registry key, defaults to Type
	Type    string `koanf:"type"` // openai, anthropic
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`

	// Capability overrides. Zero values fall back to the factory defaults.
	MaxTimeout        time.Duration `koanf:"max_timeout"`
	SupportsReasoning bool          `koanf:"supports_reasoning"`
	SupportsThinking  bool          `koanf:"supports_thinking"`
	DisableStreaming  bool          `koanf:"disable_streaming"`
}

type ObjectStoreConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

type QueueConfig struct {
	URL            string `koanf:"url"`
	Subject        string `koanf:"subject"`         // document-processing requests
	StatusSubject  string `koanf:"status_subject"`  // worker progress updates
}

// DocumentsConfig holds admission-control thresholds for document jobs.
type DocumentsConfig struct {
	MaxFileSize            int64 `koanf:"max_file_size"`
	EmbeddingMaxFileSize   int64 `koanf:"embedding_max_file_size"`
	ExpensiveOptionsCutoff int64 `koanf:"expensive_options_cutoff"`
	MultipartThreshold     int64 `koanf:"multipart_threshold"`
	PartSize               int64 `koanf:"part_size"`
	InlineResultLimit      int64 `koanf:"inline_result_limit"`
}

type StreamingConfig struct {
	MaxConcurrentPerUser int           `koanf:"max_concurrent_per_user"`
	BasePollInterval     time.Duration `koanf:"base_poll_interval"`
	MaxPollInterval      time.Duration `koanf:"max_poll_interval"`
	JobRetention         time.Duration `koanf:"job_retention"`
}

// Load reads configuration from the given file path (optional) layered
// under CALLIOPE_-prefixed environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	if err := k.Load(env.Provider("CALLIOPE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CALLIOPE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                      8080,
		"server.request_timeout":           "30s",
		"storage.driver":                   "sqlite",
		"storage.dsn":                      "./data/calliope.db",
		"queue.subject":                    "documents.process",
		"queue.status_subject":             "documents.status",
		"documents.max_file_size":          int64(500 << 20),
		"documents.embedding_max_file_size": int64(50 << 20),
		"documents.expensive_options_cutoff": int64(10 << 20),
		"documents.multipart_threshold":    int64(16 << 20),
		"documents.part_size":              int64(5 << 20),
		"documents.inline_result_limit":    int64(256 << 10),
		"streaming.max_concurrent_per_user": 4,
		"streaming.base_poll_interval":     "1s",
		"streaming.max_poll_interval":      "15s",
		"streaming.job_retention":          "1h",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}
