// Package config loads the memory store's configuration surface (§6):
// operational settings, embedding provider selection, cache sizing,
// feature toggles, and tier-manager/migration tuning. YAML values are
// overridden by environment variables using a load-then-override
// precedence.
package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/engramhq/engram/utils/env"
)

// EmbeddingProviderKind selects which embedding backend is active.
type EmbeddingProviderKind string

const (
	OpenAI EmbeddingProviderKind = "openai"
	Ollama EmbeddingProviderKind = "ollama"
	Mock   EmbeddingProviderKind = "mock"
)

// EmbeddingConfig configures the embedding pipeline's provider and
// rate-limiting/batching knobs, per §6.
type EmbeddingConfig struct {
	Provider      EmbeddingProviderKind `yaml:"provider"`
	Model         string                `yaml:"model"`
	BaseURL       string                `yaml:"base_url"`
	APIKey        string                `yaml:"api_key,omitempty"`
	RateLimitRPM  int                   `yaml:"rate_limit_rpm"`
	GPUBatchSize  int                   `yaml:"gpu_batch_size"`
	LocalModelPath string               `yaml:"local_model_path,omitempty"`
}

// CacheConfig configures the embedding cache, per §6.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

// RingBufferConfig configures the mmap-backed Working-Memory Ring
// Buffer (§4.L, §6): a fixed-size scratch file mirroring recently
// created/updated memories ahead of the Repository's map.
type RingBufferConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	SizeBytes int    `yaml:"size_bytes"`
}

// TierManagerConfig configures the Auto-Tiering Classifier, per §6.
type TierManagerConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MaxWorkingItems  int     `yaml:"max_working_items"`
	ColdThreshold    float64 `yaml:"cold_threshold"`
	FrozenThreshold  float64 `yaml:"frozen_threshold"`
}

// RetryConfig configures the Migration Engine's Retry Policy, per §6.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseMs      int `yaml:"base_ms"`
	MaxMs       int `yaml:"max_ms"`
}

// BreakerConfig configures the Migration Engine's shared Circuit
// Breaker, per §6.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	TimeoutSeconds   int `yaml:"timeout_seconds"`
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// MigrationConfig configures the Migration Engine's worker pool, retry
// behavior, and circuit breaker, per §6.
type MigrationConfig struct {
	MaxWorkers int           `yaml:"max_workers"`
	Retry      RetryConfig   `yaml:"retry"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// Config is the full application configuration, loaded from YAML and
// overridden by environment variables.
type Config struct {
	// Operational.
	DatabaseURL      string `yaml:"database_url"`
	MaxDBConnections int    `yaml:"max_db_connections"`
	Port             int    `yaml:"port"`

	// Valkey endpoint backing the Remote provider's rate limiter.
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// Bearer token required on the JSON-RPC transport.
	MemoryAPIKey string `yaml:"-"`

	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Cache       CacheConfig       `yaml:"cache"`
	RingBuffer  RingBufferConfig  `yaml:"ring_buffer"`
	TierManager TierManagerConfig `yaml:"tier_manager"`
	Migration   MigrationConfig   `yaml:"migration"`

	FallbackEnabled     bool `yaml:"fallback_enabled"`
	CostTrackingEnabled bool `yaml:"cost_tracking_enabled"`
	MetricsEnabled      bool `yaml:"metrics_enabled"`
}

// Default returns the configuration with every §6 default applied,
// before YAML/environment overrides.
func Default() Config {
	return Config{
		MaxDBConnections: 100,
		Port:             8080,
		Embedding: EmbeddingConfig{
			Provider:     Mock,
			RateLimitRPM: 100,
			GPUBatchSize: 32,
		},
		Cache: CacheConfig{
			TTLSeconds: 3600,
			MaxEntries: 10000,
		},
		RingBuffer: RingBufferConfig{
			Enabled:   true,
			Path:      "working_memory.ring",
			SizeBytes: 4 << 20,
		},
		TierManager: TierManagerConfig{
			Enabled:         true,
			MaxWorkingItems: 9,
			ColdThreshold:   0.2,
			FrozenThreshold: 0.05,
		},
		Migration: MigrationConfig{
			MaxWorkers: 4,
			Retry:      RetryConfig{MaxAttempts: 5, BaseMs: 100, MaxMs: 10000},
			Breaker:    BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, TimeoutSeconds: 60, HalfOpenMaxCalls: 3},
		},
		FallbackEnabled:     true,
		CostTrackingEnabled: true,
		MetricsEnabled:      true,
	}
}

// Load reads configuration from path (a local file or http(s) URL),
// applying defaults, then YAML, then environment-variable overrides in
// that order of increasing precedence.
func Load(path string, logger *zap.SugaredLogger) (*Config, error) {
	config := Default()

	configSource := env.OptionalStringVariable("CONFIG_SOURCE", path)
	configToken := env.OptionalStringVariable("CONFIG_TOKEN", "")
	configData, err := readConfigSource(configSource, configToken, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get config data: %v", err)
	}

	if len(configData) > 0 {
		if err := yaml.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %v", err)
		}
	}

	config.DatabaseURL = env.OptionalStringVariable("DATABASE_URL", config.DatabaseURL)
	config.MaxDBConnections = env.OptionalIntVariable("MAX_DB_CONNECTIONS", config.MaxDBConnections)
	config.Port = env.OptionalIntVariable("PORT", config.Port)
	config.ValkeyEndpoint = env.OptionalStringVariable("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.MemoryAPIKey = env.OptionalStringVariable("MEMORY_API_KEY", config.MemoryAPIKey)
	config.Embedding.APIKey = env.OptionalStringVariable("EMBEDDING_API_KEY", config.Embedding.APIKey)
	config.Embedding.BaseURL = env.OptionalStringVariable("EMBEDDING_BASE_URL", config.Embedding.BaseURL)
	config.FallbackEnabled = env.OptionalBoolVariable("FALLBACK_ENABLED", config.FallbackEnabled)
	config.CostTrackingEnabled = env.OptionalBoolVariable("COST_TRACKING_ENABLED", config.CostTrackingEnabled)
	config.MetricsEnabled = env.OptionalBoolVariable("METRICS_ENABLED", config.MetricsEnabled)

	return &config, nil
}

func readConfigSource(source, token string, logger *zap.SugaredLogger) ([]byte, error) {
	if source == "" {
		return nil, nil
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if logger != nil {
			logger.Infow("fetching remote config", "url", source)
		}
		return fetchRemoteConfig(source, token)
	}
	if logger != nil {
		logger.Infow("loading local config", "path", source)
	}
	return os.ReadFile(source)
}

func fetchRemoteConfig(url string, token string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch config: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
