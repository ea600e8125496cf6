// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Search index settings. The active index is the system of record for
	// tickets; the historic index holds resolved tickets.
	SearchEndpoint      string
	SearchAPIKey        string
	SearchIndexActive   string
	SearchIndexHistoric string

	// Qdrant settings (optional — empty URL disables the vector strategies).
	QdrantURL                string
	QdrantAPIKey             string
	QdrantCollectionActive   string
	QdrantCollectionHistoric string

	// Redis settings (optional — empty URL disables result caching).
	RedisURL string
	CacheTTL time.Duration

	// OpenAI-compatible provider settings (optional — empty key disables
	// embeddings and LLM notifications, with templated fallbacks).
	OpenAIBaseURL       string
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	CompletionModel     string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel    string
	SeedOnStart bool // Seed the vector collections from the search indexes at startup.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                     envInt("TRIAGE_PORT", 8080),
		ReadTimeout:              envDuration("TRIAGE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:             envDuration("TRIAGE_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes:      int64(envInt("TRIAGE_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		SearchEndpoint:           envStr("TRIAGE_SEARCH_ENDPOINT", ""),
		SearchAPIKey:             envStr("TRIAGE_SEARCH_API_KEY", ""),
		SearchIndexActive:        envStr("TRIAGE_SEARCH_INDEX_ACTIVE", "tickets-active"),
		SearchIndexHistoric:      envStr("TRIAGE_SEARCH_INDEX_HISTORIC", "tickets-historic"),
		QdrantURL:                envStr("QDRANT_URL", ""),
		QdrantAPIKey:             envStr("QDRANT_API_KEY", ""),
		QdrantCollectionActive:   envStr("TRIAGE_QDRANT_COLLECTION_ACTIVE", "tickets_active"),
		QdrantCollectionHistoric: envStr("TRIAGE_QDRANT_COLLECTION_HISTORIC", "tickets_historic"),
		RedisURL:                 envStr("REDIS_URL", ""),
		CacheTTL:                 envDuration("TRIAGE_CACHE_TTL", time.Hour),
		OpenAIBaseURL:            envStr("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:             envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:           envStr("TRIAGE_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions:      envInt("TRIAGE_EMBEDDING_DIMENSIONS", 1536),
		CompletionModel:          envStr("TRIAGE_COMPLETION_MODEL", "gpt-4o-mini"),
		OTELEndpoint:             envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:             envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:              envStr("OTEL_SERVICE_NAME", "triaged"),
		LogLevel:                 envStr("TRIAGE_LOG_LEVEL", "info"),
		SeedOnStart:              envBool("TRIAGE_SEED_ON_START", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.SearchEndpoint == "" {
		return fmt.Errorf("config: TRIAGE_SEARCH_ENDPOINT is required")
	}
	if c.SearchIndexActive == "" || c.SearchIndexHistoric == "" {
		return fmt.Errorf("config: search index names must not be empty")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: TRIAGE_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: TRIAGE_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
