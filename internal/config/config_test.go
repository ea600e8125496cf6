package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIAGE_SEARCH_ENDPOINT", "https://search.example.net")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "tickets-active", cfg.SearchIndexActive)
	assert.Equal(t, "tickets-historic", cfg.SearchIndexHistoric)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 1536, cfg.EmbeddingDimensions)
	assert.Empty(t, cfg.QdrantURL)
	assert.Empty(t, cfg.RedisURL)
	assert.False(t, cfg.SeedOnStart)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRIAGE_SEARCH_ENDPOINT", "https://search.example.net")
	t.Setenv("TRIAGE_PORT", "9090")
	t.Setenv("TRIAGE_CACHE_TTL", "30m")
	t.Setenv("TRIAGE_SEED_ON_START", "true")
	t.Setenv("QDRANT_URL", "http://localhost:6333")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.SeedOnStart)
	assert.Equal(t, "http://localhost:6333", cfg.QdrantURL)
}

func TestLoadRequiresSearchEndpoint(t *testing.T) {
	t.Setenv("TRIAGE_SEARCH_ENDPOINT", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRIAGE_SEARCH_ENDPOINT")
}

func TestValidateRejectsBadDimensions(t *testing.T) {
	cfg := Config{
		SearchEndpoint:      "https://search.example.net",
		SearchIndexActive:   "a",
		SearchIndexHistoric: "h",
		EmbeddingDimensions: 0,
		MaxRequestBodyBytes: 1,
	}
	require.Error(t, cfg.Validate())
}
