package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 1024, cfg.EmbeddingDim)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, 16, cfg.MaxParallelTasksPerDAG)
	assert.Equal(t, 30*time.Second, cfg.DefaultTaskTimeout)
	assert.Equal(t, 0.6, cfg.HybridAlphaDefault)
	assert.Equal(t, 0.85, cfg.CapabilityMatchThreshold)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, 8, cfg.PerEndpointInflightCap)
	assert.Equal(t, 300*time.Second, cfg.AILGateTimeout)
	assert.Equal(t, 4, cfg.Speculation.Cap)
	assert.Equal(t, 5*time.Minute, cfg.Speculation.TTL)
	assert.Equal(t, 100, cfg.Speculation.LRUSize)
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{EmbeddingDim: 512, HTTPPort: "9090"}
	cfg.ApplyDefaults()

	assert.Equal(t, 512, cfg.EmbeddingDim)
	// Embedding.Dimension only defaults from EmbeddingDim when itself zero.
	assert.Equal(t, 512, cfg.Embedding.Dimension)
	assert.Equal(t, "9090", cfg.HTTPPort)
}

func TestApplyDefaultsLeavesExplicitEmbeddingDimensionAlone(t *testing.T) {
	cfg := &Config{EmbeddingDim: 512, Embedding: EmbeddingConfig{Dimension: 768}}
	cfg.ApplyDefaults()

	assert.Equal(t, 512, cfg.EmbeddingDim)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
}
