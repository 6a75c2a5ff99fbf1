package config

import "time"

// ApplyDefaults fills zero-valued optional fields with the recognized
// defaults. Called once after YAML unmarshalling, before validation.
func (c *Config) ApplyDefaults() {
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = 1024
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = c.EmbeddingDim
	}
	if c.MaxParallelTasksPerDAG == 0 {
		c.MaxParallelTasksPerDAG = 16
	}
	if c.DefaultTaskTimeout == 0 {
		c.DefaultTaskTimeout = 30 * time.Second
	}
	if c.HybridAlphaDefault == 0 {
		c.HybridAlphaDefault = 0.6
	}
	if c.CapabilityMatchThreshold == 0 {
		c.CapabilityMatchThreshold = 0.85
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.PerEndpointInflightCap == 0 {
		c.PerEndpointInflightCap = 8
	}
	if c.AILGateTimeout == 0 {
		c.AILGateTimeout = 300 * time.Second
	}
	if c.Speculation.Cap == 0 {
		c.Speculation.Cap = 4
	}
	if c.Speculation.TTL == 0 {
		c.Speculation.TTL = 5 * time.Minute
	}
	if c.Speculation.LRUSize == 0 {
		c.Speculation.LRUSize = 100
	}
	if c.HTTPPort == "" {
		c.HTTPPort = "8080"
	}
}
