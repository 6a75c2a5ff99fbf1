package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DBPath:                   "/tmp/pml.db",
		EmbeddingDim:             1024,
		MaxParallelTasksPerDAG:   4,
		HybridAlphaDefault:       0.6,
		CapabilityMatchThreshold: 0.8,
		PerEndpointInflightCap:   2,
		Embedding:                EmbeddingConfig{Address: "embed:50051", Dimension: 1024},
		Sandbox:                  SandboxConfig{WorkerBinary: "./pmlworker"},
		Endpoints: map[string]*EndpointConfig{
			"weather-server": {Transport: TransportConfig{Type: TransportTypeStdio, Command: "weather-mcp"}},
		},
	}
}

func TestValidateAllAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateEmbeddingRejectsMissingAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Address = ""
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateEmbeddingRejectsDimensionMismatch(t *testing.T) {
	cfg := validConfig()
	cfg.EmbeddingDim = 512
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateSandboxRequiresWorkerBinary(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.WorkerBinary = ""
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateSpeculationRejectsNegativeCap(t *testing.T) {
	cfg := validConfig()
	cfg.Speculation.Cap = -1
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateEndpointsRejectsMissingStdioCommand(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoints["weather-server"].Transport.Command = ""
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateEndpointsRejectsMissingHTTPURL(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoints["weather-server"] = &EndpointConfig{Transport: TransportConfig{Type: TransportTypeHTTP}}
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateEndpointsRejectsUnknownTransport(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoints["weather-server"] = &EndpointConfig{Transport: TransportConfig{Type: "carrier-pigeon"}}
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateDefaultsRejectsAlphaOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.HybridAlphaDefault = 1.5
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
