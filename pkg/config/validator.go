package config

import "fmt"

// Validator validates a Config comprehensively, failing fast with a clear,
// component-scoped error message. Infrastructure concerns are checked
// before domain registries.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates in dependency order: embedding -> sandbox ->
// speculation -> endpoints -> defaults. Stops at the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateEmbedding(); err != nil {
		return fmt.Errorf("embedding validation failed: %w", err)
	}
	if err := v.validateSandbox(); err != nil {
		return fmt.Errorf("sandbox validation failed: %w", err)
	}
	if err := v.validateSpeculation(); err != nil {
		return fmt.Errorf("speculation validation failed: %w", err)
	}
	if err := v.validateEndpoints(); err != nil {
		return fmt.Errorf("endpoint validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateEmbedding() error {
	e := v.cfg.Embedding
	if e.Address == "" {
		return NewValidationError("embedding", "address", "", ErrMissingRequiredField)
	}
	if e.Dimension < 1 {
		return NewValidationError("embedding", "dimension", "", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if v.cfg.EmbeddingDim != 0 && v.cfg.EmbeddingDim != e.Dimension {
		return NewValidationError("embedding", "dimension", "",
			fmt.Errorf("%w: top-level embedding_dim (%d) disagrees with embedding.dimension (%d)",
				ErrInvalidValue, v.cfg.EmbeddingDim, e.Dimension))
	}
	return nil
}

func (v *Validator) validateSandbox() error {
	s := v.cfg.Sandbox
	if s.WorkerBinary == "" {
		return NewValidationError("sandbox", "worker_binary", "", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateSpeculation() error {
	s := v.cfg.Speculation
	if s.Cap < 0 {
		return NewValidationError("speculation", "cap", "", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateEndpoints() error {
	for id, ep := range v.cfg.Endpoints {
		if ep == nil {
			return NewValidationError("endpoint", id, "", ErrMissingRequiredField)
		}
		switch ep.Transport.Type {
		case TransportTypeStdio:
			if ep.Transport.Command == "" {
				return NewValidationError("endpoint", id, "transport.command", ErrMissingRequiredField)
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if ep.Transport.URL == "" {
				return NewValidationError("endpoint", id, "transport.url", ErrMissingRequiredField)
			}
		default:
			return NewValidationError("endpoint", id, "transport.type",
				fmt.Errorf("%w: %q", ErrInvalidValue, ep.Transport.Type))
		}
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	if v.cfg.MaxParallelTasksPerDAG < 1 {
		return NewValidationError("defaults", "max_parallel_tasks_per_dag", "", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if v.cfg.HybridAlphaDefault < 0 || v.cfg.HybridAlphaDefault > 1 {
		return NewValidationError("defaults", "hybrid_alpha_default", "", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	if v.cfg.CapabilityMatchThreshold < 0 || v.cfg.CapabilityMatchThreshold > 1 {
		return NewValidationError("defaults", "capability_match_threshold", "", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	if v.cfg.PerEndpointInflightCap < 1 {
		return NewValidationError("defaults", "per_endpoint_inflight_cap", "", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	return nil
}
