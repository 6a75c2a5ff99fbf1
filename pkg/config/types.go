package config

import "time"

// TransportType identifies how the mediator reaches a tool-providing endpoint.
type TransportType string

// Supported endpoint transports.
const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeHTTP  TransportType = "http"
	TransportTypeSSE   TransportType = "sse"
)

// TransportConfig configures the connection to a single endpoint.
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport: a local subprocess speaking MCP over stdin/stdout.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// For http/sse transport.
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // seconds
}

// EndpointConfig describes one tool-providing endpoint in the fleet.
type EndpointConfig struct {
	Transport TransportConfig `yaml:"transport" validate:"required"`

	// Description is surfaced to the Hybrid Search Engine's rationale text.
	Description string `yaml:"description,omitempty"`

	// PerEndpointInflightCap overrides config.PerEndpointInflightCap for this endpoint.
	PerEndpointInflightCap int `yaml:"per_endpoint_inflight_cap,omitempty" validate:"omitempty,min=1"`
}

// EmbeddingConfig configures the external Embedding Service client.
type EmbeddingConfig struct {
	Address   string `yaml:"address" validate:"required"`
	Dimension int    `yaml:"dimension" validate:"required,min=1"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SandboxConfig tunes the zero-ambient-permission sandbox worker.
type SandboxConfig struct {
	WorkerBinary     string        `yaml:"worker_binary" validate:"required"`
	MaxWallTime      time.Duration `yaml:"max_wall_time"`
	MaxRPCFanIn      int           `yaml:"max_rpc_fan_in" validate:"omitempty,min=1"`
	MaxOutputBytes   int           `yaml:"max_output_bytes" validate:"omitempty,min=1"`
	PIIRedaction     bool          `yaml:"pii_redaction"`
}

// SpeculationConfig tunes the Speculative Executor.
type SpeculationConfig struct {
	Cap     int           `yaml:"cap" validate:"omitempty,min=0"`
	TTL     time.Duration `yaml:"ttl"`
	LRUSize int           `yaml:"lru_size" validate:"omitempty,min=1"`
}

// Config is the fully resolved, validated configuration record for the
// mediator process. It is the only configuration surface the rest of the
// mediator depends on — loading, merging, and env-var expansion are an
// external concern sketched by Load in loader.go.
type Config struct {
	DBPath                  string            `yaml:"db_path" validate:"required"`
	EmbeddingDim            int               `yaml:"embedding_dim" validate:"required,min=1"`
	MaxParallelTasksPerDAG  int               `yaml:"max_parallel_tasks_per_dag" validate:"required,min=1"`
	DefaultTaskTimeout      time.Duration     `yaml:"default_task_timeout"`
	HybridAlphaDefault      float64           `yaml:"hybrid_alpha_default" validate:"min=0,max=1"`
	CapabilityMatchThreshold float64          `yaml:"capability_match_threshold" validate:"min=0,max=1"`
	RetryMax                int               `yaml:"retry_max" validate:"omitempty,min=0"`
	PerEndpointInflightCap  int               `yaml:"per_endpoint_inflight_cap" validate:"required,min=1"`
	AILGateTimeout          time.Duration     `yaml:"ail_gate_timeout"`

	Embedding  EmbeddingConfig            `yaml:"embedding" validate:"required"`
	Sandbox    SandboxConfig              `yaml:"sandbox" validate:"required"`
	Speculation SpeculationConfig         `yaml:"speculation"`
	Endpoints  map[string]*EndpointConfig `yaml:"endpoints" validate:"required"`

	// HTTPPort is where the Gateway Facade listens. An ambient concern
	// kept alongside the fleet-tuning options for convenience.
	HTTPPort string `yaml:"http_port"`
}

// Stats is a small snapshot surfaced on the gateway's health endpoint.
type Stats struct {
	Endpoints int
}

// Stats summarizes the loaded configuration for health/readiness reporting.
func (c *Config) Stats() Stats {
	return Stats{Endpoints: len(c.Endpoints)}
}
