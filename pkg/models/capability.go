package models

import "time"

// Capability is a crystallized workflow: code + its static DAG + an intent
// embedding + reliability statistics. Capabilities are immutable once
// written; only their counters (CapabilityStats) are updated, and only
// through a single atomic UPDATE rather than read-modify-write.
type Capability struct {
	FQDN      string    `json:"fqdn"` // org.project.namespace.action.hash8
	CodeHash  string    `json:"code_hash"`
	Code      string    `json:"code"`
	// StaticDAG is the dependency graph extracted from Code at crystallization time.
	StaticDAG StaticDAG `json:"static_dag"`
	// IntentEmbedding is the embedding of the intent text that produced this capability.
	IntentEmbedding []float32 `json:"intent_embedding"`
	// Pure marks capabilities with zero externally-observable side effects —
	// the only ones eligible for speculation.
	Pure      bool      `json:"pure"`
	CreatedAt time.Time `json:"created_at"`
	// DependsOn holds the FQDNs of other capabilities this one's static DAG calls.
	DependsOn []string `json:"depends_on,omitempty"`
}

// StaticDAG is the dependency graph statically extracted from a
// capability's code — a lighter-weight sibling of the run-time DAG used
// for dedup/acyclicity checks, speculation eligibility, and sandbox
// replay. ToolIDs[i] is a node; Edges are indices into ToolIDs.
//
// Templates and Args carry enough of each node's call to replay it
// without interpreting Code: Templates[i] resolves argument values from
// an earlier node's output (reusing ArgumentTemplate, with TaskID
// reinterpreted as a ToolIDs index rather than a run-time task ID);
// Args[i] holds the node's literal arguments. A sandboxed worker walks
// ToolIDs/Edges in topological order and proxies each node's call back
// to the parent process rather than executing Code directly.
type StaticDAG struct {
	ToolIDs   []string                          `json:"tool_ids"`
	Edges     [][2]int                          `json:"edges"`
	Templates map[int]map[string]ArgumentTemplate `json:"templates,omitempty"`
	Args      map[int]map[string]any            `json:"args,omitempty"`
}

// CapabilityStats holds the mutable counters for a Capability, updated by
// a single atomic UPDATE of the stats row — never by mutating Capability itself.
type CapabilityStats struct {
	FQDN        string    `json:"fqdn"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
	LastUsed    time.Time `json:"last_used"`
}

// ReliabilityFactor computes (successes+1)/(successes+failures+2), the
// Beta-mean reliability factor used by hybrid search ranking. Thompson-
// sampled capability matching draws from the same Beta(successes+1,
// failures+1) distribution instead of using this mean.
func (s CapabilityStats) ReliabilityFactor() float64 {
	return float64(s.Successes+1) / float64(s.Successes+s.Failures+2)
}

// CapabilityEdge mirrors ToolEdge at the capability level: "capability B
// frequently follows capability A".
type CapabilityEdge struct {
	FromFQDN string  `json:"from_fqdn"`
	ToFQDN   string  `json:"to_fqdn"`
	Weight   float64 `json:"weight"`
}
