package models

import "time"

// Checkpoint is a durable snapshot of a DAG's run-time state, written after
// every completed layer so a crashed or paused run can resume without
// re-executing completed tasks.
type Checkpoint struct {
	DAGID     string       `json:"dag_id"`
	LayerIdx  int          `json:"layer_idx"` // index of the last fully completed layer
	DAG       DAG          `json:"dag"`       // full task state at snapshot time
	SavedAt   time.Time    `json:"saved_at"`
}
