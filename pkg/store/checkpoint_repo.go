package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casys-ai/pml/pkg/models"
)

// CheckpointRepo persists the single latest Checkpoint per DAG — the
// controlled executor overwrites rather than accumulates, since only the
// most recent completed layer is ever resumed from.
type CheckpointRepo struct {
	pool *pgxpool.Pool
}

// Save upserts the checkpoint for a DAG.
func (r *CheckpointRepo) Save(ctx context.Context, cp models.Checkpoint) error {
	snapshot, err := json.Marshal(cp.DAG)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint snapshot for dag %q: %w", cp.DAGID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO checkpoints (dag_id, layer_idx, snapshot, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dag_id) DO UPDATE SET
			layer_idx = EXCLUDED.layer_idx,
			snapshot = EXCLUDED.snapshot,
			saved_at = EXCLUDED.saved_at`,
		cp.DAGID, cp.LayerIdx, snapshot, cp.SavedAt)
	if err != nil {
		return fmt.Errorf("saving checkpoint for dag %q: %w", cp.DAGID, err)
	}
	return nil
}

// Load fetches the latest checkpoint for a DAG, returning an error when
// none exists. Executor.Run treats any load error as "no checkpoint" and
// starts from the first layer.
func (r *CheckpointRepo) Load(ctx context.Context, dagID string) (models.Checkpoint, error) {
	var cp models.Checkpoint
	var snapshot []byte
	err := r.pool.QueryRow(ctx, `
		SELECT dag_id, layer_idx, snapshot, saved_at FROM checkpoints WHERE dag_id = $1`, dagID).
		Scan(&cp.DAGID, &cp.LayerIdx, &snapshot, &cp.SavedAt)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("loading checkpoint for dag %q: %w", dagID, err)
	}
	if err := json.Unmarshal(snapshot, &cp.DAG); err != nil {
		return models.Checkpoint{}, fmt.Errorf("unmarshaling checkpoint snapshot for dag %q: %w", dagID, err)
	}
	return cp, nil
}
