package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casys-ai/pml/pkg/models"
)

// DAGRepo persists DAG rows — the control-state and task-list snapshot for
// a plan, independent of the checkpoint history kept alongside it.
type DAGRepo struct {
	pool *pgxpool.Pool
}

// Insert creates a new DAG row.
func (r *DAGRepo) Insert(ctx context.Context, d models.DAG) error {
	tasks, err := json.Marshal(d.Tasks)
	if err != nil {
		return fmt.Errorf("marshaling tasks for dag %q: %w", d.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO dags (id, state, ail_per_layer, tasks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.State, d.AILPerLayer, tasks, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting dag %q: %w", d.ID, err)
	}
	return nil
}

// Update overwrites a DAG's state and task list — called when a gate
// opens, after every completed layer, on a terminal transition, and on
// replan.
func (r *DAGRepo) Update(ctx context.Context, d models.DAG) error {
	tasks, err := json.Marshal(d.Tasks)
	if err != nil {
		return fmt.Errorf("marshaling tasks for dag %q: %w", d.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE dags SET state = $2, ail_per_layer = $3, tasks = $4, updated_at = $5
		WHERE id = $1`,
		d.ID, d.State, d.AILPerLayer, tasks, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating dag %q: %w", d.ID, err)
	}
	return nil
}

// Get fetches a DAG by id.
func (r *DAGRepo) Get(ctx context.Context, id string) (models.DAG, error) {
	var d models.DAG
	var tasks []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, state, ail_per_layer, tasks, created_at, updated_at FROM dags WHERE id = $1`, id).
		Scan(&d.ID, &d.State, &d.AILPerLayer, &tasks, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.DAG{}, fmt.Errorf("fetching dag %q: %w", id, err)
	}
	if err := json.Unmarshal(tasks, &d.Tasks); err != nil {
		return models.DAG{}, fmt.Errorf("unmarshaling tasks for dag %q: %w", id, err)
	}
	return d, nil
}
