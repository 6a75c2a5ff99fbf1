package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casys-ai/pml/pkg/models"
)

// TraceRepo persists TraceEvent rows, one per DAG per sequence number.
type TraceRepo struct {
	pool *pgxpool.Pool
}

// Append inserts the next trace event for a DAG, assigning seq as
// max(seq)+1 within the same statement to avoid a read-then-write race
// between concurrently completing tasks in the same layer.
func (r *TraceRepo) Append(ctx context.Context, ev models.TraceEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trace_events (dag_id, seq, kind, task_id, detail, occurred_at)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM trace_events WHERE dag_id = $1), 0) + 1, $2, $3, $4, $5)`,
		ev.DAGID, ev.Kind, ev.TaskID, ev.Detail, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("appending trace event for dag %q: %w", ev.DAGID, err)
	}
	return nil
}

// ForDAG returns the full ordered trace for a DAG run.
func (r *TraceRepo) ForDAG(ctx context.Context, dagID string) (models.ExecutionTrace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dag_id, seq, kind, task_id, detail, occurred_at
		FROM trace_events WHERE dag_id = $1 ORDER BY seq`, dagID)
	if err != nil {
		return models.ExecutionTrace{}, fmt.Errorf("fetching trace for dag %q: %w", dagID, err)
	}
	defer rows.Close()

	trace := models.ExecutionTrace{DAGID: dagID}
	for rows.Next() {
		var ev models.TraceEvent
		if err := rows.Scan(&ev.DAGID, &ev.Seq, &ev.Kind, &ev.TaskID, &ev.Detail, &ev.Timestamp); err != nil {
			return models.ExecutionTrace{}, fmt.Errorf("scanning trace row: %w", err)
		}
		trace.Events = append(trace.Events, ev)
	}
	return trace, rows.Err()
}
