package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casys-ai/pml/pkg/models"
)

// ToolRepo persists Tool, ToolEmbedding, and ToolEdge rows.
type ToolRepo struct {
	pool *pgxpool.Pool
}

// Upsert inserts or refreshes a tool row.
func (r *ToolRepo) Upsert(ctx context.Context, t models.Tool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tools (id, server, name, description, input_schema, output_schema, idempotent, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			server = EXCLUDED.server,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			input_schema = EXCLUDED.input_schema,
			output_schema = EXCLUDED.output_schema,
			idempotent = EXCLUDED.idempotent,
			refreshed_at = EXCLUDED.refreshed_at`,
		t.ID, t.Server, t.Name, t.Description, t.InputSchema, t.OutputSchema, t.Idempotent, t.RefreshedAt)
	if err != nil {
		return fmt.Errorf("upserting tool %q: %w", t.ID, err)
	}
	return nil
}

// Get fetches a tool by id. Returns pgx.ErrNoRows (wrapped) if absent.
func (r *ToolRepo) Get(ctx context.Context, id string) (models.Tool, error) {
	var t models.Tool
	err := r.pool.QueryRow(ctx, `
		SELECT id, server, name, description, input_schema, output_schema, idempotent, refreshed_at
		FROM tools WHERE id = $1`, id).
		Scan(&t.ID, &t.Server, &t.Name, &t.Description, &t.InputSchema, &t.OutputSchema, &t.Idempotent, &t.RefreshedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Tool{}, fmt.Errorf("tool %q: %w", id, err)
		}
		return models.Tool{}, fmt.Errorf("fetching tool %q: %w", id, err)
	}
	return t, nil
}

// All returns every registered tool, ordered by id for deterministic iteration.
func (r *ToolRepo) All(ctx context.Context) ([]models.Tool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, server, name, description, input_schema, output_schema, idempotent, refreshed_at
		FROM tools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()

	var out []models.Tool
	for rows.Next() {
		var t models.Tool
		if err := rows.Scan(&t.ID, &t.Server, &t.Name, &t.Description, &t.InputSchema, &t.OutputSchema, &t.Idempotent, &t.RefreshedAt); err != nil {
			return nil, fmt.Errorf("scanning tool row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteByServer removes every tool (and its embedding/edges, via cascade)
// belonging to a server — used when a server is dropped from the fleet.
func (r *ToolRepo) DeleteByServer(ctx context.Context, server string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tools WHERE server = $1`, server)
	if err != nil {
		return fmt.Errorf("deleting tools for server %q: %w", server, err)
	}
	return nil
}

// UpsertEmbedding stores the embedding derived for a tool.
func (r *ToolRepo) UpsertEmbedding(ctx context.Context, e models.ToolEmbedding) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tool_embeddings (tool_id, vector, source_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (tool_id) DO UPDATE SET vector = EXCLUDED.vector, source_hash = EXCLUDED.source_hash`,
		e.ToolID, e.Vector, e.SourceHash)
	if err != nil {
		return fmt.Errorf("upserting embedding for %q: %w", e.ToolID, err)
	}
	return nil
}

// AllEmbeddings returns every stored tool embedding, used to build the
// in-memory index the Hybrid Search Engine ranks against.
func (r *ToolRepo) AllEmbeddings(ctx context.Context) ([]models.ToolEmbedding, error) {
	rows, err := r.pool.Query(ctx, `SELECT tool_id, vector, source_hash FROM tool_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("listing tool embeddings: %w", err)
	}
	defer rows.Close()

	var out []models.ToolEmbedding
	for rows.Next() {
		var e models.ToolEmbedding
		if err := rows.Scan(&e.ToolID, &e.Vector, &e.SourceHash); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordEdge increments support for a from→to observation and sets weight
// to the new support count. The weight is a raw count: it is not
// normalized into [0,1], and the weights of other edges from the same
// source are left unchanged. Adamic-Adar scoring (pkg/graph) uses only the
// presence of an edge, not its weight.
func (r *ToolRepo) RecordEdge(ctx context.Context, fromID, toID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tool_edges (from_id, to_id, weight, support)
		VALUES ($1, $2, 1, 1)
		ON CONFLICT (from_id, to_id) DO UPDATE SET
			support = tool_edges.support + 1,
			weight = tool_edges.support + 1`,
		fromID, toID)
	if err != nil {
		return fmt.Errorf("recording edge %q→%q: %w", fromID, toID, err)
	}
	return nil
}

// AllEdges returns the full tool-dependency graph.
func (r *ToolRepo) AllEdges(ctx context.Context) ([]models.ToolEdge, error) {
	rows, err := r.pool.Query(ctx, `SELECT from_id, to_id, weight, support FROM tool_edges`)
	if err != nil {
		return nil, fmt.Errorf("listing tool edges: %w", err)
	}
	defer rows.Close()

	var out []models.ToolEdge
	for rows.Next() {
		var e models.ToolEdge
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Weight, &e.Support); err != nil {
			return nil, fmt.Errorf("scanning edge row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
