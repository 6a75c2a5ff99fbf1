package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casys-ai/pml/pkg/models"
)

// CapabilityRepo persists Capability, CapabilityStats, and CapabilityEdge rows.
type CapabilityRepo struct {
	pool *pgxpool.Pool
}

// Insert writes a new capability row. Capabilities are immutable once
// crystallized — callers never update this row, only CapabilityStats.
func (r *CapabilityRepo) Insert(ctx context.Context, c models.Capability) error {
	staticDAG, err := json.Marshal(c.StaticDAG)
	if err != nil {
		return fmt.Errorf("marshaling static dag for %q: %w", c.FQDN, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO capabilities (fqdn, code_hash, code, static_dag, intent_embedding, pure, depends_on, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.FQDN, c.CodeHash, c.Code, staticDAG, c.IntentEmbedding, c.Pure, c.DependsOn, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting capability %q: %w", c.FQDN, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO capability_stats (fqdn, successes, failures, avg_latency_ms, last_used)
		VALUES ($1, 0, 0, 0, NULL)`, c.FQDN)
	if err != nil {
		return fmt.Errorf("seeding stats for %q: %w", c.FQDN, err)
	}
	return nil
}

// FindByCodeHash looks up a capability by its normalized code hash, used
// to dedup crystallization attempts that produce equivalent code.
func (r *CapabilityRepo) FindByCodeHash(ctx context.Context, hash string) (models.Capability, bool, error) {
	var c models.Capability
	var staticDAG []byte
	err := r.pool.QueryRow(ctx, `
		SELECT fqdn, code_hash, code, static_dag, intent_embedding, pure, depends_on, created_at
		FROM capabilities WHERE code_hash = $1`, hash).
		Scan(&c.FQDN, &c.CodeHash, &c.Code, &staticDAG, &c.IntentEmbedding, &c.Pure, &c.DependsOn, &c.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return models.Capability{}, false, nil
		}
		return models.Capability{}, false, fmt.Errorf("looking up capability by code hash: %w", err)
	}
	if err := json.Unmarshal(staticDAG, &c.StaticDAG); err != nil {
		return models.Capability{}, false, fmt.Errorf("unmarshaling static dag for %q: %w", c.FQDN, err)
	}
	return c, true, nil
}

// Get fetches a capability by FQDN.
func (r *CapabilityRepo) Get(ctx context.Context, fqdn string) (models.Capability, error) {
	var c models.Capability
	var staticDAG []byte
	err := r.pool.QueryRow(ctx, `
		SELECT fqdn, code_hash, code, static_dag, intent_embedding, pure, depends_on, created_at
		FROM capabilities WHERE fqdn = $1`, fqdn).
		Scan(&c.FQDN, &c.CodeHash, &c.Code, &staticDAG, &c.IntentEmbedding, &c.Pure, &c.DependsOn, &c.CreatedAt)
	if err != nil {
		return models.Capability{}, fmt.Errorf("fetching capability %q: %w", fqdn, err)
	}
	if err := json.Unmarshal(staticDAG, &c.StaticDAG); err != nil {
		return models.Capability{}, fmt.Errorf("unmarshaling static dag for %q: %w", fqdn, err)
	}
	return c, nil
}

// All returns every crystallized capability, used to build the in-memory
// candidate set the Capability Store matches intents against.
func (r *CapabilityRepo) All(ctx context.Context) ([]models.Capability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fqdn, code_hash, code, static_dag, intent_embedding, pure, depends_on, created_at
		FROM capabilities ORDER BY fqdn`)
	if err != nil {
		return nil, fmt.Errorf("listing capabilities: %w", err)
	}
	defer rows.Close()

	var out []models.Capability
	for rows.Next() {
		var c models.Capability
		var staticDAG []byte
		if err := rows.Scan(&c.FQDN, &c.CodeHash, &c.Code, &staticDAG, &c.IntentEmbedding, &c.Pure, &c.DependsOn, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning capability row: %w", err)
		}
		if err := json.Unmarshal(staticDAG, &c.StaticDAG); err != nil {
			return nil, fmt.Errorf("unmarshaling static dag for %q: %w", c.FQDN, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats fetches the mutable counters for a capability.
func (r *CapabilityRepo) Stats(ctx context.Context, fqdn string) (models.CapabilityStats, error) {
	var s models.CapabilityStats
	s.FQDN = fqdn
	err := r.pool.QueryRow(ctx, `
		SELECT successes, failures, avg_latency_ms, last_used FROM capability_stats WHERE fqdn = $1`, fqdn).
		Scan(&s.Successes, &s.Failures, &s.AvgLatencyMs, &s.LastUsed)
	if err != nil {
		return models.CapabilityStats{}, fmt.Errorf("fetching stats for %q: %w", fqdn, err)
	}
	return s, nil
}

// AllStats returns stats for every capability, keyed by FQDN.
func (r *CapabilityRepo) AllStats(ctx context.Context) (map[string]models.CapabilityStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT fqdn, successes, failures, avg_latency_ms, last_used FROM capability_stats`)
	if err != nil {
		return nil, fmt.Errorf("listing capability stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.CapabilityStats)
	for rows.Next() {
		var s models.CapabilityStats
		if err := rows.Scan(&s.FQDN, &s.Successes, &s.Failures, &s.AvgLatencyMs, &s.LastUsed); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		out[s.FQDN] = s
	}
	return out, rows.Err()
}

// RecordOutcome atomically applies a success/failure observation and
// updates the running average latency — a single UPDATE statement rather
// than read-modify-write, avoiding a lost-update race between concurrent
// task completions sharing the same capability.
func (r *CapabilityRepo) RecordOutcome(ctx context.Context, fqdn string, success bool, latencyMs float64) error {
	successInc, failureInc := 0, 0
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE capability_stats SET
			successes = successes + $2,
			failures = failures + $3,
			avg_latency_ms = (avg_latency_ms * (successes + failures) + $4) / GREATEST(successes + failures + 1, 1),
			last_used = now()
		WHERE fqdn = $1`,
		fqdn, successInc, failureInc, latencyMs)
	if err != nil {
		return fmt.Errorf("recording outcome for %q: %w", fqdn, err)
	}
	return nil
}

// AllEdges returns the full capability-dependency graph.
func (r *CapabilityRepo) AllEdges(ctx context.Context) ([]models.CapabilityEdge, error) {
	rows, err := r.pool.Query(ctx, `SELECT from_fqdn, to_fqdn, weight FROM capability_edges`)
	if err != nil {
		return nil, fmt.Errorf("listing capability edges: %w", err)
	}
	defer rows.Close()

	var out []models.CapabilityEdge
	for rows.Next() {
		var e models.CapabilityEdge
		if err := rows.Scan(&e.FromFQDN, &e.ToFQDN, &e.Weight); err != nil {
			return nil, fmt.Errorf("scanning capability edge row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordEdge increments the observation between two capabilities invoked
// in sequence within a successful run.
func (r *CapabilityRepo) RecordEdge(ctx context.Context, fromFQDN, toFQDN string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO capability_edges (from_fqdn, to_fqdn, weight)
		VALUES ($1, $2, 1)
		ON CONFLICT (from_fqdn, to_fqdn) DO UPDATE SET weight = capability_edges.weight + 1`,
		fromFQDN, toFQDN)
	if err != nil {
		return fmt.Errorf("recording capability edge %q→%q: %w", fromFQDN, toFQDN, err)
	}
	return nil
}
