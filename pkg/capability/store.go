// Package capability implements the Capability Store: crystallization of
// successful executions into reusable workflows, Thompson-sampled
// matching, and deduplication by normalized code hash.
package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/casys-ai/pml/pkg/embedding"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/search"
	"github.com/casys-ai/pml/pkg/store"
)

// Store matches intents against crystallized capabilities and grows the
// set as new executions succeed.
type Store struct {
	db        *store.Store
	embedder  embedding.Embedder
	threshold float64 // base cosine threshold, default 0.85
}

// New builds a Store with the configured base match threshold.
func New(db *store.Store, embedder embedding.Embedder, threshold float64) *Store {
	return &Store{db: db, embedder: embedder, threshold: threshold}
}

// TryMatch returns the best capability whose intent embedding exceeds its
// Thompson-sampled adaptive threshold, or (zero value, false) if none
// qualifies.
func (s *Store) TryMatch(ctx context.Context, intentEmbedding []float32) (models.Capability, bool, error) {
	caps, err := s.db.Capabilities.All(ctx)
	if err != nil {
		return models.Capability{}, false, fmt.Errorf("loading capabilities: %w", err)
	}
	if len(caps) == 0 {
		return models.Capability{}, false, nil
	}

	stats, err := s.db.Capabilities.AllStats(ctx)
	if err != nil {
		return models.Capability{}, false, fmt.Errorf("loading capability stats: %w", err)
	}

	var best models.Capability
	var bestScore float64
	found := false

	for _, c := range caps {
		score := search.Cosine(intentEmbedding, c.IntentEmbedding)
		st := stats[c.FQDN]
		effectiveThreshold := ThompsonThreshold(st.Successes, st.Failures, s.threshold)
		if score < effectiveThreshold {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = c, score, true
		}
	}

	return best, found, nil
}

// Crystallize records the outcome of an execution trace. If the trace
// succeeded and its code hash is novel, a new capability is inserted with
// initial counters (1,0); if the hash already exists, the existing
// capability's success counter is incremented instead. For a failed trace,
// an existing capability with the same hash has its failure counter
// incremented; a failed trace with a novel hash is rejected with a
// KindInvalidDagSpec error and nothing is stored.
func (s *Store) Crystallize(ctx context.Context, intentText, code string, staticDAG models.StaticDAG, pure bool, succeeded bool, latencyMs float64) (models.Capability, error) {
	hash := CodeHash(code)

	existing, ok, err := s.db.Capabilities.FindByCodeHash(ctx, hash)
	if err != nil {
		return models.Capability{}, fmt.Errorf("looking up capability by code hash: %w", err)
	}

	if ok {
		if err := s.db.Capabilities.RecordOutcome(ctx, existing.FQDN, succeeded, latencyMs); err != nil {
			return models.Capability{}, fmt.Errorf("recording outcome for %q: %w", existing.FQDN, err)
		}
		return existing, nil
	}

	if !succeeded {
		return models.Capability{}, pmlerrors.New(pmlerrors.KindInvalidDagSpec,
			"cannot crystallize a novel capability from a failed execution trace")
	}

	intentVec, err := s.embedder.Embed(ctx, intentText)
	if err != nil {
		return models.Capability{}, pmlerrors.Wrap(pmlerrors.KindEmbeddingUnavailable, err, "embedding intent text for crystallization")
	}

	cap := models.Capability{
		FQDN:            GenerateFQDN(intentText, hash),
		CodeHash:        hash,
		Code:            code,
		StaticDAG:       staticDAG,
		IntentEmbedding: intentVec,
		Pure:            pure,
		CreatedAt:       time.Now(),
	}
	if err := s.db.Capabilities.Insert(ctx, cap); err != nil {
		return models.Capability{}, fmt.Errorf("inserting capability %q: %w", cap.FQDN, err)
	}
	if err := s.db.Capabilities.RecordOutcome(ctx, cap.FQDN, true, latencyMs); err != nil {
		return models.Capability{}, fmt.Errorf("recording initial outcome for %q: %w", cap.FQDN, err)
	}
	return cap, nil
}

// RecordFailure increments the failure counter for an existing capability.
func (s *Store) RecordFailure(ctx context.Context, fqdn string) error {
	if err := s.db.Capabilities.RecordOutcome(ctx, fqdn, false, 0); err != nil {
		return fmt.Errorf("recording failure for %q: %w", fqdn, err)
	}
	return nil
}

// Lookup fetches a capability by FQDN.
func (s *Store) Lookup(ctx context.Context, fqdn string) (models.Capability, error) {
	c, err := s.db.Capabilities.Get(ctx, fqdn)
	if err != nil {
		return models.Capability{}, fmt.Errorf("capability %q: %w", fqdn, err)
	}
	return c, nil
}
