// Package search implements the Hybrid Search Engine: a semantic+graph
// ranked blend over tools and capabilities.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/casys-ai/pml/pkg/embedding"
	"github.com/casys-ai/pml/pkg/graph"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/store"
)

// topN is the candidate pool size pulled by cosine similarity before
// graph/reliability reranking.
const topN = 50

// Candidate is a ranked search result: either a Tool or a Capability.
type Candidate struct {
	ToolID         string  `json:"tool_id,omitempty"`
	CapabilityFQDN string  `json:"capability_fqdn,omitempty"`
	Score          float64 `json:"score"`
	Semantic       float64 `json:"semantic"`
	Graph          float64 `json:"graph"`
	Reliability    float64 `json:"reliability"`
	RecencyUnix    int64   `json:"recency_unix"`
}

// Engine ranks tools and capabilities against a free-text intent.
type Engine struct {
	store    *store.Store
	embedder embedding.Embedder
}

// New builds an Engine over store and embedder.
func New(st *store.Store, embedder embedding.Embedder) *Engine {
	return &Engine{store: st, embedder: embedder}
}

type semScore struct {
	id       string
	semantic float64
}

// SearchTools ranks tools against intentText, returning at most k results
// scoring at least minScore.
func (e *Engine) SearchTools(ctx context.Context, intentText string, k int, minScore float64) ([]Candidate, error) {
	if intentText == "" {
		return nil, pmlerrors.New(pmlerrors.KindInvalidIntent, "intent text must not be empty")
	}

	intentVec, err := e.embedder.Embed(ctx, intentText)
	if err != nil {
		return nil, pmlerrors.Wrap(pmlerrors.KindEmbeddingUnavailable, err, "embedding intent text")
	}

	embeddings, err := e.store.Tools.AllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tool embeddings: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	all := make([]semScore, 0, len(embeddings))
	for _, emb := range embeddings {
		all = append(all, semScore{id: emb.ToolID, semantic: Cosine(intentVec, emb.Vector)})
	}
	all = topNBySemantic(all)
	alpha := alphaFromScores(all)

	edges, err := e.store.Tools.AllEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tool edges: %w", err)
	}
	g := buildToolGraph(edges)

	tools, err := e.store.Tools.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tools: %w", err)
	}
	refreshedAt := make(map[string]int64, len(tools))
	for _, t := range tools {
		refreshedAt[t.ID] = t.RefreshedAt.Unix()
	}

	candidates := make([]Candidate, 0, len(all))
	for _, s := range all {
		graphScore := meanRelatedness(g, s.id, all)
		final := alpha*s.semantic + (1-alpha)*graphScore // reliability_factor = 1.0 for raw tools
		candidates = append(candidates, Candidate{
			ToolID:      s.id,
			Score:       final,
			Semantic:    s.semantic,
			Graph:       graphScore,
			Reliability: 1.0,
			RecencyUnix: refreshedAt[s.id],
		})
	}

	return topK(candidates, k, minScore), nil
}

// SearchCapabilities ranks capabilities against intentText using the same
// scoring formula, with reliability_factor = (successes+1)/(successes+failures+2).
func (e *Engine) SearchCapabilities(ctx context.Context, intentText string, k int, minScore float64) ([]Candidate, error) {
	if intentText == "" {
		return nil, pmlerrors.New(pmlerrors.KindInvalidIntent, "intent text must not be empty")
	}

	intentVec, err := e.embedder.Embed(ctx, intentText)
	if err != nil {
		return nil, pmlerrors.Wrap(pmlerrors.KindEmbeddingUnavailable, err, "embedding intent text")
	}

	caps, err := e.store.Capabilities.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading capabilities: %w", err)
	}
	if len(caps) == 0 {
		return nil, nil
	}

	stats, err := e.store.Capabilities.AllStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading capability stats: %w", err)
	}

	byFQDN := make(map[string]models.Capability, len(caps))
	all := make([]semScore, 0, len(caps))
	for _, c := range caps {
		byFQDN[c.FQDN] = c
		all = append(all, semScore{id: c.FQDN, semantic: Cosine(intentVec, c.IntentEmbedding)})
	}
	all = topNBySemantic(all)
	alpha := alphaFromScores(all)

	capEdges, err := e.store.Capabilities.AllEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading capability edges: %w", err)
	}
	pairs := make([][2]string, 0, len(capEdges))
	for _, ce := range capEdges {
		pairs = append(pairs, [2]string{ce.FromFQDN, ce.ToFQDN})
	}
	g := graph.New(pairs)

	candidates := make([]Candidate, 0, len(all))
	for _, s := range all {
		st := stats[s.id]
		reliability := st.ReliabilityFactor()
		graphScore := meanRelatedness(g, s.id, all)
		final := (alpha*s.semantic + (1-alpha)*graphScore) * reliability

		var recency int64
		if !st.LastUsed.IsZero() {
			recency = st.LastUsed.Unix()
		} else {
			recency = byFQDN[s.id].CreatedAt.Unix()
		}
		candidates = append(candidates, Candidate{
			CapabilityFQDN: s.id,
			Score:          final,
			Semantic:       s.semantic,
			Graph:          graphScore,
			Reliability:    reliability,
			RecencyUnix:    recency,
		})
	}

	return topK(candidates, k, minScore), nil
}

func topNBySemantic(all []semScore) []semScore {
	sort.Slice(all, func(i, j int) bool { return all[i].semantic > all[j].semantic })
	if len(all) > topN {
		all = all[:topN]
	}
	return all
}

// alphaFromScores computes the adaptive alpha: the
// normalized ratio of the top-1 semantic score to the top-N mean. A
// single dominant candidate pushes alpha toward 1 (trust semantics); a
// flat distribution pushes it toward hybridAlphaFloor (lean on graph
// relatedness to break near-ties).
const hybridAlphaFloor = 0.4
const hybridAlphaCeil = 0.9

func alphaFromScores(all []semScore) float64 {
	if len(all) == 0 {
		return 0.6
	}
	var sum float64
	for _, s := range all {
		sum += s.semantic
	}
	mean := sum / float64(len(all))
	if mean <= 0 {
		return hybridAlphaFloor
	}
	ratio := all[0].semantic / mean / float64(len(all))
	alpha := hybridAlphaFloor + ratio*(hybridAlphaCeil-hybridAlphaFloor)
	if alpha > hybridAlphaCeil {
		alpha = hybridAlphaCeil
	}
	if alpha < hybridAlphaFloor {
		alpha = hybridAlphaFloor
	}
	return alpha
}

func buildToolGraph(edges []models.ToolEdge) *graph.Graph {
	pairs := make([][2]string, 0, len(edges))
	for _, e := range edges {
		pairs = append(pairs, [2]string{e.FromID, e.ToID})
	}
	return graph.New(pairs)
}

// meanRelatedness scores id's average Adamic-Adar relatedness to every
// other candidate in the pool — the "graph-relatedness factor",
// aggregated across the candidate set rather than a single pairwise
// comparison.
func meanRelatedness(g *graph.Graph, id string, pool []semScore) float64 {
	if len(pool) <= 1 {
		return 0
	}
	var sum float64
	var n int
	for _, other := range pool {
		if other.id == id {
			continue
		}
		sum += g.AdamicAdar(id, other.id)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func topK(candidates []Candidate, k int, minScore float64) []Candidate {
	if k == 0 {
		return nil
	}
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Score >= minScore {
			filtered = append(filtered, c)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].RecencyUnix > filtered[j].RecencyUnix // tie-break by recency
	})
	if k > 0 && len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}
