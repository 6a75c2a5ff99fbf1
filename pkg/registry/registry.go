package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/casys-ai/pml/pkg/embedding"
	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/store"
)

// Registry discovers tools from the endpoint fleet, validates their
// schemas, derives and stores embeddings, and keeps the persisted set
// fresh as servers come and go.
type Registry struct {
	pool      *endpoint.Pool
	tools     *store.ToolRepo
	embedder  embedding.Embedder
	logger    *slog.Logger
}

// New builds a Registry bound to the given endpoint pool, tool repository,
// and embedder.
func New(pool *endpoint.Pool, tools *store.ToolRepo, embedder embedding.Embedder) *Registry {
	return &Registry{pool: pool, tools: tools, embedder: embedder, logger: slog.Default()}
}

// Refresh discovers the current tool set across every connected endpoint,
// upserts each tool, regenerates embeddings for any whose source text
// changed, and removes tools belonging to endpoints no longer present in
// endpointIDs.
func (r *Registry) Refresh(ctx context.Context, endpointIDs []string) error {
	byEndpoint, err := r.pool.ListAllTools(ctx)
	if err != nil {
		return fmt.Errorf("listing tools across endpoints: %w", err)
	}

	seen := make(map[string]bool)
	for endpointID, tools := range byEndpoint {
		for _, t := range tools {
			if err := r.registerOne(ctx, endpointID, t); err != nil {
				r.logger.Warn("skipping tool during refresh", "endpoint", endpointID, "tool", t.Name, "error", err)
				continue
			}
			seen[endpoint.JoinToolID(endpointID, t.Name)] = true
		}
	}

	existing, err := r.tools.All(ctx)
	if err != nil {
		return fmt.Errorf("listing existing tools: %w", err)
	}
	stillConfigured := make(map[string]bool, len(endpointIDs))
	for _, id := range endpointIDs {
		stillConfigured[id] = true
	}
	for _, t := range existing {
		if !stillConfigured[t.Server] {
			if err := r.tools.DeleteByServer(ctx, t.Server); err != nil {
				return fmt.Errorf("deleting tools for removed endpoint %q: %w", t.Server, err)
			}
		}
	}

	return nil
}

// LookupTool fetches a single tool's persisted record by id, for callers
// (e.g. the DAG validator, the planner) that need its schema without
// paging through the full set.
func (r *Registry) LookupTool(ctx context.Context, id string) (models.Tool, error) {
	tool, err := r.tools.Get(ctx, id)
	if err != nil {
		return models.Tool{}, fmt.Errorf("tool %q: %w", id, err)
	}
	return tool, nil
}

func (r *Registry) registerOne(ctx context.Context, endpointID string, t *mcpsdk.Tool) error {
	id := endpoint.JoinToolID(endpointID, t.Name)

	inputSchema, err := json.Marshal(t.InputSchema)
	if err != nil {
		return fmt.Errorf("marshaling input schema: %w", err)
	}
	var outputSchema []byte
	if t.OutputSchema != nil {
		outputSchema, err = json.Marshal(t.OutputSchema)
		if err != nil {
			return fmt.Errorf("marshaling output schema: %w", err)
		}
	}

	if err := ParseSchemas(inputSchema, outputSchema); err != nil {
		return fmt.Errorf("tool %q: %w", id, err)
	}

	var idempotent bool
	if t.Annotations != nil {
		idempotent = t.Annotations.IdempotentHint
	}

	tool := models.Tool{
		ID:           id,
		Server:       endpointID,
		Name:         t.Name,
		Description:  t.Description,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		Idempotent:   idempotent,
		RefreshedAt:  time.Now(),
	}
	if err := r.tools.Upsert(ctx, tool); err != nil {
		return fmt.Errorf("upserting tool %q: %w", id, err)
	}

	return r.refreshEmbedding(ctx, tool)
}

// refreshEmbedding regenerates a tool's embedding only if its source text
// (name + description + parameter summary) has changed since it was last
// embedded, avoiding redundant calls to the embedding service on every
// refresh tick.
func (r *Registry) refreshEmbedding(ctx context.Context, tool models.Tool) error {
	summary := endpoint.ParamSummary(tool.InputSchema)
	text := tool.EmbeddingText(summary)
	hash := sourceHash(text)

	existing, err := r.tools.AllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("listing embeddings: %w", err)
	}
	for _, e := range existing {
		if e.ToolID == tool.ID && e.SourceHash == hash {
			return nil // unchanged, nothing to do
		}
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding tool %q: %w", tool.ID, err)
	}

	return r.tools.UpsertEmbedding(ctx, models.ToolEmbedding{
		ToolID:     tool.ID,
		Vector:     vec,
		SourceHash: hash,
	})
}

func sourceHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
