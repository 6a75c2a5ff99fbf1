// Package embedding provides the mediator's Embedder abstraction over the
// external Embedding Service: dense vectors for tool/intent text.
package embedding

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Embedder produces dense embedding vectors for arbitrary text. Swappable
// so the concrete embedding model is an operational choice (Open Question
// resolution, see DESIGN.md) rather than a compile-time one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// embedMethod is the fully qualified gRPC method the embedding service
// exposes. There is no generated client stub here: requests and responses
// are carried as google.protobuf.Struct, which lets the call go over the
// real protobuf wire format without a protoc codegen step.
const embedMethod = "/pml.embedding.v1.EmbeddingService/Embed"

// GRPCEmbedder implements Embedder by calling the external embedding
// service over gRPC.
//
// Uses insecure (plaintext) transport — the embedding service is expected
// to run as a sidecar or on a trusted internal network. If it is ever
// deployed across a network boundary, this must be upgraded to TLS.
type GRPCEmbedder struct {
	conn *grpc.ClientConn
	dim  int
}

// NewGRPCEmbedder dials addr and wraps it as an Embedder producing
// dimension-sized vectors.
func NewGRPCEmbedder(addr string, dimension int) (*GRPCEmbedder, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("creating embedding client for %s: %w", addr, err)
	}
	return &GRPCEmbedder{conn: conn, dim: dimension}, nil
}

// Dimension returns the configured embedding dimension.
func (e *GRPCEmbedder) Dimension() int { return e.dim }

// Embed calls the embedding service and returns the resulting vector.
func (e *GRPCEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, embedMethod, req, resp); err != nil {
		return nil, fmt.Errorf("embed rpc failed: %w", err)
	}

	vecField, ok := resp.Fields["vector"]
	if !ok {
		return nil, fmt.Errorf("embed response missing 'vector' field")
	}
	values := vecField.GetListValue().GetValues()
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("embed response dimension mismatch: got %d, want %d", len(vec), e.dim)
	}
	return vec, nil
}

// Close releases the gRPC connection.
func (e *GRPCEmbedder) Close() error {
	return e.conn.Close()
}
