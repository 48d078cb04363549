package service

import (
	"context"
	"fmt"

	"github.com/rephole/rephole/domain/rerrors"
	"github.com/rephole/rephole/domain/search"
	"github.com/rephole/rephole/domain/vectorrecord"
)

// DefaultQueryLimit and MaxQueryLimit bound the k parameter accepted on
// the query endpoints.
const (
	DefaultQueryLimit = 5
	MaxQueryLimit     = 100
)

// QueryRequest is the caller-supplied shape of a search request, matching
// the POST /queries/search/{repoId} and .../chunk bodies.
type QueryRequest struct {
	RepoID string
	Prompt string
	K      int
	Meta   map[string]any
}

// Query implements the Query Service: embeds a prompt, builds a
// repoId-scoped filter, and delegates to the Retriever in either parent
// or chunk mode, a single vector-similarity path with no secondary
// ranking stage.
type Query struct {
	embedder  search.Embedder
	retriever Retriever
}

// NewQuery creates a Query service.
func NewQuery(embedder search.Embedder, retriever Retriever) Query {
	return Query{embedder: embedder, retriever: retriever}
}

// Search runs parent-mode retrieval for req, backing
// POST /queries/search/{repoId}.
func (q Query) Search(ctx context.Context, req QueryRequest) ([]Hit, error) {
	vector, filter, k, err := q.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return q.retriever.Retrieve(ctx, vector, k, filter)
}

// SearchChunks runs chunk-mode retrieval for req, backing
// POST /queries/search/{repoId}/chunk.
func (q Query) SearchChunks(ctx context.Context, req QueryRequest) ([]Hit, error) {
	vector, filter, k, err := q.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return q.retriever.RetrieveChunks(ctx, vector, k, filter)
}

func (q Query) prepare(ctx context.Context, req QueryRequest) ([]float64, vectorrecord.Filter, int, error) {
	if req.Prompt == "" {
		return nil, nil, 0, rerrors.NewValidationError("prompt", "must not be empty")
	}
	if req.RepoID == "" {
		return nil, nil, 0, rerrors.NewValidationError("repoId", "must not be empty")
	}

	k := req.K
	if k <= 0 {
		k = DefaultQueryLimit
	}
	if k > MaxQueryLimit {
		k = MaxQueryLimit
	}

	survivors, _ := vectorrecord.SanitizeMeta(req.Meta)
	filter := vectorrecord.NewFilter(map[string]any{vectorrecord.KeyRepoID: req.RepoID}, survivors)

	vectors, err := q.embedder.Embed(ctx, []string{req.Prompt})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("embed prompt: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil, 0, rerrors.NewValidationError("prompt", "produced an empty embedding")
	}

	return vectors[0], filter, k, nil
}
