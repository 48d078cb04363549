package service

import (
	"context"
	"fmt"

	"github.com/rephole/rephole/domain/blob"
	"github.com/rephole/rephole/domain/vectorrecord"
)

// overfetchFactor is how many multiples of k the Retriever asks the
// vector store for in parent mode, so that deduplicating children down
// to unique parents still leaves enough distinct parents to satisfy k.
const overfetchFactor = 3

// VectorSearcher runs a filtered similarity search. Satisfied by
// infrastructure/vectorstore.Store.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, vector []float64, k int, filter vectorrecord.Filter) ([]vectorrecord.SearchResult, error)
}

// ParentFetcher fetches full parent blob content by id. Satisfied by
// infrastructure/persistence.BlobStore.
type ParentFetcher interface {
	GetParents(ctx context.Context, ids []string) ([]blob.Blob, error)
}

// Hit is one retrieval result, uniform across parent and chunk mode.
type Hit struct {
	ID       string
	Content  string
	RepoID   string
	Metadata map[string]any
}

// Retriever implements parent-mode and chunk-mode retrieval: parent mode
// reconstructs whole source files from their child chunk hits, chunk
// mode returns the chunk hits directly. Similarity-search hits carry
// their chunk content; only parent mode makes a second store call, to
// hydrate the full parent blobs.
type Retriever struct {
	search  VectorSearcher
	parents ParentFetcher
}

// NewRetriever creates a Retriever.
func NewRetriever(search VectorSearcher, parents ParentFetcher) Retriever {
	return Retriever{search: search, parents: parents}
}

// Retrieve runs parent-mode retrieval: it over-fetches child chunk hits,
// walks them in score order collecting unique parentIds (short-circuiting
// once k distinct parents are found), and returns their full blob
// content in the order parents were first seen. Hits with no parentId
// but non-empty content are collected separately as orphans; if no
// parent was ever found, orphans are returned instead.
func (r Retriever) Retrieve(ctx context.Context, vector []float64, k int, filter vectorrecord.Filter) ([]Hit, error) {
	results, err := r.search.SimilaritySearch(ctx, vector, k*overfetchFactor, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieve: similarity search: %w", err)
	}

	var parentOrder []string
	seenParents := make(map[string]struct{})
	var orphans []Hit

	for _, res := range results {
		parentID := res.Record.ParentID()
		if parentID == "" {
			if res.Record.Content() != "" {
				orphans = append(orphans, Hit{
					ID:       res.Record.ID(),
					Content:  res.Record.Content(),
					RepoID:   stringMeta(res.Record.Metadata(), vectorrecord.KeyRepoID),
					Metadata: res.Record.Metadata(),
				})
			}
			continue
		}
		if _, ok := seenParents[parentID]; ok {
			continue
		}
		seenParents[parentID] = struct{}{}
		parentOrder = append(parentOrder, parentID)
		if len(parentOrder) >= k {
			break
		}
	}

	if len(parentOrder) == 0 {
		return orphans, nil
	}

	parents, err := r.parents.GetParents(ctx, parentOrder)
	if err != nil {
		return nil, fmt.Errorf("retrieve: fetch parents: %w", err)
	}

	byID := make(map[string]blob.Blob, len(parents))
	for _, p := range parents {
		byID[p.ID()] = p
	}

	hits := make([]Hit, 0, len(parentOrder))
	for _, id := range parentOrder {
		p, ok := byID[id]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			ID:       p.ID(),
			Content:  p.Content(),
			RepoID:   p.RepoID(),
			Metadata: p.Metadata(),
		})
	}
	return hits, nil
}

// RetrieveChunks runs chunk-mode retrieval: a direct similarity search
// with no parent hydration, dropping empty-content hits, preserving
// score order.
func (r Retriever) RetrieveChunks(ctx context.Context, vector []float64, k int, filter vectorrecord.Filter) ([]Hit, error) {
	results, err := r.search.SimilaritySearch(ctx, vector, k, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieve chunks: similarity search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		if res.Record.Content() == "" {
			continue
		}
		hits = append(hits, Hit{
			ID:       res.Record.ID(),
			Content:  res.Record.Content(),
			RepoID:   stringMeta(res.Record.Metadata(), vectorrecord.KeyRepoID),
			Metadata: res.Record.Metadata(),
		})
	}
	return hits, nil
}

func stringMeta(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}
