package documents

import (
	"context"
	"math"
	"sort"
)

const defaultTopK = 3

// Retriever returns the topK most similar chunks across the candidate
// documents. Both implementations follow the same global top-K ranking
// policy; only the place the math runs differs.
type Retriever interface {
	Retrieve(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error)
}

// NewRetriever picks the store-ranked path when the backend has native
// vector search and the local cosine path otherwise.
func NewRetriever(store Store) Retriever {
	if store != nil && store.SupportsVectorSearch() {
		return &storeRetriever{store: store}
	}
	return &localRetriever{store: store}
}

type storeRetriever struct {
	store Store
}

func (r *storeRetriever) Retrieve(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error) {
	if len(query) == 0 || len(documentIDs) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return r.store.SearchChunks(ctx, query, documentIDs, topK)
}

type localRetriever struct {
	store Store
}

func (r *localRetriever) Retrieve(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error) {
	if len(query) == 0 || len(documentIDs) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	var candidates []ScoredChunk
	for _, documentID := range documentIDs {
		chunks, err := r.store.ChunksByDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			candidates = append(candidates, ScoredChunk{
				Chunk:      chunk,
				DocumentID: documentID,
				Score:      CosineSimilarity(query, chunk.Embedding),
			})
		}
	}

	// Global ranking across the whole candidate set; ties resolve by
	// chunk_index and then by candidate order for determinism.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Chunk.ChunkIndex < candidates[j].Chunk.ChunkIndex
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Mismatched lengths and zero
// vectors score 0 so degraded input degrades the ranking, not the request.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
