package documents

import "context"

// insertBatchSize bounds the payload of a single chunk write.
const insertBatchSize = 100

// ScoredChunk is one ranked retrieval hit.
type ScoredChunk struct {
	Chunk      DocumentChunk
	DocumentID string
	Score      float64
}

// Store persists documents and their chunks. Both implementations share the
// same semantics: upsert replaces mutable fields and discards existing chunks,
// deletes cascade, and chunk writes happen in bounded batches with no
// automatic rollback (recovery is idempotent re-ingestion).
type Store interface {
	// UpsertDocument inserts the document; on a duplicate id it updates the
	// mutable fields, refreshes upload_time and deletes all existing chunks.
	UpsertDocument(ctx context.Context, doc *Document) error

	// InsertChunks writes chunks in batches of insertBatchSize. A failing
	// batch aborts the remaining ones; the error names the batch index.
	InsertChunks(ctx context.Context, chunks []DocumentChunk) error

	// DeleteDocument removes the document and all owned chunks.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns documents, most recently uploaded first.
	// category and limit are optional ("" / <=0 disable them).
	ListDocuments(ctx context.Context, category string, limit int) ([]Document, error)

	GetDocument(ctx context.Context, id string) (*Document, error)

	// DocumentsByID fetches the documents for the given ids; missing ids are
	// silently skipped.
	DocumentsByID(ctx context.Context, ids []string) ([]Document, error)

	// ChunksByDocument returns the document's chunks in chunk_index order.
	ChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error)

	// SetOriginalURL records where the document's raw source file lives.
	SetOriginalURL(ctx context.Context, id, url string) error

	// SearchChunks ranks all chunks of the candidate documents against the
	// query vector and returns the global topK best hits. Only meaningful
	// when SupportsVectorSearch reports true.
	SearchChunks(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error)

	// SupportsVectorSearch reports whether the backend ranks natively.
	SupportsVectorSearch() bool
}

func chunkBatches(chunks []DocumentChunk) [][]DocumentChunk {
	if len(chunks) == 0 {
		return nil
	}
	batches := make([][]DocumentChunk, 0, (len(chunks)/insertBatchSize)+1)
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}
