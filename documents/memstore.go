package documents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the non-persistent Store variant used when no database is
// configured, and the store double of the test suite. It mirrors the gorm
// store's semantics behind the same interface.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]Document
	chunks map[string][]DocumentChunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]Document),
		chunks: make(map[string][]DocumentChunk),
	}
}

func (s *MemoryStore) SupportsVectorSearch() bool { return false }

func (s *MemoryStore) UpsertDocument(ctx context.Context, doc *Document) error {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: document id is required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *doc
	if existing, ok := s.docs[doc.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.Category = existing.Category
		if stored.OriginalURL == "" {
			stored.OriginalURL = existing.OriginalURL
		}
		stored.UploadTime = time.Now().UTC()
		delete(s.chunks, doc.ID)
	} else {
		now := time.Now().UTC()
		if stored.UploadTime.IsZero() {
			stored.UploadTime = now
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}
	s.docs[doc.ID] = stored
	return nil
}

func (s *MemoryStore) InsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	for index, batch := range chunkBatches(chunks) {
		s.mu.Lock()
		for _, chunk := range batch {
			if _, ok := s.docs[chunk.DocumentID]; !ok {
				s.mu.Unlock()
				return fmt.Errorf("%w: insert chunk batch %d: document %s does not exist", ErrStore, index, chunk.DocumentID)
			}
			// Same uniqueness the idx_document_chunk index enforces.
			for _, existing := range s.chunks[chunk.DocumentID] {
				if existing.ChunkIndex == chunk.ChunkIndex {
					s.mu.Unlock()
					return fmt.Errorf("%w: insert chunk batch %d: duplicate chunk %s#%d", ErrStore, index, chunk.DocumentID, chunk.ChunkIndex)
				}
			}
			s.chunks[chunk.DocumentID] = append(s.chunks[chunk.DocumentID], chunk)
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, category string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if category != "" && doc.Category != category {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadTime.Equal(docs[j].UploadTime) {
			return docs[i].UploadTime.After(docs[j].UploadTime)
		}
		return docs[i].ID < docs[j].ID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &doc, nil
}

func (s *MemoryStore) DocumentsByID(ctx context.Context, ids []string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *MemoryStore) ChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.chunks[documentID]
	chunks := make([]DocumentChunk, len(stored))
	copy(chunks, stored)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

func (s *MemoryStore) SetOriginalURL(ctx context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.OriginalURL = url
	s.docs[id] = doc
	return nil
}

func (s *MemoryStore) SearchChunks(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error) {
	return nil, fmt.Errorf("%w: memory store has no native vector search", ErrStore)
}
