package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db     *gorm.DB
	driver string
}

// NewGormStore wraps an opened gorm connection. Native vector ranking is
// available on postgres only; other drivers fall back to local ranking
// through the retriever.
func NewGormStore(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, errors.New("documents: database connection is required")
	}
	return &gormStore{db: db, driver: db.Dialector.Name()}, nil
}

// NewGormStoreFromEnv opens the database from DATABASE_DSN/DATABASE_DRIVER
// and runs schema migration.
func NewGormStoreFromEnv() (Store, error) {
	db, err := OpenDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	store, err := NewGormStore(db)
	if err != nil {
		return nil, err
	}
	if err := store.(*gormStore).Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// Migrate creates the documents / document_chunks tables, enabling the
// pgvector extension first on postgres.
func (s *gormStore) Migrate() error {
	if s.driver == "postgres" {
		if err := s.db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
			return fmt.Errorf("%w: create vector extension: %v", ErrStore, err)
		}
	}
	if err := s.db.AutoMigrate(&Document{}, &DocumentChunk{}); err != nil {
		return fmt.Errorf("%w: migrate schema: %v", ErrStore, err)
	}
	return nil
}

func (s *gormStore) SupportsVectorSearch() bool {
	return s.driver == "postgres"
}

func (s *gormStore) UpsertDocument(ctx context.Context, doc *Document) error {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: document id is required", ErrValidation)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conflict resolution must live in the insert statement itself:
		// postgres aborts the whole transaction after a failed statement,
		// so a caught duplicate-key error cannot be followed by updates.
		// Category and created_at keep their first-ingestion values.
		onConflict := clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"name":        doc.Name,
				"doc_type":    doc.Type,
				"status":      doc.Status,
				"size":        doc.Size,
				"summary":     doc.Summary,
				"upload_time": time.Now().UTC(),
			}),
		}
		if err := tx.Clauses(onConflict).Create(doc).Error; err != nil {
			return err
		}
		// Drop the stale chunks so the fresh set can be written; a first
		// ingestion has none and the delete is a no-op.
		return tx.Where("document_id = ?", doc.ID).Delete(&DocumentChunk{}).Error
	})
	if err != nil {
		return fmt.Errorf("%w: upsert document %s: %v", ErrStore, doc.ID, err)
	}
	return nil
}

func (s *gormStore) InsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	for index, batch := range chunkBatches(chunks) {
		if err := s.db.WithContext(ctx).Create(&batch).Error; err != nil {
			return fmt.Errorf("%w: insert chunk batch %d: %v", ErrStore, index, err)
		}
	}
	return nil
}

func (s *gormStore) DeleteDocument(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.Where("id = ?", id).Take(&doc).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Document{}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: delete document %s: %v", ErrStore, id, err)
	}
	return nil
}

func (s *gormStore) ListDocuments(ctx context.Context, category string, limit int) ([]Document, error) {
	query := s.db.WithContext(ctx).Order("upload_time DESC")
	if category != "" {
		query = query.Where("doc_category = ?", category)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var docs []Document
	if err := query.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrStore, err)
	}
	return docs, nil
}

func (s *gormStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get document %s: %v", ErrStore, id, err)
	}
	return &doc, nil
}

func (s *gormStore) DocumentsByID(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []Document
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("%w: fetch documents: %v", ErrStore, err)
	}
	return docs, nil
}

func (s *gormStore) ChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	var chunks []DocumentChunk
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("%w: load chunks of %s: %v", ErrStore, documentID, err)
	}
	return chunks, nil
}

func (s *gormStore) SetOriginalURL(ctx context.Context, id, url string) error {
	result := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("id = ?", id).
		Update("original_url", url)
	if result.Error != nil {
		return fmt.Errorf("%w: set original url of %s: %v", ErrStore, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *gormStore) SearchChunks(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error) {
	if !s.SupportsVectorSearch() {
		return nil, fmt.Errorf("%w: driver %s has no native vector search", ErrStore, s.driver)
	}
	if len(query) == 0 || len(documentIDs) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	queryVector := pgvector.NewVector(query)

	type row struct {
		DocumentChunk
		Score float64
	}
	var rows []row

	// Cosine distance in pgvector is 1 - cosine similarity; the global
	// LIMIT spans the whole candidate set, not per document. Ordering runs
	// on the select alias, ties resolve in reading order.
	err := s.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.*, 1 - (embedding <=> ?) AS score", queryVector).
		Where("document_chunks.document_id IN ?", documentIDs).
		Order("score DESC").
		Order("document_chunks.chunk_index ASC").
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrStore, err)
	}

	results := make([]ScoredChunk, 0, len(rows))
	for _, item := range rows {
		results = append(results, ScoredChunk{
			Chunk:      item.DocumentChunk,
			DocumentID: item.DocumentChunk.DocumentID,
			Score:      item.Score,
		})
	}
	return results, nil
}
