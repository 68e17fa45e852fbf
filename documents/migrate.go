package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChunkFileEntry is one record of a pre-chunked export file. document_id and
// chunk_index are optional; missing ids fall back to the filename and indexes
// are re-assigned densely per document.
type ChunkFileEntry struct {
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding"`
	DocumentID string    `json:"document_id"`
	ChunkIndex *int      `json:"chunk_index"`
}

// FileMigration is the parsed, validated content of one chunk file, grouped
// by document.
type FileMigration struct {
	Path      string
	Documents []MigratedDocument
}

// MigratedDocument holds the chunks that will be stored for one document id.
type MigratedDocument struct {
	DocumentID string
	Name       string
	Chunks     []DocumentChunk
}

// MigrationStats summarizes one directory run.
type MigrationStats struct {
	FilesSeen     int
	FilesMigrated int
	FilesFailed   int
	Documents     int
	Chunks        int
	Errors        []error
}

// Migrator bulk-loads pre-chunked, pre-embedded exports into the store.
type Migrator struct {
	store  Store
	logger *zap.Logger
}

func NewMigrator(store Store, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{store: store, logger: logger}
}

// LoadChunkFile parses one export file into per-document chunk groups.
// Dimension mismatches are logged and kept; structural problems fail the
// whole file.
func (m *Migrator) LoadChunkFile(path string) (*FileMigration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("documents: read chunk file: %w", err)
	}

	var entries []ChunkFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrValidation, filepath.Base(path), err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s contains no chunks", ErrValidation, filepath.Base(path))
	}

	fileID := documentIDFromFilename(path)
	grouped := make(map[string][]ChunkFileEntry)
	var order []string
	for i, entry := range entries {
		if strings.TrimSpace(entry.Content) == "" {
			return nil, fmt.Errorf("%w: %s entry %d has empty content", ErrValidation, filepath.Base(path), i)
		}
		if len(entry.Embedding) == 0 {
			return nil, fmt.Errorf("%w: %s entry %d has no embedding", ErrValidation, filepath.Base(path), i)
		}
		if len(entry.Embedding) != ExpectedEmbeddingDim {
			m.logger.Warn("embedding dimension mismatch",
				zap.String("file", filepath.Base(path)),
				zap.Int("entry", i),
				zap.Int("got", len(entry.Embedding)),
				zap.Int("want", ExpectedEmbeddingDim))
		}
		id := entry.DocumentID
		if id == "" {
			id = fileID
		}
		if _, seen := grouped[id]; !seen {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], entry)
	}

	migration := &FileMigration{Path: path}
	now := time.Now().UTC()
	for _, id := range order {
		group := grouped[id]
		// Preserve an explicit chunk_index ordering, then re-index densely.
		sort.SliceStable(group, func(a, b int) bool {
			ia, ib := group[a].ChunkIndex, group[b].ChunkIndex
			if ia == nil || ib == nil {
				return false
			}
			return *ia < *ib
		})
		chunks := make([]DocumentChunk, len(group))
		for i, entry := range group {
			chunks[i] = DocumentChunk{
				ID:         ChunkID(id, i),
				DocumentID: id,
				ChunkIndex: i,
				Content:    entry.Content,
				Embedding:  Vector(entry.Embedding),
				CreatedAt:  now,
			}
		}
		migration.Documents = append(migration.Documents, MigratedDocument{
			DocumentID: id,
			Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Chunks:     chunks,
		})
	}
	return migration, nil
}

// MigrateDirectory loads every .json chunk file under dir. Files are
// independent: a failing file is recorded and the run continues. dryRun
// parses and validates without writing.
func (m *Migrator) MigrateDirectory(ctx context.Context, dir string, dryRun bool) (*MigrationStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("documents: read migration directory: %w", err)
	}

	stats := &MigrationStats{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		stats.FilesSeen++
		path := filepath.Join(dir, entry.Name())

		migration, err := m.LoadChunkFile(path)
		if err == nil && !dryRun {
			err = m.storeMigration(ctx, migration)
		}
		if err != nil {
			stats.FilesFailed++
			stats.Errors = append(stats.Errors, fmt.Errorf("%s: %w", entry.Name(), err))
			m.logger.Error("chunk file migration failed",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}

		stats.FilesMigrated++
		for _, doc := range migration.Documents {
			stats.Documents++
			stats.Chunks += len(doc.Chunks)
		}
		m.logger.Info("chunk file migrated",
			zap.String("file", entry.Name()),
			zap.Int("documents", len(migration.Documents)),
			zap.Bool("dry_run", dryRun))
	}
	return stats, nil
}

func (m *Migrator) storeMigration(ctx context.Context, migration *FileMigration) error {
	now := time.Now().UTC()
	for _, doc := range migration.Documents {
		size := int64(0)
		for _, chunk := range doc.Chunks {
			size += int64(len(chunk.Content))
		}
		texts := make([]string, len(doc.Chunks))
		for i, chunk := range doc.Chunks {
			texts[i] = chunk.Content
		}
		record := &Document{
			ID:         doc.DocumentID,
			Name:       doc.Name,
			Category:   CategoryKnowledge,
			Status:     StatusReady,
			Size:       size,
			Summary:    summaryToJSON(fallbackSummary(CategoryKnowledge, texts)),
			UploadTime: now,
		}
		if err := m.store.UpsertDocument(ctx, record); err != nil {
			return err
		}
		if err := m.store.InsertChunks(ctx, doc.Chunks); err != nil {
			return err
		}
	}
	return nil
}

func documentIDFromFilename(path string) string {
	base := filepath.Base(path)
	return DeriveDocumentID(strings.TrimSuffix(base, filepath.Ext(base)))
}
