package documents

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := openDatabase("sqlite", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	require.NoError(t, store.(*gormStore).Migrate())
	return store
}

func TestGormStoreUpsertReplacesDocumentAndChunks(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-k", Name: "准则.pdf", Category: CategoryKnowledge, Status: StatusReady,
		Size: 10, UploadTime: before,
	}))
	require.NoError(t, store.InsertChunks(ctx, []DocumentChunk{
		{ID: ChunkID("doc-k", 0), DocumentID: "doc-k", ChunkIndex: 0, Content: "旧条款", Embedding: Vector{1, 0, 0}},
		{ID: ChunkID("doc-k", 1), DocumentID: "doc-k", ChunkIndex: 1, Content: "旧附录", Embedding: Vector{0, 1, 0}},
	}))

	// Same id again: fields replaced, chunks dropped, category kept.
	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-k", Name: "准则-更新.pdf", Category: CategoryBusiness, Status: StatusReady, Size: 20,
	}))

	doc, err := store.GetDocument(ctx, "doc-k")
	require.NoError(t, err)
	assert.Equal(t, "准则-更新.pdf", doc.Name)
	assert.Equal(t, CategoryKnowledge, doc.Category)
	assert.Equal(t, int64(20), doc.Size)
	assert.True(t, doc.UploadTime.After(before))

	chunks, err := store.ChunksByDocument(ctx, "doc-k")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	require.NoError(t, store.InsertChunks(ctx, []DocumentChunk{
		{ID: ChunkID("doc-k", 0), DocumentID: "doc-k", ChunkIndex: 0, Content: "新条款", Embedding: Vector{1, 0, 0}},
	}))
	chunks, err = store.ChunksByDocument(ctx, "doc-k")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "新条款", chunks[0].Content)
}

func TestGormStoreInsertChunksBatchesAndUniqueness(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-big", Name: "大文档.pdf", Category: CategoryKnowledge, Status: StatusReady,
	}))

	chunks := make([]DocumentChunk, 0, 120)
	for i := 0; i < 120; i++ {
		chunks = append(chunks, DocumentChunk{
			ID: ChunkID("doc-big", i), DocumentID: "doc-big", ChunkIndex: i,
			Content: "段落", Embedding: Vector{0.1, 0.2},
		})
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))

	stored, err := store.ChunksByDocument(ctx, "doc-big")
	require.NoError(t, err)
	require.Len(t, stored, 120)
	for i, chunk := range stored {
		assert.Equal(t, i, chunk.ChunkIndex)
	}

	err = store.InsertChunks(ctx, []DocumentChunk{
		{ID: "doc-big-dup", DocumentID: "doc-big", ChunkIndex: 0, Content: "重复"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
}

func TestGormStoreDeleteDocumentCascades(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-d", Name: "删除.pdf", Category: CategoryBusiness, Status: StatusReady,
	}))
	require.NoError(t, store.InsertChunks(ctx, []DocumentChunk{
		{ID: ChunkID("doc-d", 0), DocumentID: "doc-d", ChunkIndex: 0, Content: "内容"},
	}))

	require.NoError(t, store.DeleteDocument(ctx, "doc-d"))

	_, err := store.GetDocument(ctx, "doc-d")
	assert.True(t, IsNotFound(err))
	chunks, err := store.ChunksByDocument(ctx, "doc-d")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	err = store.DeleteDocument(ctx, "doc-missing")
	assert.True(t, IsNotFound(err))
}

func TestGormStoreListDocuments(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-1", Name: "一.pdf", Category: CategoryKnowledge, Status: StatusReady, UploadTime: base,
	}))
	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-2", Name: "二.pdf", Category: CategoryKnowledge, Status: StatusReady, UploadTime: base.Add(time.Minute),
	}))
	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-3", Name: "三.xlsx", Category: CategoryBusiness, Status: StatusReady, UploadTime: base.Add(2 * time.Minute),
	}))

	docs, err := store.ListDocuments(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "doc-3", docs[0].ID)
	assert.Equal(t, "doc-2", docs[1].ID)

	docs, err = store.ListDocuments(ctx, CategoryKnowledge, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-2", docs[0].ID)
}

func TestGormStoreSetOriginalURL(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDocument(ctx, &Document{
		ID: "doc-o", Name: "原件.xlsx", Category: CategoryBusiness, Status: StatusReady,
	}))
	require.NoError(t, store.SetOriginalURL(ctx, "doc-o", "https://files.example.com/doc-o"))

	doc, err := store.GetDocument(ctx, "doc-o")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/doc-o", doc.OriginalURL)

	err = store.SetOriginalURL(ctx, "doc-missing", "https://files.example.com/x")
	assert.True(t, IsNotFound(err))
}

// sqlRecorder keeps the SQL handed to the gorm logger so generated queries
// can be asserted without a live server.
type sqlRecorder struct {
	logger.Interface
	statements []string
}

func (r *sqlRecorder) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, _ := fc()
	r.statements = append(r.statements, sql)
}

func TestGormStoreSearchChunksOrdersByScore(t *testing.T) {
	recorder := &sqlRecorder{Interface: logger.Discard}
	db, err := gorm.Open(postgres.Open("host=localhost user=finassist dbname=finassist sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               recorder,
	})
	require.NoError(t, err)

	store, err := NewGormStore(db)
	require.NoError(t, err)

	_, err = store.SearchChunks(context.Background(), []float32{1, 0, 0}, []string{"doc-a", "doc-b"}, 3)
	if err != nil {
		// DryRun builds the SQL but cannot execute Scan; the recorded
		// statement below is still the artifact under test.
		require.ErrorContains(t, err, gorm.ErrDryRunModeUnsupported.Error())
	}

	require.NotEmpty(t, recorder.statements)
	query := recorder.statements[len(recorder.statements)-1]

	assert.Contains(t, query, "1 - (embedding <=>")
	assert.Contains(t, query, "document_id IN")
	assert.Contains(t, query, "LIMIT 3")

	scoreAt := strings.Index(query, "ORDER BY score DESC")
	require.GreaterOrEqual(t, scoreAt, 0, "distance ordering missing from: %s", query)
	indexAt := strings.Index(query, "chunk_index")
	require.GreaterOrEqual(t, indexAt, 0, query)
	assert.Less(t, scoreAt, indexAt, "tie-break must follow the score ordering")
}
