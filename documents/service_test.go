package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// stubEmbedder returns deterministic vectors keyed by input order.
type stubEmbedder struct {
	dim   int
	calls int
	err   error
}

func (e *stubEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	dim := e.dim
	if dim == 0 {
		dim = ExpectedEmbeddingDim
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		vec := make([]float32, dim)
		vec[i%dim] = 1
		out[i] = vec
	}
	return out, nil
}

type stubSummarizer struct {
	summary *DocumentSummary
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string, totalChunks int) (*DocumentSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.summary, nil
}

// failingChunkStore aborts chunk writes after a number of successful batches.
type failingChunkStore struct {
	*MemoryStore
	failAfterBatch int
}

func (s *failingChunkStore) InsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	for index, batch := range chunkBatches(chunks) {
		if index >= s.failAfterBatch {
			return fmt.Errorf("%w: insert chunk batch %d: connection lost", ErrStore, index)
		}
		if err := s.MemoryStore.InsertChunks(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func newTestService(t *testing.T, store Store, embedder Embedder, summarizer Summarizer) *Service {
	t.Helper()
	if embedder == nil {
		embedder = &stubEmbedder{}
	}
	service, err := NewService(store, embedder, summarizer, zap.NewNop())
	require.NoError(t, err)
	return service
}

func TestDeriveDocumentID(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"report.json", "doc-report-json"},
		{"2024年报.pdf", "doc-2024年报-pdf"},
		{"a b/c", "doc-a-b-c"},
		{"维保合同", "doc-维保合同"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveDocumentID(tt.filename))
	}
}

func TestIngestStoresDocumentAndChunks(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, nil, &stubSummarizer{summary: &DocumentSummary{DocumentType: "财务报表", Summary: "ok"}})

	result, err := service.Ingest(context.Background(), IngestRequest{
		Name:     "q1.txt",
		Category: CategoryKnowledge,
		Content:  "第一季度营收五百万元。净利润八十万元。",
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-q1-txt", result.DocumentID)
	assert.Equal(t, result.ChunkCount, 1)

	doc, err := store.GetDocument(context.Background(), result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, CategoryKnowledge, doc.Category)
	assert.Equal(t, StatusReady, doc.Status)
	assert.NotNil(t, parseSummary(doc.Summary))

	chunks, err := store.ChunksByDocument(context.Background(), result.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkID(result.DocumentID, 0), chunks[0].ID)
}

func TestIngestIdempotentReplacement(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, nil, nil)
	ctx := context.Background()

	first, err := service.Ingest(ctx, IngestRequest{Name: "r.txt", Content: "旧版本内容。旧的第二句。"})
	require.NoError(t, err)

	second, err := service.Ingest(ctx, IngestRequest{Name: "r.txt", Content: "新版本内容。"})
	require.NoError(t, err)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	chunks, err := store.ChunksByDocument(ctx, second.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "新版本内容。", chunks[0].Content)

	docs, err := store.ListDocuments(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIngestValidation(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), nil, nil)
	ctx := context.Background()

	_, err := service.Ingest(ctx, IngestRequest{Name: "", Content: "x"})
	assert.True(t, IsValidation(err))

	_, err = service.Ingest(ctx, IngestRequest{Name: "a", Content: "  "})
	assert.True(t, IsValidation(err))

	_, err = service.Ingest(ctx, IngestRequest{Name: "a", Content: "x。", Category: "secret"})
	assert.True(t, IsValidation(err))
}

func TestIngestDefaultsToBusinessCategory(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, nil, nil)

	result, err := service.Ingest(context.Background(), IngestRequest{Name: "b.txt", Content: "内容。"})
	require.NoError(t, err)

	doc, err := store.GetDocument(context.Background(), result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, CategoryBusiness, doc.Category)
}

func TestIngestDimensionMismatchWarnsButSucceeds(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	store := NewMemoryStore()
	embedder := &stubEmbedder{dim: 768}
	service, err := NewService(store, embedder, nil, logger)
	require.NoError(t, err)

	result, err := service.Ingest(context.Background(), IngestRequest{Name: "w.txt", Content: "内容。"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)

	entries := logs.FilterMessage("embedding dimension mismatch").All()
	require.NotEmpty(t, entries)
}

func TestIngestEmbedderFailureAborts(t *testing.T) {
	store := NewMemoryStore()
	embedder := &stubEmbedder{err: fmt.Errorf("%w: provider down", ErrEmbedder)}
	service := newTestService(t, store, embedder, nil)

	_, err := service.Ingest(context.Background(), IngestRequest{Name: "e.txt", Content: "内容。"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedder)

	docs, err := store.ListDocuments(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, docs, "nothing is written when embedding fails")
}

func TestIngestSummarizerFailureFallsBack(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, nil, &stubSummarizer{err: errors.New("model offline")})

	result, err := service.Ingest(context.Background(), IngestRequest{Name: "s.txt", Category: CategoryKnowledge, Content: "第一句内容。"})
	require.NoError(t, err)

	doc, err := store.GetDocument(context.Background(), result.DocumentID)
	require.NoError(t, err)
	summary := parseSummary(doc.Summary)
	require.NotNil(t, summary)
	assert.Equal(t, "知识型文档", summary.DocumentType)
	assert.Contains(t, summary.Summary, "第一句内容")
}

func TestIngestChunkBatchAbort(t *testing.T) {
	inner := NewMemoryStore()
	store := &failingChunkStore{MemoryStore: inner, failAfterBatch: 1}
	service := newTestService(t, store, nil, nil)

	// 150 sentences produce enough chunks for two batches with a tiny
	// chunker, but the service uses the default size, so force two batches
	// through content volume instead: a long document of many chunks.
	var sb strings.Builder
	for i := 0; i < 120; i++ {
		sb.WriteString(strings.Repeat("数", 990))
		sb.WriteString("。")
	}

	_, err := service.Ingest(context.Background(), IngestRequest{Name: "big.txt", Content: sb.String()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.Contains(t, err.Error(), "batch 1")

	// The document row and the first batch survive; recovery is re-ingesting.
	_, getErr := inner.GetDocument(context.Background(), "doc-big-txt")
	assert.NoError(t, getErr)
	chunks, _ := inner.ChunksByDocument(context.Background(), "doc-big-txt")
	assert.Len(t, chunks, insertBatchSize)
}

func TestIngestAllIsolatesFailures(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, nil, nil)

	outcomes := service.IngestAll(context.Background(), []IngestRequest{
		{Name: "good-1.txt", Content: "内容一。"},
		{Name: "", Content: "内容二。"},
		{Name: "good-2.txt", Content: "内容三。"},
	})

	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)

	docs, err := store.ListDocuments(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRetrieveContextValidation(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), nil, nil)

	_, err := service.RetrieveContext(context.Background(), "   ", nil, nil, 3)
	assert.True(t, IsValidation(err))
}

func TestRetrieveContextPropagatesEmbedderError(t *testing.T) {
	embedder := &stubEmbedder{err: fmt.Errorf("%w: provider down", ErrEmbedder)}
	service := newTestService(t, NewMemoryStore(), embedder, nil)

	_, err := service.RetrieveContext(context.Background(), "毛利率多少？", []string{"doc-x"}, nil, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedder)
}

func TestRetrieveContextSkipsEmbeddingWithoutCandidates(t *testing.T) {
	embedder := &stubEmbedder{}
	service := newTestService(t, NewMemoryStore(), embedder, nil)

	retrieved, err := service.RetrieveContext(context.Background(), "现金流如何？", nil, nil, 3)
	require.NoError(t, err)
	assert.NotNil(t, retrieved)
	assert.Zero(t, embedder.calls, "no embedding call without candidate documents")
}

func TestGetReportsChunkCount(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, nil, nil)
	ctx := context.Background()

	result, err := service.Ingest(ctx, IngestRequest{Name: "g.txt", Content: "第一句。第二句。"})
	require.NoError(t, err)

	record, err := service.Get(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, result.ChunkCount, record.ChunkCount)

	_, err = service.Get(ctx, "doc-missing")
	assert.True(t, IsNotFound(err))
}
