package documents

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// IngestRequest carries one document into the pipeline. ID is optional and is
// derived from Name when empty; Category defaults to business.
type IngestRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" binding:"required"`
	Category string `json:"doc_category"`
	Type     string `json:"doc_type"`
	Content  string `json:"content" binding:"required"`
}

// IngestResult reports what was stored for one document.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	ChunkCount int    `json:"chunk_count"`
}

// IngestOutcome is one entry of a bulk ingestion report. Err is nil on
// success; failures never abort sibling documents.
type IngestOutcome struct {
	Name   string
	Result *IngestResult
	Err    error
}

// RetrievedContext is the assembled grounding for one question.
type RetrievedContext struct {
	ContextBlock string
	Sources      []string
	Chunks       []ScoredChunk
}

// Service orchestrates the ingestion and retrieval pipeline.
type Service struct {
	store      Store
	embedder   Embedder
	summarizer Summarizer
	chunker    *chunker
	retriever  Retriever
	assembler  *ContextAssembler
	logger     *zap.Logger
}

// NewService wires the pipeline. summarizer may be nil; ingestion then falls
// back to a chunk-derived synopsis.
func NewService(store Store, embedder Embedder, summarizer Summarizer, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("documents: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("documents: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		embedder:   embedder,
		summarizer: summarizer,
		chunker:    newChunker(chunkSizeFromEnv()),
		retriever:  NewRetriever(store),
		assembler:  NewContextAssembler(store),
		logger:     logger,
	}, nil
}

func chunkSizeFromEnv() int {
	if raw := strings.TrimSpace(os.Getenv("CHUNK_MAX_CHARS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultMaxChunkChars
}

// DeriveDocumentID maps a filename to a stable document id: every rune
// outside [a-zA-Z0-9] and the CJK unified block becomes a dash.
func DeriveDocumentID(filename string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= '一' && r <= '鿿':
			return r
		default:
			return '-'
		}
	}, filename)
	return "doc-" + mapped
}

// Ingest chunks, embeds and stores one document. Re-ingesting an existing id
// replaces its content and chunks; partial chunk-write failures are recovered
// by re-ingesting the same document.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: document name is required", ErrValidation)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: document content is empty", ErrValidation)
	}

	category := req.Category
	if category == "" {
		category = CategoryBusiness
	}
	if category != CategoryKnowledge && category != CategoryBusiness {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}

	documentID := req.ID
	if documentID == "" {
		documentID = DeriveDocumentID(req.Name)
	}

	texts := s.chunker.split(req.Content)
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: document produced no chunks", ErrValidation)
	}

	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", ErrEmbedder, len(embeddings), len(texts))
	}
	for i, embedding := range embeddings {
		if len(embedding) != ExpectedEmbeddingDim {
			s.logger.Warn("embedding dimension mismatch",
				zap.String("document_id", documentID),
				zap.Int("chunk_index", i),
				zap.Int("got", len(embedding)),
				zap.Int("want", ExpectedEmbeddingDim))
		}
	}

	summary := s.summarize(ctx, documentID, category, req.Content, texts)

	now := time.Now().UTC()
	doc := &Document{
		ID:         documentID,
		Name:       req.Name,
		Category:   category,
		Type:       req.Type,
		Status:     StatusReady,
		Size:       int64(len(req.Content)),
		Summary:    summaryToJSON(summary),
		UploadTime: now,
	}
	if err := s.store.UpsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	chunks := make([]DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = DocumentChunk{
			ID:         ChunkID(documentID, i),
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    text,
			Embedding:  Vector(embeddings[i]),
			CreatedAt:  now,
		}
	}
	if err := s.store.InsertChunks(ctx, chunks); err != nil {
		return nil, err
	}

	s.logger.Info("document ingested",
		zap.String("document_id", documentID),
		zap.String("doc_category", category),
		zap.Int("chunk_count", len(chunks)))

	return &IngestResult{DocumentID: documentID, Name: req.Name, ChunkCount: len(chunks)}, nil
}

// IngestAll processes documents independently; one failure never blocks the
// rest. Outcomes keep the input order.
func (s *Service) IngestAll(ctx context.Context, reqs []IngestRequest) []IngestOutcome {
	outcomes := make([]IngestOutcome, 0, len(reqs))
	for _, req := range reqs {
		result, err := s.Ingest(ctx, req)
		if err != nil {
			s.logger.Error("document ingestion failed",
				zap.String("name", req.Name),
				zap.Error(err))
		}
		outcomes = append(outcomes, IngestOutcome{Name: req.Name, Result: result, Err: err})
	}
	return outcomes
}

func (s *Service) summarize(ctx context.Context, documentID, category, content string, chunks []string) *DocumentSummary {
	if s.summarizer == nil {
		return fallbackSummary(category, chunks)
	}
	summary, err := s.summarizer.Summarize(ctx, content, len(chunks))
	if err != nil {
		s.logger.Warn("summary generation failed, using fallback",
			zap.String("document_id", documentID),
			zap.Error(err))
		return fallbackSummary(category, chunks)
	}
	return summary
}

// Delete removes a document and its chunks.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: document id is required", ErrValidation)
	}
	return s.store.DeleteDocument(ctx, id)
}

// List returns stored documents, newest upload first, optionally filtered by
// category.
func (s *Service) List(ctx context.Context, category string) ([]DocumentRecord, error) {
	if category != "" && category != CategoryKnowledge && category != CategoryBusiness {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	docs, err := s.store.ListDocuments(ctx, category, 0)
	if err != nil {
		return nil, err
	}
	records := make([]DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, buildDocumentRecord(doc, 0))
	}
	return records, nil
}

// Get returns one document together with its chunk count.
func (s *Service) Get(ctx context.Context, id string) (*DocumentRecord, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := s.store.ChunksByDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	record := buildDocumentRecord(*doc, len(chunks))
	return &record, nil
}

// AttachOriginal records the storage URL of a document's raw source file.
func (s *Service) AttachOriginal(ctx context.Context, id, url string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: document id is required", ErrValidation)
	}
	return s.store.SetOriginalURL(ctx, id, url)
}

// OriginalURL returns the stored location of a document's raw source file,
// empty when none was uploaded.
func (s *Service) OriginalURL(ctx context.Context, id string) (string, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.OriginalURL, nil
}

// ChunksOf returns a document's chunks in order.
func (s *Service) ChunksOf(ctx context.Context, id string) ([]DocumentChunk, error) {
	return s.store.ChunksByDocument(ctx, id)
}

// RetrieveContext embeds the question, ranks the candidate documents' chunks
// and assembles the grounding block. With no candidates and no ad hoc
// documents the fallback context of recent knowledge documents is returned;
// retrieval errors propagate rather than degrade silently.
func (s *Service) RetrieveContext(ctx context.Context, question string, documentIDs []string, adHoc []AdHocDocument, topK int) (*RetrievedContext, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrValidation)
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	var retrieved []ScoredChunk
	if len(documentIDs) > 0 {
		embeddings, err := s.embedder.Embed(ctx, []string{question})
		if err != nil {
			return nil, err
		}
		retrieved, err = s.retriever.Retrieve(ctx, embeddings[0], documentIDs, topK)
		if err != nil {
			return nil, err
		}
	}

	block, sources, err := s.assembler.Assemble(ctx, documentIDs, retrieved, adHoc)
	if err != nil {
		return nil, err
	}
	return &RetrievedContext{ContextBlock: block, Sources: sources, Chunks: retrieved}, nil
}
