package documents

import (
	"context"
	"sort"
	"strings"
)

// fallbackDocumentCap bounds the no-selection fallback context.
const fallbackDocumentCap = 10

// AdHocDocument is a caller-supplied document that was never persisted, e.g.
// one uploaded in the current session. All of its chunks enter the context.
type AdHocDocument struct {
	Name         string
	DocumentType string
	Chunks       []string
}

// ContextAssembler renders retrieved chunks and ad hoc documents into the
// grounding block handed to the generation collaborator.
type ContextAssembler struct {
	store Store
}

func NewContextAssembler(store Store) *ContextAssembler {
	return &ContextAssembler{store: store}
}

// Assemble groups ranked chunks by document (in first-encounter order),
// concatenates each group's text in chunk_index order, then appends the ad
// hoc documents. The fallback of recent knowledge-document summaries applies
// only when the caller selected no candidates at all; selected documents
// that produced no hits yield an empty context instead.
func (a *ContextAssembler) Assemble(ctx context.Context, candidates []string, retrieved []ScoredChunk, adHoc []AdHocDocument) (string, []string, error) {
	if len(candidates) == 0 && len(adHoc) == 0 {
		return a.assembleFallback(ctx)
	}

	var builder strings.Builder
	var sources []string

	docOrder := make([]string, 0, len(retrieved))
	grouped := make(map[string][]DocumentChunk)
	for _, hit := range retrieved {
		if _, seen := grouped[hit.DocumentID]; !seen {
			docOrder = append(docOrder, hit.DocumentID)
		}
		grouped[hit.DocumentID] = append(grouped[hit.DocumentID], hit.Chunk)
	}

	docs, err := a.store.DocumentsByID(ctx, docOrder)
	if err != nil {
		return "", nil, err
	}
	docByID := make(map[string]Document, len(docs))
	for _, doc := range docs {
		docByID[doc.ID] = doc
	}

	for _, documentID := range docOrder {
		chunks := grouped[documentID]
		// Reading order, not similarity order.
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

		name := documentID
		docType := "未知"
		if doc, ok := docByID[documentID]; ok {
			name = doc.Name
			if summary := parseSummary(doc.Summary); summary != nil && summary.DocumentType != "" {
				docType = summary.DocumentType
			}
		}

		texts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			texts = append(texts, chunk.Content)
		}

		builder.WriteString("\n知识文档: " + name + "\n")
		builder.WriteString("类型: " + docType + "\n")
		builder.WriteString("相关内容: " + strings.Join(texts, " ") + "\n")
		sources = append(sources, name)
	}

	for _, doc := range adHoc {
		docType := doc.DocumentType
		if docType == "" {
			docType = "未知"
		}
		content := strings.Join(doc.Chunks, " ")
		if content == "" {
			content = "无内容"
		}
		builder.WriteString("\n业务文档: " + doc.Name + "\n")
		builder.WriteString("类型: " + docType + "\n")
		builder.WriteString("内容: " + content + "\n")
		sources = append(sources, doc.Name)
	}

	return builder.String(), sources, nil
}

func (a *ContextAssembler) assembleFallback(ctx context.Context) (string, []string, error) {
	docs, err := a.store.ListDocuments(ctx, CategoryKnowledge, fallbackDocumentCap)
	if err != nil {
		return "", nil, err
	}

	var builder strings.Builder
	var sources []string
	for _, doc := range docs {
		docType := "未知"
		summaryText := "无摘要"
		if summary := parseSummary(doc.Summary); summary != nil {
			if summary.DocumentType != "" {
				docType = summary.DocumentType
			}
			if summary.Summary != "" {
				summaryText = summary.Summary
			}
		}
		builder.WriteString("\n知识文档: " + doc.Name + "\n")
		builder.WriteString("类型: " + docType + "\n")
		builder.WriteString("摘要: " + summaryText + "\n")
		sources = append(sources, doc.Name)
	}
	return builder.String(), sources, nil
}
