package documents

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	CategoryKnowledge = "knowledge"
	CategoryBusiness  = "business"

	StatusReady = "ready"

	// ExpectedEmbeddingDim is the embedding contract of the configured
	// embedder (text-embedding-3-small). Violations are logged, not fatal.
	ExpectedEmbeddingDim = 1536
)

type Document struct {
	ID          string          `gorm:"primaryKey;size:191" json:"id"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Category    string          `gorm:"column:doc_category;size:16;not null;default:'business';index" json:"doc_category"`
	Type        string          `gorm:"column:doc_type;size:16" json:"doc_type"`
	Status      string          `gorm:"size:16;not null;default:'ready'" json:"status"`
	Size        int64           `gorm:"not null;default:0" json:"size"`
	Summary     datatypes.JSON  `gorm:"type:json" json:"summary,omitempty"`
	OriginalURL string          `gorm:"column:original_url;size:512" json:"original_url,omitempty"`
	UploadTime  time.Time       `gorm:"index" json:"upload_time"`
	CreatedAt   time.Time       `json:"created_at"`
	Chunks      []DocumentChunk `gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Document) TableName() string {
	return "documents"
}

type DocumentChunk struct {
	ID         string    `gorm:"primaryKey;size:191" json:"id"`
	DocumentID string    `gorm:"size:191;not null;uniqueIndex:idx_document_chunk" json:"document_id"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_document_chunk" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Embedding  Vector    `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// ChunkID builds the deterministic chunk identifier used for idempotent
// re-insertion.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, index)
}

type DocumentSummary struct {
	DocumentType string   `json:"document_type"`
	Summary      string   `json:"summary"`
	KeyMetrics   []string `json:"key_metrics"`
	TimePeriod   string   `json:"time_period"`
	TotalChunks  int      `json:"total_chunks,omitempty"`
}

type DocumentRecord struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Category   string           `json:"doc_category"`
	Type       string           `json:"doc_type"`
	Status     string           `json:"status"`
	Size       int64            `json:"size"`
	Summary    *DocumentSummary `json:"summary,omitempty"`
	UploadTime time.Time        `json:"upload_time"`
	ChunkCount int              `json:"chunk_count,omitempty"`
}

func summaryToJSON(summary *DocumentSummary) datatypes.JSON {
	if summary == nil {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func parseSummary(raw datatypes.JSON) *DocumentSummary {
	if len(raw) == 0 {
		return nil
	}
	var summary DocumentSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil
	}
	return &summary
}

func buildDocumentRecord(doc Document, chunkCount int) DocumentRecord {
	return DocumentRecord{
		ID:         doc.ID,
		Name:       doc.Name,
		Category:   doc.Category,
		Type:       doc.Type,
		Status:     doc.Status,
		Size:       doc.Size,
		Summary:    parseSummary(doc.Summary),
		UploadTime: doc.UploadTime,
		ChunkCount: chunkCount,
	}
}

// Vector stores a chunk embedding. On postgres the column is a pgvector
// vector(1536); elsewhere it degrades to a json column holding the same
// "[x,y,...]" text form, which both backends accept.
type Vector []float32

func (Vector) GormDataType() string {
	return "vector"
}

func (Vector) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("vector(%d)", ExpectedEmbeddingDim)
	}
	return "json"
}

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, value := range v {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(value), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var raw string
	switch value := src.(type) {
	case string:
		raw = value
	case []byte:
		raw = string(value)
	default:
		return fmt.Errorf("documents: cannot scan %T into Vector", src)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*v = nil
		return nil
	}
	var values []float32
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return fmt.Errorf("documents: parse vector: %w", err)
	}
	*v = values
	return nil
}
