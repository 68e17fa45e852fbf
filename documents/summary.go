package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	summaryInputMaxRunes  = 2000
	summaryMaxTokens      = 500
	fallbackSummaryRunes  = 300
	fallbackSummaryChunks = 3
)

// Summarizer produces the structured synopsis stored with a document.
type Summarizer interface {
	Summarize(ctx context.Context, text string, totalChunks int) (*DocumentSummary, error)
}

// JSONCompleter is the narrow slice of the generation collaborator the
// summarizer needs: a completion constrained to a JSON object response.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type chatSummarizer struct {
	client JSONCompleter
}

// NewChatSummarizer builds a Summarizer on top of the chat completion
// collaborator.
func NewChatSummarizer(client JSONCompleter) (Summarizer, error) {
	if client == nil {
		return nil, errors.New("documents: completion client is required")
	}
	return &chatSummarizer{client: client}, nil
}

func (s *chatSummarizer) Summarize(ctx context.Context, text string, totalChunks int) (*DocumentSummary, error) {
	prompt := buildSummaryPrompt(text, totalChunks)
	raw, err := s.client.CompleteJSON(ctx, prompt, summaryMaxTokens)
	if err != nil {
		return nil, err
	}

	var summary DocumentSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, fmt.Errorf("documents: decode summary response: %w", err)
	}
	if summary.TotalChunks == 0 {
		summary.TotalChunks = totalChunks
	}
	return &summary, nil
}

func buildSummaryPrompt(text string, totalChunks int) string {
	excerpt := text
	truncated := false
	if runes := []rune(text); len(runes) > summaryInputMaxRunes {
		excerpt = string(runes[:summaryInputMaxRunes])
		truncated = true
	}
	suffix := ""
	if truncated {
		suffix = "..."
	}

	return fmt.Sprintf(`请为以下财务文档生成一个简洁的摘要，包含：
1. 文档类型
2. 主要财务数据
3. 关键指标
4. 时间范围

文档内容：
%s%s

请以JSON格式返回：
{
  "document_type": "文档类型",
  "summary": "文档摘要",
  "key_metrics": ["关键指标1", "关键指标2"],
  "time_period": "时间范围",
  "total_chunks": %d
}`, excerpt, suffix, totalChunks)
}

// fallbackSummary derives a synopsis from the first chunks when the
// generation collaborator is unavailable. Ingestion never fails because a
// summary could not be produced.
func fallbackSummary(category string, chunks []string) *DocumentSummary {
	docType := "业务型文档"
	if category == CategoryKnowledge {
		docType = "知识型文档"
	}

	head := chunks
	if len(head) > fallbackSummaryChunks {
		head = head[:fallbackSummaryChunks]
	}
	joined := strings.Join(head, " ")
	runes := []rune(joined)
	if len(runes) > fallbackSummaryRunes {
		joined = string(runes[:fallbackSummaryRunes]) + "..."
	}

	return &DocumentSummary{
		DocumentType: docType,
		Summary:      joined,
		KeyMetrics:   []string{"内容分析", "知识提取", "信息检索"},
		TimePeriod:   "当前版本",
		TotalChunks:  len(chunks),
	}
}
