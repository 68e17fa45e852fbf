package chat

import (
	"fmt"
	"strings"
)

// historyWindow is the number of trailing turns carried into the prompt.
const historyWindow = 5

// Message is one turn of the caller-supplied conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// formatHistory renders the trailing turns as 用户/AI lines.
func formatHistory(history []Message) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		speaker := "AI"
		if msg.Role == "user" {
			speaker = "用户"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, msg.Content))
	}
	return strings.Join(lines, "\n")
}

// financialChatPrompt builds the general financial Q&A prompt around the
// retrieved document context.
func financialChatPrompt(contextBlock, history, question string) string {
	historySection := ""
	if history != "" {
		historySection = fmt.Sprintf("对话历史：\n%s\n", history)
	}
	return fmt.Sprintf(`你是一个专业的财务AI助手。基于以下财务文档信息，回答用户的问题。

可用文档信息：
%s

%s
用户问题：%s

请提供准确、专业的回答。如果信息不足，请说明需要哪些额外信息。
回答要简洁明了，重点突出，并尽可能提供具体的数字和指标。`, contextBlock, historySection, question)
}

// guidanceBasePrompt builds the compliance-guidance system prompt header
// listing the selected documents.
func guidanceBasePrompt(knowledgeNames, businessNames []string) string {
	knowledgeList := ""
	if len(knowledgeNames) > 0 {
		knowledgeList = "知识型文档：" + strings.Join(knowledgeNames, "，")
	}
	businessList := ""
	if len(businessNames) > 0 {
		businessList = "业务型文档：" + strings.Join(businessNames, "，")
	}

	return fmt.Sprintf(`你是财务合规性AI助手，分析对象为财务相关文档。请严格遵循以下要求：

1. 必须充分引用输入的知识型文档内容，确保所有合规建议均有据可依。
2. 如涉及数学计算，必须明确列出所有数学计算过程，并用LaTeX公式（$...$ 或 $$...$$）包裹。
3. 结合业务型文档的具体情况，提供针对性的合规建议。
4. 明确指出可能存在的合规风险，并给出具体改进建议。
5. 如信息不足，请明确指出需要哪些额外信息。

%s
%s
`, knowledgeList, businessList)
}

// guidanceSystemPrompt appends the retrieved context, history and question to
// the base compliance prompt.
func guidanceSystemPrompt(base, contextBlock, history, question string) string {
	return fmt.Sprintf(`%s

相关文档内容：
%s

对话历史：
%s

用户问题：%s

请回答用户的问题：`, base, contextBlock, history, question)
}
