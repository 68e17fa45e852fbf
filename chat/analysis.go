package chat

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Analysis modes of the financial-analysis endpoint.
const (
	analysisTypeFinancial  = "financial_analysis"
	analysisTypePrediction = "prediction"
	analysisTypeChat       = "chat"

	analysisMaxTokens = 2000
)

type analyzeRequest struct {
	Text string `json:"text" binding:"required"`
}

type financialAnalysisRequest struct {
	Text         string `json:"text" binding:"required"`
	AnalysisType string `json:"analysis_type"`
	Question     string `json:"question"`
}

// extractionPrompt asks for flat key/value extraction from one document, with
// keys generated in the document's own language.
func extractionPrompt(text string) string {
	return fmt.Sprintf(`你是一位世界级的财务分析AI。请分析以下文档文本并提取关键财务信息。
文档可能是发票、合同、收据或其他任何财务单据，请识别文档类型并提取所有相关字段。

请以单层JSON对象返回结果，不要嵌套对象。

**JSON对象的键请使用与文档内容相同的主要语言生成。**
例如文档为中文时使用"发票号码"这样的中文键；文档为英文时使用 invoice_number 这样的 snake_case 英文键。
未找到的字段不要出现在结果里。

参考字段（英文示例）：document_type、invoice_number、invoice_date、due_date、total_amount、currency、vendor_name、customer_name。

请分析以下文本：
---
%s
---`, text)
}

func financialReportPrompt(text string) string {
	return fmt.Sprintf(`你是一个专业的财务分析师AI。请分析以下财务数据并提供深入的财务分析报告。

分析要求：
1. 识别关键财务指标和趋势
2. 提供财务健康状况评估
3. 指出潜在的风险和机会
4. 给出具体的改进建议

财务数据：
---
%s
---

请提供结构化的分析报告，包括：
- 财务概况
- 关键指标分析
- 风险评估
- 改进建议`, text)
}

func predictionPrompt(text string) string {
	return fmt.Sprintf(`你是一个专业的财务预测AI。基于以下历史财务数据，请提供未来3-6个月的财务预测。

预测要求：
1. 基于历史趋势进行合理预测
2. 考虑季节性因素
3. 提供预测的置信区间
4. 说明预测的假设条件

历史财务数据：
---
%s
---

请提供结构化的预测报告，包括：
- 收入预测
- 成本预测
- 现金流预测
- 关键假设说明`, text)
}

func dataChatPrompt(text, question string) string {
	return fmt.Sprintf(`你是一个专业的财务AI助手。基于以下财务数据，回答用户的问题。

财务数据：
---
%s
---

用户问题：%s

请提供准确、专业的回答，如果数据不足，请说明需要哪些额外信息。`, text, question)
}

func generalAnalysisPrompt(text string) string {
	return fmt.Sprintf(`你是一个专业的财务AI分析师。请分析以下财务数据并提供全面的财务洞察。

分析要求：
1. 识别文档类型（资产负债表、利润表、现金流量表等）
2. 提取关键财务数据
3. 计算重要财务比率
4. 提供财务健康状况评估

财务数据：
---
%s
---

请以JSON格式返回分析结果，包含以下字段：
- document_type: 文档类型
- key_metrics: 关键财务指标
- financial_ratios: 财务比率
- health_assessment: 财务健康状况
- recommendations: 建议`, text)
}

// handleAnalyze godoc
// @Summary 单据信息提取
// @Description 从单据文本中提取关键财务字段，键名跟随文档语言
// @Tags Analysis
// @Accept json
// @Produce json
// @Param request body analyzeRequest true "待分析的文档文本"
// @Success 200 {object} map[string]interface{} "提取出的字段"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 429 {object} map[string]string "超出每日调用额度"
// @Failure 502 {object} map[string]string "模型服务不可用"
// handleAnalyze 处理单据字段提取请求。
func (m *Module) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	raw, err := m.client.CompleteJSON(c.Request.Context(), extractionPrompt(req.Text), 0)
	if err != nil {
		m.logger.Error("analysis completion failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze text"})
		return
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		m.logger.Error("analysis returned invalid JSON", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze text"})
		return
	}
	c.JSON(http.StatusOK, fields)
}

// handleFinancialAnalysis godoc
// @Summary 财务数据分析
// @Description 按 analysis_type 对财务数据做分析报告、预测、数据问答或通用JSON分析
// @Tags Analysis
// @Accept json
// @Produce json
// @Param request body financialAnalysisRequest true "财务数据、分析模式和可选问题"
// @Success 200 {object} map[string]interface{} "分析结果"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 429 {object} map[string]string "超出每日调用额度"
// @Failure 502 {object} map[string]string "模型服务不可用"
// handleFinancialAnalysis 处理财务分析、预测和数据问答请求。
func (m *Module) handleFinancialAnalysis(c *gin.Context) {
	var req financialAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	ctx := c.Request.Context()

	switch req.AnalysisType {
	case analysisTypeFinancial, analysisTypePrediction:
		prompt := financialReportPrompt(req.Text)
		if req.AnalysisType == analysisTypePrediction {
			prompt = predictionPrompt(req.Text)
		}
		result, err := m.client.CompleteWithLimit(ctx, prompt, analysisMaxTokens)
		if err != nil {
			m.logger.Error("financial analysis failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze financial data"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"analysis": result.Content, "type": req.AnalysisType})

	case analysisTypeChat:
		result, err := m.client.CompleteWithLimit(ctx, dataChatPrompt(req.Text, req.Question), analysisMaxTokens)
		if err != nil {
			m.logger.Error("financial analysis failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze financial data"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": result.Content, "type": analysisTypeChat})

	default:
		raw, err := m.client.CompleteJSON(ctx, generalAnalysisPrompt(req.Text), analysisMaxTokens)
		if err != nil {
			m.logger.Error("financial analysis failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze financial data"})
			return
		}
		var report map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &report); err != nil {
			m.logger.Error("financial analysis returned invalid JSON", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to analyze financial data"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
