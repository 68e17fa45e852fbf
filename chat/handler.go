package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"finassist_back/documents"
	"finassist_back/llm"
	"finassist_back/ratelimit"
)

// Module 聚合问答模块的检索服务和模型客户端依赖。
type Module struct {
	service *documents.Service
	client  *llm.ChatClient
	logger  *zap.Logger
}

// RegisterRoutes 初始化问答模块并注册对话相关路由。
func RegisterRoutes(router *gin.Engine, service *documents.Service, client *llm.ChatClient, limiter *ratelimit.Limiter, logger *zap.Logger) (*Module, error) {
	if service == nil {
		return nil, errors.New("chat: documents service is required")
	}
	if client == nil {
		return nil, errors.New("chat: llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	module := &Module{service: service, client: client, logger: logger}

	group := router.Group("")
	if limiter != nil {
		group.Use(limiter.Middleware())
	}
	group.POST("/chat", module.handleChat)
	group.POST("/guidance-chat", module.handleGuidanceChat)
	group.POST("/analyze", module.handleAnalyze)
	group.POST("/financial-analysis", module.handleFinancialAnalysis)

	return module, nil
}

type businessDocument struct {
	Name   string   `json:"name"`
	Type   string   `json:"doc_type"`
	Chunks []string `json:"chunks"`
}

type chatRequest struct {
	Question          string             `json:"question" binding:"required"`
	DocumentIDs       []string           `json:"document_ids"`
	ChatHistory       []Message          `json:"chat_history"`
	BusinessDocuments []businessDocument `json:"business_documents"`
	TopK              int                `json:"top_k"`
}

// handleChat godoc
// @Summary 财务问答
// @Description 基于选中文档的检索结果回答财务问题，附带最近的对话历史
// @Tags Chat
// @Accept json
// @Produce json
// @Param request body chatRequest true "问题、候选文档和对话历史"
// @Success 200 {object} map[string]interface{} "模型回答"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 429 {object} map[string]string "超出每日调用额度"
// @Failure 502 {object} map[string]string "向量化服务不可用"
// handleChat 处理通用财务问答请求。
func (m *Module) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	ctx := c.Request.Context()

	retrieved, err := m.service.RetrieveContext(ctx, req.Question, req.DocumentIDs, nil, req.TopK)
	if err != nil {
		m.respondError(c, err)
		return
	}

	prompt := financialChatPrompt(retrieved.ContextBlock, formatHistory(req.ChatHistory), req.Question)
	result, err := m.client.Chat(ctx, []llm.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		m.logger.Error("chat completion failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to generate chat response"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"response":  result.Content,
		"sources":   retrieved.Sources,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGuidanceChat godoc
// @Summary 合规指导问答
// @Description 结合知识型文档的检索结果和会话内上传的业务文档给出合规建议
// @Tags Chat
// @Accept json
// @Produce json
// @Param request body chatRequest true "问题、知识文档、业务文档和对话历史"
// @Success 200 {object} map[string]interface{} "模型回答"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 429 {object} map[string]string "超出每日调用额度"
// @Failure 502 {object} map[string]string "向量化服务不可用"
// handleGuidanceChat 处理合规性指导问答请求。
func (m *Module) handleGuidanceChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	ctx := c.Request.Context()

	adHoc := make([]documents.AdHocDocument, 0, len(req.BusinessDocuments))
	businessNames := make([]string, 0, len(req.BusinessDocuments))
	for _, doc := range req.BusinessDocuments {
		adHoc = append(adHoc, documents.AdHocDocument{
			Name:         doc.Name,
			DocumentType: doc.Type,
			Chunks:       doc.Chunks,
		})
		businessNames = append(businessNames, doc.Name)
	}

	retrieved, err := m.service.RetrieveContext(ctx, req.Question, req.DocumentIDs, adHoc, req.TopK)
	if err != nil {
		m.respondError(c, err)
		return
	}

	knowledgeNames := make([]string, 0, len(retrieved.Sources))
	for _, source := range retrieved.Sources {
		if !contains(businessNames, source) {
			knowledgeNames = append(knowledgeNames, source)
		}
	}

	base := guidanceBasePrompt(knowledgeNames, businessNames)
	systemPrompt := guidanceSystemPrompt(base, retrieved.ContextBlock, formatHistory(req.ChatHistory), req.Question)

	result, err := m.client.Chat(ctx, []llm.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: req.Question},
	})
	if err != nil {
		m.logger.Error("guidance completion failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to generate chat response"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"response": result.Content,
		"sources":  retrieved.Sources,
	})
}

func (m *Module) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case documents.IsValidation(err):
		status = http.StatusBadRequest
	case documents.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, documents.ErrEmbedder):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
