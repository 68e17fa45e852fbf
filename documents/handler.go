package documents

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	filestore "finassist_back/storage"
)

const originalURLExpiry = 15 * time.Minute

// Module 聚合文档模块的服务层和原始文件存储依赖。
type Module struct {
	service   *Service
	originals *filestore.OriginalStorage
	logger    *zap.Logger
}

// RegisterRoutes 初始化文档模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine, service *Service, logger *zap.Logger) (*Module, error) {
	if service == nil {
		return nil, errors.New("documents: service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	originals, err := filestore.NewOriginalStorageFromEnv()
	if err != nil {
		return nil, err
	}
	if originals == nil {
		logger.Warn("original file storage not configured, upload endpoints disabled")
	}

	module := &Module{service: service, originals: originals, logger: logger}

	group := router.Group("/documents")
	group.POST("", module.handleIngestDocuments)
	group.GET("", module.handleListDocuments)
	group.GET("/:id", module.handleGetDocument)
	group.DELETE("/:id", module.handleDeleteDocument)
	group.GET("/:id/chunks", module.handleListChunks)
	group.POST("/:id/original", module.handleUploadOriginal)
	group.GET("/:id/original", module.handleGetOriginal)

	return module, nil
}

type ingestDocumentsRequest struct {
	Documents []IngestRequest `json:"documents" binding:"required"`
}

type ingestOutcomeResponse struct {
	Name   string        `json:"name"`
	Result *IngestResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleIngestDocuments godoc
// @Summary 导入文档
// @Description 对一批文档执行分块、向量化并入库，单个文档失败不影响其余文档
// @Tags Documents
// @Accept json
// @Produce json
// @Param request body ingestDocumentsRequest true "待导入的文档列表"
// @Success 200 {object} map[string]interface{} "逐个文档的导入结果"
// @Failure 400 {object} map[string]string "请求参数错误"
// handleIngestDocuments 批量导入文档并返回逐项结果。
func (m *Module) handleIngestDocuments(c *gin.Context) {
	var req ingestDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Documents) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "documents list is empty"})
		return
	}

	outcomes := m.service.IngestAll(c.Request.Context(), req.Documents)
	responses := make([]ingestOutcomeResponse, 0, len(outcomes))
	failed := 0
	for _, outcome := range outcomes {
		item := ingestOutcomeResponse{Name: outcome.Name, Result: outcome.Result}
		if outcome.Err != nil {
			item.Error = outcome.Err.Error()
			failed++
		}
		responses = append(responses, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    len(responses),
		"failed":   failed,
		"outcomes": responses,
	})
}

// handleListDocuments godoc
// @Summary 文档列表
// @Description 按上传时间倒序返回已入库的文档，可按类别过滤
// @Tags Documents
// @Produce json
// @Param category query string false "文档类别 knowledge|business"
// @Success 200 {object} map[string]interface{} "文档列表"
// @Failure 400 {object} map[string]string "类别参数错误"
// handleListDocuments 返回文档列表。
func (m *Module) handleListDocuments(c *gin.Context) {
	category := c.Query("category")
	records, err := m.service.List(c.Request.Context(), category)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": records})
}

// handleGetDocument godoc
// @Summary 文档详情
// @Description 返回单个文档的元信息、摘要和分块数量
// @Tags Documents
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} DocumentRecord "文档详情"
// @Failure 404 {object} map[string]string "文档不存在"
// handleGetDocument 获取单个文档详情。
func (m *Module) handleGetDocument(c *gin.Context) {
	record, err := m.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleDeleteDocument godoc
// @Summary 删除文档
// @Description 删除文档及其全部分块，并清理已上传的原始文件
// @Tags Documents
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} map[string]string "删除成功"
// @Failure 404 {object} map[string]string "文档不存在"
// handleDeleteDocument 删除文档及其分块。
func (m *Module) handleDeleteDocument(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if m.originals != nil {
		if url, err := m.service.OriginalURL(ctx, id); err == nil && url != "" {
			if err := m.originals.Remove(ctx, url); err != nil {
				m.logger.Warn("remove original file failed",
					zap.String("document_id", id),
					zap.Error(err))
			}
		}
	}

	if err := m.service.Delete(ctx, id); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleListChunks godoc
// @Summary 文档分块
// @Description 按 chunk_index 升序返回文档的全部分块
// @Tags Documents
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} map[string]interface{} "分块列表"
// handleListChunks 返回文档的分块内容。
func (m *Module) handleListChunks(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := m.service.Get(ctx, id); err != nil {
		m.respondError(c, err)
		return
	}
	chunks, err := m.service.ChunksOf(ctx, id)
	if err != nil {
		m.respondError(c, err)
		return
	}

	type chunkView struct {
		ID         string `json:"id"`
		ChunkIndex int    `json:"chunk_index"`
		Content    string `json:"content"`
	}
	views := make([]chunkView, 0, len(chunks))
	for _, chunk := range chunks {
		views = append(views, chunkView{ID: chunk.ID, ChunkIndex: chunk.ChunkIndex, Content: chunk.Content})
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "chunks": views})
}

// handleUploadOriginal godoc
// @Summary 上传原始文件
// @Description 保存文档对应的原始文件（pdf/xlsx/txt/csv），用于后续下载
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "文档 ID"
// @Param file formData file true "原始文件"
// @Success 200 {object} map[string]string "上传成功"
// @Failure 400 {object} map[string]string "文件不合法"
// @Failure 404 {object} map[string]string "文档不存在"
// handleUploadOriginal 保存文档的原始文件。
func (m *Module) handleUploadOriginal(c *gin.Context) {
	if m.originals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "original file storage not configured"})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	record, err := m.service.Get(ctx, id)
	if err != nil {
		m.respondError(c, err)
		return
	}
	// Originals accompany user-uploaded business documents; knowledge
	// documents arrive through the migration pipeline without a source file.
	if record.Category != CategoryBusiness {
		c.JSON(http.StatusBadRequest, gin.H{"error": "original files are supported for business documents only"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	url, err := m.originals.Upload(ctx, id, fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := m.service.AttachOriginal(ctx, id, url); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// handleGetOriginal godoc
// @Summary 下载原始文件
// @Description 返回文档原始文件的带时效签名下载地址
// @Tags Documents
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} map[string]string "签名下载地址"
// @Failure 404 {object} map[string]string "文档或文件不存在"
// handleGetOriginal 返回原始文件的签名下载地址。
func (m *Module) handleGetOriginal(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	url, err := m.service.OriginalURL(ctx, id)
	if err != nil {
		m.respondError(c, err)
		return
	}
	if url == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no original file uploaded"})
		return
	}

	signed, err := m.originals.PresignedURL(ctx, url, originalURLExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presign original url failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signed})
}

func (m *Module) respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

// statusForError maps the pipeline error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmbedder):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
