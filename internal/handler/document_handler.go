package handler

import (
	"fmt"
	"io"
	"net/http"

	"duoread-go/internal/model"
	"duoread-go/internal/service"
	"duoread-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责文档上传与状态查询。
type DocumentHandler struct {
	ingestion   service.IngestionService
	maxFileSize int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(ingestion service.IngestionService, maxFileSize int64) *DocumentHandler {
	return &DocumentHandler{ingestion: ingestion, maxFileSize: maxFileSize}
}

// DocumentStatusResponse 是状态查询的响应体。失败原因只记录在服务端日志中。
type DocumentStatusResponse struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Status     model.DocumentStatus `json:"status"`
	Language   string               `json:"language,omitempty"`
	ChunkCount int                  `json:"chunkCount"`
	IsDemo     bool                 `json:"isDemo"`
}

// Upload 处理 multipart 上传：字段 file（必填）、title、description。立即返回 202，索引在后台进行。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, fmt.Errorf("%w: 未提供文件", service.ErrInvalidInput))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: 打开上传文件失败", err)
		respondError(c, fmt.Errorf("%w: 无法读取上传文件", service.ErrInvalidInput))
		return
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxFileSize > 0 {
		// 多读一个字节，让超限文件在业务层被拒绝
		r = io.LimitReader(f, h.maxFileSize+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		log.Error("Upload: 读取上传文件失败", err)
		respondError(c, fmt.Errorf("%w: 无法读取上传文件", service.ErrInvalidInput))
		return
	}

	req := service.SubmitRequest{
		OwnerID:     currentUserID(c),
		FileName:    fileHeader.Filename,
		Title:       c.PostForm("title"),
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
		Mode:        service.DispatchAsync,
	}
	if desc, ok := c.GetPostForm("description"); ok && desc != "" {
		req.Description = &desc
	}

	res, err := h.ingestion.Submit(c.Request.Context(), req)
	if err != nil {
		log.Errorw("Upload: 提交文档失败", "fileName", fileHeader.Filename, "error", err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, "文档已接收", res)
}

// Status 返回文档的索引状态。不存在与无权访问统一返回 404。
func (h *DocumentHandler) Status(c *gin.Context) {
	doc, err := h.ingestion.Status(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", DocumentStatusResponse{
		ID:         doc.ID,
		Title:      doc.Title,
		Status:     doc.Status,
		Language:   doc.Language,
		ChunkCount: doc.ChunkCount,
		IsDemo:     doc.IsDemo,
	})
}
