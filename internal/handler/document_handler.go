package handler

import (
	"io"
	"net/http"

	"vectrieve-go/internal/pipeline"
	"vectrieve-go/internal/service"
	"vectrieve-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理文档的上传、删除与查询请求。
type DocumentHandler struct {
	processor       *pipeline.Processor
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(processor *pipeline.Processor, documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		processor:       processor,
		documentService: documentService,
	}
}

// Upload 接收 multipart 文件并同步完成摄取：请求返回时文件已可检索。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		log.Warnf("[DocumentHandler] 上传请求缺少 file 字段: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 file 字段", "data": nil})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}

	result, err := h.processor.Ingest(c.Request.Context(), fileHeader.Filename, raw)
	if err != nil {
		log.Errorf("[DocumentHandler] 摄取文件失败, FileName: %s, Error: %v", fileHeader.Filename, err)
		status := statusFromError(err)
		c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result, "message": "success"})
}

// Delete 删除指定文件名的文档及其全部索引条目。
func (h *DocumentHandler) Delete(c *gin.Context) {
	fileName := c.Param("fileName")
	if err := h.processor.Delete(c.Request.Context(), fileName); err != nil {
		log.Errorf("[DocumentHandler] 删除文件失败, FileName: %s, Error: %v", fileName, err)
		status := statusFromError(err)
		c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"fileName": fileName}, "message": "success"})
}

// ListFiles 返回已完成索引的文件名列表。
func (h *DocumentHandler) ListFiles(c *gin.Context) {
	files, err := h.processor.ListFiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文件列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"files": files}, "message": "success"})
}

// ListDocuments 返回全部文档登记记录，含状态与分块数。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	records, err := h.documentService.ListDocuments()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档记录失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": records, "message": "success"})
}

// GenerateDownloadURL 生成原始文件的临时下载链接。
func (h *DocumentHandler) GenerateDownloadURL(c *gin.Context) {
	fileName := c.Query("fileName")
	if fileName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 fileName 参数", "data": nil})
		return
	}
	info, err := h.documentService.GenerateDownloadURL(fileName)
	if err != nil {
		status := statusFromError(err)
		c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": info, "message": "success"})
}
