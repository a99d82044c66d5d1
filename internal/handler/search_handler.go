package handler

import (
	"net/http"
	"strconv"

	"vectrieve-go/internal/service"
	"vectrieve-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了检索预览相关的处理器。
type SearchHandler struct {
	retrievalService service.RetrievalService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retrievalService service.RetrievalService) *SearchHandler {
	return &SearchHandler{
		retrievalService: retrievalService,
	}
}

// Search 是处理检索预览请求的 Gin 处理函数，直接返回命中的分块与得分。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)

	topKStr := c.DefaultQuery("topK", "0")
	topK, err := strconv.Atoi(topKStr)
	if err != nil || topK < 0 {
		topK = 0
	}

	results, err := h.retrievalService.Retrieve(c.Request.Context(), query, topK)
	if err != nil {
		log.Errorf("[SearchHandler] 检索服务返回错误, error: %v", err)
		status := statusFromError(err)
		c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}
