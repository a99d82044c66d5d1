package handler

import (
	"net/http"

	"vectrieve-go/internal/vectorstore"

	"github.com/gin-gonic/gin"
)

// HealthHandler 返回服务自身与向量索引的基本状态。
type HealthHandler struct {
	store     vectorstore.Store
	modelName string
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(store vectorstore.Store, modelName string) *HealthHandler {
	return &HealthHandler{store: store, modelName: modelName}
}

// Check 是健康检查端点。索引不可用时降级为 degraded 而不是失败。
func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	var indexCount int64
	count, err := h.store.Count(c.Request.Context())
	if err != nil {
		status = "degraded"
	} else {
		indexCount = count
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"model":       h.modelName,
		"index_count": indexCount,
	})
}
