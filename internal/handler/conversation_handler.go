package handler

import (
	"net/http"

	"vectrieve-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 负责处理对话历史的读取请求。
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// GetConversation 返回该会话的当前对话历史。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	sessionID := c.DefaultQuery("session", c.ClientIP())

	messages, err := h.conversationService.GetHistory(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取对话历史失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": messages, "message": "success"})
}
