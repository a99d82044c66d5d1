package handler

import (
	"net/http"

	"vectrieve-go/internal/service"
	"vectrieve-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FeedbackHandler 负责处理反馈提交与统计快照请求。
type FeedbackHandler struct {
	analyticsService service.AnalyticsService
}

// NewFeedbackHandler 创建一个新的 FeedbackHandler 实例。
func NewFeedbackHandler(analyticsService service.AnalyticsService) *FeedbackHandler {
	return &FeedbackHandler{analyticsService: analyticsService}
}

type feedbackRequest struct {
	QueryID   string  `json:"query_id" binding:"required"`
	Sentiment string  `json:"sentiment" binding:"required"`
	Query     string  `json:"query"`
	Response  string  `json:"response"`
	Latency   float64 `json:"latency"`
}

// Record 接收一条对某次回答的二元反馈，问题、回答与耗时由前端回传。
func (h *FeedbackHandler) Record(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "请求体缺少 query_id 或 sentiment", "data": nil})
		return
	}

	record, err := h.analyticsService.Record(service.FeedbackInput{
		QueryID:        req.QueryID,
		Sentiment:      req.Sentiment,
		QueryText:      req.Query,
		ResponseText:   req.Response,
		LatencySeconds: req.Latency,
	})
	if err != nil {
		log.Errorf("[FeedbackHandler] 记录反馈失败, query_id: %s, error: %v", req.QueryID, err)
		status := statusFromError(err)
		c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": record, "message": "success"})
}

// Snapshot 返回反馈日志的全量统计快照。
func (h *FeedbackHandler) Snapshot(c *gin.Context) {
	snapshot, err := h.analyticsService.Snapshot()
	if err != nil {
		log.Errorf("[FeedbackHandler] 生成统计快照失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成统计快照失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": snapshot, "message": "success"})
}
