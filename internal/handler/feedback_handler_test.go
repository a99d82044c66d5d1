package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/service"

	"github.com/gin-gonic/gin"
)

type fakeAnalytics struct {
	recorded []model.FeedbackRecord
}

func (f *fakeAnalytics) Record(input service.FeedbackInput) (*model.FeedbackRecord, error) {
	if input.Sentiment != model.SentimentPositive && input.Sentiment != model.SentimentNegative {
		return nil, fmt.Errorf("sentiment 非法: %w", apperr.ErrInvalidInput)
	}
	record := model.FeedbackRecord{
		QueryID:        input.QueryID,
		Sentiment:      input.Sentiment,
		QueryText:      input.QueryText,
		ResponseText:   input.ResponseText,
		LatencySeconds: input.LatencySeconds,
	}
	f.recorded = append(f.recorded, record)
	return &record, nil
}

func (f *fakeAnalytics) Snapshot() (*model.AnalyticsSnapshot, error) {
	return &model.AnalyticsSnapshot{
		Total:   int64(len(f.recorded)),
		History: []model.HistoryPoint{},
		Models:  map[string]int64{},
	}, nil
}

func newFeedbackRouter(svc *fakeAnalytics) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewFeedbackHandler(svc)
	r.POST("/api/v1/feedback", h.Record)
	r.GET("/api/v1/analytics", h.Snapshot)
	return r
}

func TestRecordFeedbackEndpoint(t *testing.T) {
	svc := &fakeAnalytics{}
	r := newFeedbackRouter(svc)

	w := httptest.NewRecorder()
	body := `{"query_id":"q-1","sentiment":"positive","query":"问题","response":"回答","latency":1.8}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, got %d, body: %s", w.Code, w.Body.String())
	}
	if len(svc.recorded) != 1 || svc.recorded[0].QueryID != "q-1" {
		t.Fatalf("反馈未正确传递到服务层: %+v", svc.recorded)
	}
	// 回传的问题、回答与耗时透传到服务层
	got := svc.recorded[0]
	if got.QueryText != "问题" || got.ResponseText != "回答" || got.LatencySeconds != 1.8 {
		t.Errorf("回传字段未透传: %+v", got)
	}
}

func TestRecordFeedbackBadRequest(t *testing.T) {
	r := newFeedbackRouter(&fakeAnalytics{})

	// 缺少 sentiment 字段
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(`{"query_id":"q-1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("缺字段应返回 400, got %d", w.Code)
	}

	// sentiment 非法值由服务层判定
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(`{"query_id":"q-1","sentiment":"meh"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("非法 sentiment 应返回 400, got %d", w.Code)
	}
}

func TestAnalyticsSnapshotEndpoint(t *testing.T) {
	svc := &fakeAnalytics{}
	_, _ = svc.Record(service.FeedbackInput{QueryID: "q-1", Sentiment: model.SentimentPositive})
	r := newFeedbackRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, got %d", w.Code)
	}
	var resp struct {
		Data model.AnalyticsSnapshot `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应不是合法 JSON: %v", err)
	}
	if resp.Data.Total != 1 {
		t.Errorf("快照 total 应为 1, got %d", resp.Data.Total)
	}
}
