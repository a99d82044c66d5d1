package service

import (
	"errors"
	"fmt"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/repository"
	"vectrieve-go/pkg/log"
)

// FeedbackInput 是一次反馈提交的全部入参。
// 问题、回答与耗时由调用方回传，反馈不依赖问答记录的存续。
type FeedbackInput struct {
	QueryID        string
	Sentiment      string
	QueryText      string
	ResponseText   string
	LatencySeconds float64
}

// AnalyticsService 定义了反馈记录与统计快照的接口。
type AnalyticsService interface {
	Record(input FeedbackInput) (*model.FeedbackRecord, error)
	Snapshot() (*model.AnalyticsSnapshot, error)
}

type analyticsService struct {
	feedbackRepo repository.FeedbackRepository
}

// NewAnalyticsService 创建一个新的 AnalyticsService 实例。
func NewAnalyticsService(feedbackRepo repository.FeedbackRepository) AnalyticsService {
	return &analyticsService{feedbackRepo: feedbackRepo}
}

// Record 追加一条反馈。同一 query_id 的重复提交照单全收，每次点击都计入。
// 调用方回传的问题、回答与耗时直接采信；缺失的字段在问答记录存在时
// 从记录补齐，记录不存在时照常落库。
func (s *analyticsService) Record(input FeedbackInput) (*model.FeedbackRecord, error) {
	if input.QueryID == "" {
		return nil, fmt.Errorf("query_id 为空: %w", apperr.ErrInvalidInput)
	}
	if input.Sentiment != model.SentimentPositive && input.Sentiment != model.SentimentNegative {
		return nil, fmt.Errorf("sentiment 必须是 positive 或 negative: %w", apperr.ErrInvalidInput)
	}

	record := &model.FeedbackRecord{
		QueryID:        input.QueryID,
		Sentiment:      input.Sentiment,
		QueryText:      input.QueryText,
		ResponseText:   input.ResponseText,
		LatencySeconds: input.LatencySeconds,
	}

	if record.QueryText == "" || record.ResponseText == "" || record.LatencySeconds == 0 {
		queryRecord, err := s.feedbackRepo.FindQueryRecord(input.QueryID)
		if err == nil {
			if record.QueryText == "" {
				record.QueryText = queryRecord.QueryText
			}
			if record.ResponseText == "" {
				record.ResponseText = queryRecord.ResponseText
			}
			if record.LatencySeconds == 0 {
				record.LatencySeconds = queryRecord.LatencySeconds
			}
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("查询问答记录失败: %w", err)
		}
	}

	if err := s.feedbackRepo.CreateFeedback(record); err != nil {
		return nil, fmt.Errorf("保存反馈失败: %w", err)
	}
	log.Infof("[AnalyticsService] 反馈已记录, query_id: %s, sentiment: %s", input.QueryID, input.Sentiment)
	return record, nil
}

// Snapshot 对反馈日志做全量扫描，派生出统计快照。快照不落库，每次调用重新计算。
func (s *analyticsService) Snapshot() (*model.AnalyticsSnapshot, error) {
	feedback, err := s.feedbackRepo.FindAllFeedback()
	if err != nil {
		return nil, fmt.Errorf("读取反馈记录失败: %w", err)
	}

	snapshot := &model.AnalyticsSnapshot{
		History: make([]model.HistoryPoint, 0, len(feedback)),
		Models:  make(map[string]int64),
	}

	var latencySum float64
	for _, f := range feedback {
		snapshot.Total++
		latencySum += f.LatencySeconds
		switch f.Sentiment {
		case model.SentimentPositive:
			snapshot.Likes++
		case model.SentimentNegative:
			snapshot.Dislikes++
		}
		snapshot.History = append(snapshot.History, model.HistoryPoint{
			Timestamp: model.LocalTime(f.CreatedAt),
			Latency:   f.LatencySeconds,
		})
	}
	// 空集合的平均值为 0，不产生除零
	if snapshot.Total > 0 {
		snapshot.AvgLatency = latencySum / float64(snapshot.Total)
	}

	// 模型使用分布从问答记录流派生；读取失败只影响该项，置空映射
	queryRecords, err := s.feedbackRepo.FindAllQueryRecords()
	if err != nil {
		log.Errorf("[AnalyticsService] 读取问答记录失败, 模型分布置空: %v", err)
		return snapshot, nil
	}
	for _, q := range queryRecords {
		if q.ModelName != "" {
			snapshot.Models[q.ModelName]++
		}
	}
	return snapshot, nil
}
