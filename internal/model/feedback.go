package model

import "time"

// 用户对一次回答的二元判断。
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
)

// FeedbackRecord 对应于数据库中的 feedback_records 表。
// 仅追加，从不删除；同一 QueryID 的多次提交全部保留。
// QueryID 与 QueryRecord 之间是约定关系而非外键，反馈不依赖查询记录是否仍然存在。
type FeedbackRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	QueryID        string    `gorm:"type:varchar(36);not null;index" json:"queryId"`
	Sentiment      string    `gorm:"type:varchar(10);not null" json:"sentiment"`
	QueryText      string    `gorm:"type:text" json:"queryText"`
	ResponseText   string    `gorm:"type:text" json:"responseText"`
	LatencySeconds float64   `gorm:"not null;default:0" json:"latencySeconds"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (FeedbackRecord) TableName() string {
	return "feedback_records"
}

// HistoryPoint 是分析时间序列中的一个点。
type HistoryPoint struct {
	Timestamp LocalTime `json:"timestamp"`
	Latency   float64   `json:"latency"`
}

// AnalyticsSnapshot 是对反馈日志做全量扫描得到的派生统计，不落库。
type AnalyticsSnapshot struct {
	Total      int64            `json:"total"`
	AvgLatency float64          `json:"avgLatency"`
	Likes      int64            `json:"likes"`
	Dislikes   int64            `json:"dislikes"`
	History    []HistoryPoint   `json:"history"`
	Models     map[string]int64 `json:"models"`
}
