package model

import "time"

// QuerySource 描述一条回答所引用的分块来源。
type QuerySource struct {
	FileName string  `json:"filename"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// QueryRecord 对应于数据库中的 query_records 表。
// 每个成功的助手回合写入一条，QueryID 是与后续反馈关联的键。
// 失败的回合不落库。
type QueryRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	QueryID        string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"queryId"`
	QueryText      string    `gorm:"type:text;not null" json:"queryText"`
	ResponseText   string    `gorm:"type:text;not null" json:"responseText"`
	SourcesJSON    string    `gorm:"type:text;column:sources_json" json:"-"`
	LatencySeconds float64   `gorm:"not null" json:"latencySeconds"`
	ModelName      string    `gorm:"type:varchar(100)" json:"modelName"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`

	// Sources 不直接落库，序列化后保存在 SourcesJSON 中。
	Sources []QuerySource `gorm:"-" json:"sources"`
}

func (QueryRecord) TableName() string {
	return "query_records"
}
