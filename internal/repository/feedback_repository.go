package repository

import (
	"encoding/json"
	"errors"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/model"

	"gorm.io/gorm"
)

// FeedbackRepository 接口定义了问答记录与反馈的持久化操作。
// 两张表都是只追加的：同一 query_id 的重复反馈照单全收。
type FeedbackRepository interface {
	// QueryRecord operations
	CreateQueryRecord(record *model.QueryRecord) error
	FindQueryRecord(queryID string) (*model.QueryRecord, error)
	FindAllQueryRecords() ([]model.QueryRecord, error)

	// FeedbackRecord operations
	CreateFeedback(record *model.FeedbackRecord) error
	FindAllFeedback() ([]model.FeedbackRecord, error)
}

// feedbackRepository 是 FeedbackRepository 接口的 GORM 实现。
type feedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository 创建一个新的 FeedbackRepository 实例。
func NewFeedbackRepository(db *gorm.DB) FeedbackRepository {
	return &feedbackRepository{db: db}
}

// CreateQueryRecord 持久化一条已完成的问答记录。来源列表序列化为 JSON 存入 sources_json。
func (r *feedbackRepository) CreateQueryRecord(record *model.QueryRecord) error {
	if record.Sources != nil {
		sourcesBytes, err := json.Marshal(record.Sources)
		if err != nil {
			return err
		}
		record.SourcesJSON = string(sourcesBytes)
	}
	return r.db.Create(record).Error
}

// FindQueryRecord 根据 query_id 检索问答记录。不存在时返回 ErrNotFound。
func (r *feedbackRepository) FindQueryRecord(queryID string) (*model.QueryRecord, error) {
	var record model.QueryRecord
	err := r.db.Where("query_id = ?", queryID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if record.SourcesJSON != "" {
		if err := json.Unmarshal([]byte(record.SourcesJSON), &record.Sources); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

// FindAllQueryRecords 返回全部问答记录，按创建顺序。
func (r *feedbackRepository) FindAllQueryRecords() ([]model.QueryRecord, error) {
	var records []model.QueryRecord
	err := r.db.Order("id asc").Find(&records).Error
	return records, err
}

// CreateFeedback 追加一条反馈记录。
func (r *feedbackRepository) CreateFeedback(record *model.FeedbackRecord) error {
	return r.db.Create(record).Error
}

// FindAllFeedback 返回全部反馈记录，按创建顺序。
func (r *feedbackRepository) FindAllFeedback() ([]model.FeedbackRecord, error) {
	var records []model.FeedbackRecord
	err := r.db.Order("id asc").Find(&records).Error
	return records, err
}
