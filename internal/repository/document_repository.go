// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"errors"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 接口定义了文档登记表的持久化操作。
// 文件名是登记表的唯一键，索引条目本身存放在向量索引中。
type DocumentRepository interface {
	Create(record *model.Document) error
	FindByFileName(fileName string) (*model.Document, error)
	FindAll() ([]model.Document, error)
	MarkIndexed(fileName string, chunkCount int) error
	Delete(fileName string) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条文档登记记录。
func (r *documentRepository) Create(record *model.Document) error {
	return r.db.Create(record).Error
}

// FindByFileName 根据文件名检索文档记录。未登记的文件返回 ErrNotFound。
func (r *documentRepository) FindByFileName(fileName string) (*model.Document, error) {
	var record model.Document
	err := r.db.Where("file_name = ?", fileName).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindAll 返回全部文档记录，按文件名升序。
func (r *documentRepository) FindAll() ([]model.Document, error) {
	var records []model.Document
	err := r.db.Order("file_name asc").Find(&records).Error
	return records, err
}

// MarkIndexed 将文档状态置为已索引，并记录分块数与完成时间。
func (r *documentRepository) MarkIndexed(fileName string, chunkCount int) error {
	return r.db.Model(&model.Document{}).
		Where("file_name = ?", fileName).
		Updates(map[string]interface{}{
			"status":      model.StatusIndexed,
			"chunk_count": chunkCount,
			"indexed_at":  gorm.Expr("NOW()"),
		}).Error
}

// Delete 删除指定文件名的文档记录。
func (r *documentRepository) Delete(fileName string) error {
	return r.db.Where("file_name = ?", fileName).Delete(&model.Document{}).Error
}
