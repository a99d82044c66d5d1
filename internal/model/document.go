// Package model 定义了与数据库表对应的 Go 结构体以及对外的 DTO。
package model

import "time"

// 文档索引状态。注册表只对外暴露 StatusIndexed 的文件。
const (
	StatusIndexing = 0
	StatusIndexed  = 1
)

// Document 定义了 documents 表的 ORM 模型，即已索引文件的注册表。
// 一条记录只有在该文件的全部分块写入向量索引之后才会进入 StatusIndexed。
type Document struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	FileName   string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"fileName"`
	FileMD5    string     `gorm:"type:varchar(32);not null;index" json:"fileMd5"`
	TotalSize  int64      `gorm:"not null" json:"totalSize"`
	ChunkCount int        `gorm:"not null;default:0" json:"chunkCount"`
	Status     int        `gorm:"type:tinyint;not null;default:0" json:"status"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	IndexedAt  *time.Time `gorm:"default:null" json:"indexedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// IngestResult 是一次导入操作返回给调用方的结果。
type IngestResult struct {
	FileName      string  `json:"filename"`
	ChunksIndexed int     `json:"chunksIndexed"`
	Duration      float64 `json:"duration"`
}
