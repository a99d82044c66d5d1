package service

import (
	"time"

	"vectrieve-go/internal/config"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/repository"
	"vectrieve-go/pkg/storage"
)

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	ListDocuments() ([]model.Document, error)
	GenerateDownloadURL(fileName string) (*DownloadInfoDTO, error)
}

type documentService struct {
	docRepo  repository.DocumentRepository
	minioCfg config.MinIOConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, minioCfg config.MinIOConfig) DocumentService {
	return &documentService{
		docRepo:  docRepo,
		minioCfg: minioCfg,
	}
}

// ListDocuments 返回全部文档登记记录，含状态与分块数。
func (s *documentService) ListDocuments() ([]model.Document, error) {
	return s.docRepo.FindAll()
}

// GenerateDownloadURL 为归档的原始文件生成有效期一小时的预签名下载链接。
func (s *documentService) GenerateDownloadURL(fileName string) (*DownloadInfoDTO, error) {
	record, err := s.docRepo.FindByFileName(fileName)
	if err != nil {
		return nil, err
	}

	presignedURL, err := storage.GetPresignedURL(s.minioCfg.BucketName, "raw/"+record.FileName, time.Hour)
	if err != nil {
		return nil, err
	}

	return &DownloadInfoDTO{
		FileName:    record.FileName,
		DownloadURL: presignedURL,
		FileSize:    record.TotalSize,
	}, nil
}
