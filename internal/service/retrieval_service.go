// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/config"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/vectorstore"
	"vectrieve-go/pkg/embedding"
	"vectrieve-go/pkg/log"
)

// RetrievalService 接口定义了向量检索操作。
type RetrievalService interface {
	Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	store           vectorstore.Store
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(embeddingClient embedding.Client, store vectorstore.Store, cfg config.RetrievalConfig) RetrievalService {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &retrievalService{
		embeddingClient: embeddingClient,
		store:           store,
		cfg:             cfg,
	}
}

// Retrieve 将查询向量化一次，并在向量索引中取回 topK 个最相近的分块。
// 得分低于 min_score 下限的结果被丢弃；全部低于下限时返回空序列而不是低质量上下文。
func (s *retrievalService) Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("查询文本为空: %w", apperr.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	queryVector, err := s.embedWithRetry(ctx, query)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("向量化查询失败: %w", apperr.Upstream(err))
	}

	scored, err := s.store.Search(ctx, queryVector, topK)
	if err != nil {
		log.Errorf("[RetrievalService] 向量索引检索失败: %v", err)
		return nil, fmt.Errorf("向量索引检索失败: %w", err)
	}

	results := make([]model.RetrievedChunk, 0, len(scored))
	for _, hit := range scored {
		if hit.Score < s.cfg.MinScore {
			continue
		}
		results = append(results, model.RetrievedChunk{
			FileName: hit.Entry.FileName,
			Content:  hit.Entry.TextContent,
			Score:    hit.Score,
		})
	}
	log.Infof("[RetrievalService] 检索完成, query: '%s', 命中 %d 条 (下限 %.2f 过滤前 %d 条)",
		query, len(results), s.cfg.MinScore, len(scored))
	return results, nil
}

// embedWithRetry 向量化查询，失败时立即重试一次。
func (s *retrievalService) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	vector, err := s.embeddingClient.CreateEmbedding(ctx, text)
	if err == nil {
		return vector, nil
	}
	log.Warnf("[RetrievalService] 向量化失败，立即重试一次: %v", err)
	return s.embeddingClient.CreateEmbedding(ctx, text)
}
