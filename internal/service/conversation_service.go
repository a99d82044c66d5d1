package service

import (
	"context"

	"vectrieve-go/internal/model"
	"vectrieve-go/internal/repository"
)

// ConversationService 定义了对话历史的读取接口。
type ConversationService interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}

type conversationService struct {
	conversationRepo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(conversationRepo repository.ConversationRepository) ConversationService {
	return &conversationService{conversationRepo: conversationRepo}
}

// GetHistory 返回该会话当前对话的全部消息，没有历史时返回空序列。
func (s *conversationService) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	convID, err := s.conversationRepo.GetOrCreateConversationID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.conversationRepo.GetConversationHistory(ctx, convID)
}
