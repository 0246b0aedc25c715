package service

import (
	"context"

	"duoread-go/internal/model"
	"duoread-go/internal/repository"
)

// ConversationService 定义了对话历史的查询与清除。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, userID, documentID string) ([]model.ChatMessage, error)
	ClearConversationHistory(ctx context.Context, userID, documentID string) error
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// GetConversationHistory 获取线程的完整消息历史，按时间顺序。
func (s *conversationService) GetConversationHistory(ctx context.Context, userID, documentID string) ([]model.ChatMessage, error) {
	return s.repo.History(ctx, userID, documentID, 0)
}

func (s *conversationService) ClearConversationHistory(ctx context.Context, userID, documentID string) error {
	return s.repo.Clear(ctx, userID, documentID)
}
