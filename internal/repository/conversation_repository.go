package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"duoread-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ConversationRepository 定义了对话历史记录的操作接口。
// 一个会话线程由 (userID, documentID) 确定，documentID 为空表示不绑定文档的通用对话。
type ConversationRepository interface {
	// Append 原子地追加多条消息，同一线程的并发追加按到达顺序串行。
	Append(ctx context.Context, userID, documentID string, messages ...model.ChatMessage) error
	// History 返回线程的全部消息；limit > 0 时只返回最近的 limit 条。
	History(ctx context.Context, userID, documentID string, limit int) ([]model.ChatMessage, error)
	Clear(ctx context.Context, userID, documentID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。ttl 为 0 时不过期。
func NewConversationRepository(redisClient *redis.Client, ttl time.Duration) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, ttl: ttl}
}

func threadKey(userID, documentID string) string {
	if documentID == "" {
		documentID = "general"
	}
	return fmt.Sprintf("chat:%s:%s", userID, documentID)
}

func (r *redisConversationRepository) Append(ctx context.Context, userID, documentID string, messages ...model.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal chat message: %w", err)
		}
		values = append(values, b)
	}

	key := threadKey(userID, documentID)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation history: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) History(ctx context.Context, userID, documentID string, limit int) ([]model.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.redisClient.LRange(ctx, threadKey(userID, documentID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}

	messages := make([]model.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (r *redisConversationRepository) Clear(ctx context.Context, userID, documentID string) error {
	if err := r.redisClient.Del(ctx, threadKey(userID, documentID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation history: %w", err)
	}
	return nil
}
