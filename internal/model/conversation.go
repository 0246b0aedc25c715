// Package model 包含了应用的数据模型定义。
package model

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表存储在 Redis 中的单条对话消息。
// Incomplete 标记因取消或生成失败而中断的助手回复。
type ChatMessage struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	DocumentID string    `json:"documentId,omitempty"`
	Incomplete bool      `json:"incomplete,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StreamEventType 区分流式回复中的事件。
type StreamEventType string

const (
	EventFragment StreamEventType = "fragment"
	EventDone     StreamEventType = "done"
	EventError    StreamEventType = "error"
)

// StreamEvent 是聊天流中的一个事件：回复片段、结束标记或错误。
type StreamEvent struct {
	Type StreamEventType
	Text string
}
