package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"duoread-go/internal/config"
	"duoread-go/internal/model"
	"duoread-go/internal/repository"
	"duoread-go/pkg/llm"
	"duoread-go/pkg/log"
)

// ChatRequest 是一次对话请求。DocumentID 为空表示不绑定文档。
type ChatRequest struct {
	UserID     string
	Message    string
	DocumentID string
}

// ChatService 定义了流式对话的接口。
type ChatService interface {
	// StreamChat 返回一个只读事件流：若干回复片段，最后以 done 或 error 结束后关闭。
	// ctx 取消后流尽快关闭，已生成的部分回复以 incomplete 标记写入历史。
	StreamChat(ctx context.Context, req ChatRequest) (<-chan model.StreamEvent, error)
}

type chatService struct {
	retrieval        RetrievalService
	docRepo          repository.DocumentRepository
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	llmCfg           config.LLMConfig
	chatCfg          config.ChatConfig
	topK             int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	retrieval RetrievalService,
	docRepo repository.DocumentRepository,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	llmCfg config.LLMConfig,
	chatCfg config.ChatConfig,
	retrievalCfg config.RetrievalConfig,
) ChatService {
	return &chatService{
		retrieval:        retrieval,
		docRepo:          docRepo,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		llmCfg:           llmCfg,
		chatCfg:          chatCfg,
		topK:             retrievalCfg.TopK,
	}
}

func (s *chatService) StreamChat(ctx context.Context, req ChatRequest) (<-chan model.StreamEvent, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: 消息不能为空", ErrInvalidInput)
	}

	// 1. 检索上下文：只对可访问且已就绪的文档检索，任何失败都降级为无上下文
	doc := s.lookupDocument(ctx, req.UserID, req.DocumentID)
	var results []model.RetrievedChunk
	if doc != nil && doc.Status == model.StatusReady {
		var err error
		results, err = s.retrieval.Search(ctx, message, doc.ID, s.topK)
		if err != nil {
			log.Warnw("[Chat] 检索失败，继续无上下文对话", "documentID", doc.ID, "error", err)
			results = nil
		}
	}

	// 2. 构建 system 消息与历史
	systemMsg := s.buildSystemMessage(doc, s.buildContextText(results))
	history, err := s.conversationRepo.History(ctx, req.UserID, req.DocumentID, s.chatCfg.HistoryWindow)
	if err != nil {
		log.Errorf("[Chat] 读取对话历史失败: %v", err)
		history = nil
	}
	messages := s.composeMessages(systemMsg, history, message)

	out := make(chan model.StreamEvent)
	go s.stream(ctx, req, message, messages, out)
	return out, nil
}

func (s *chatService) stream(ctx context.Context, req ChatRequest, question string, messages []llm.Message, out chan<- model.StreamEvent) {
	defer close(out)

	var answer strings.Builder
	err := s.llmClient.StreamChatMessages(ctx, messages, llm.ParamsFromConfig(s.llmCfg.Generation), func(fragment string) error {
		if fragment == "" {
			return nil
		}
		select {
		case out <- model.StreamEvent{Type: model.EventFragment, Text: fragment}:
			answer.WriteString(fragment)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	switch {
	case err == nil:
		s.persist(req, question, answer.String(), false)
		send(ctx, out, model.StreamEvent{Type: model.EventDone})
	case ctx.Err() != nil:
		log.Infow("[Chat] 客户端取消对话", "userID", req.UserID, "documentID", req.DocumentID, "partialLength", answer.Len())
		if answer.Len() > 0 {
			s.persist(req, question, answer.String(), true)
		}
	default:
		log.Errorw("[Chat] 生成服务调用失败", "userID", req.UserID, "documentID", req.DocumentID, "error", err)
		if answer.Len() > 0 {
			s.persist(req, question, answer.String(), true)
		}
		send(ctx, out, model.StreamEvent{Type: model.EventError, Text: fmt.Errorf("%w: %v", ErrGeneration, err).Error()})
	}
}

func send(ctx context.Context, out chan<- model.StreamEvent, ev model.StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// persist 把问答对作为一个整体追加到历史。使用后台上下文，请求取消后仍能写入。
func (s *chatService) persist(req ChatRequest, question, answer string, incomplete bool) {
	timeout := s.chatCfg.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	now := time.Now()
	err := s.conversationRepo.Append(ctx, req.UserID, req.DocumentID,
		model.ChatMessage{Role: model.RoleUser, Content: question, DocumentID: req.DocumentID, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: answer, DocumentID: req.DocumentID, Incomplete: incomplete, Timestamp: now},
	)
	if err != nil {
		log.Errorw("[Chat] 保存对话历史失败", "userID", req.UserID, "documentID", req.DocumentID, "error", err)
	}
}

// lookupDocument 返回调用者可访问的文档，不存在或无权访问时返回 nil。
func (s *chatService) lookupDocument(ctx context.Context, userID, documentID string) *model.Document {
	if documentID == "" {
		return nil
	}
	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		if !repository.IsNotFound(err) {
			log.Warnw("[Chat] 查询文档失败", "documentID", documentID, "error", err)
		}
		return nil
	}
	if !doc.AccessibleBy(userID) {
		return nil
	}
	return doc
}

func (s *chatService) buildContextText(results []model.RetrievedChunk) string {
	if len(results) == 0 {
		return ""
	}
	// 与分块长度对齐，尽量不截断分块内容
	const maxSnippetRunes = 1000
	var b strings.Builder
	for i, r := range results {
		snippet := r.Text
		if runes := []rune(snippet); len(runes) > maxSnippetRunes {
			snippet = string(runes[:maxSnippetRunes]) + "…"
		}
		fmt.Fprintf(&b, "[%d] (chunk %d) %s\n", i+1, r.ChunkIndex, snippet)
	}
	return b.String()
}

func (s *chatService) buildSystemMessage(doc *model.Document, contextText string) string {
	prompt := s.llmCfg.Prompt
	refStart := prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if prompt.Rules != "" {
		sys.WriteString(prompt.Rules)
		sys.WriteString("\n\n")
	}
	if doc != nil {
		fmt.Fprintf(&sys, "Document: %s", doc.Title)
		if doc.Language != "" {
			fmt.Fprintf(&sys, " (language: %s)", doc.Language)
		}
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := prompt.NoResultText
		if noRes == "" {
			noRes = "(no relevant passages were retrieved for this turn)"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: systemMsg})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: userInput})
	return msgs
}
