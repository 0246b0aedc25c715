package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"duoread-go/internal/model"
	"duoread-go/internal/service"
	"duoread-go/pkg/log"
	"duoread-go/pkg/sse"
	"duoread-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 提供 SSE 与 WebSocket 两种流式对话入口。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, jwtManager: jwtManager}
}

// ChatStreamRequest 是 /chat/stream 的请求体。
type ChatStreamRequest struct {
	Message    string `json:"message" binding:"required"`
	DocumentID string `json:"document_id"`
}

// Stream 以 SSE 输出回复片段，最后一帧为 [DONE] 或 "Error: ..."。
// 流开始后的失败都以帧的形式返回，HTTP 状态码保持 200。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.chatService.StreamChat(ctx, service.ChatRequest{
		UserID:     currentUserID(c),
		Message:    req.Message,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := sse.NewWriter(c.Writer)
	for ev := range events {
		var werr error
		switch ev.Type {
		case model.EventFragment:
			werr = w.Event(ev.Text)
		case model.EventDone:
			werr = w.Done()
		case model.EventError:
			werr = w.Error(ev.Text)
		}
		if werr != nil {
			// 客户端已断开：取消生成，继续读空事件流让服务层收尾
			log.Warnw("SSE 写入失败，取消对话", "userID", currentUserID(c), "error", werr)
			cancel()
		}
	}
}

// wsClientMessage 是 WebSocket 客户端发送的消息。非 JSON 文本视为不绑定文档的提问。
type wsClientMessage struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
}

// wsSession 保存单个连接的写锁与当前流的取消函数。
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64 // 当前流的序号，用于避免旧流结束时清掉新流
	wg     sync.WaitGroup
}

func (s *wsSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// stop 取消正在进行的流，返回是否确实有流被取消。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// HandleWebSocket 处理 /chat/ws/:token 连接，令牌在路径中传递。
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		respond(c, http.StatusUnauthorized, "无效的 token", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	session := &wsSession{conn: conn}
	defer func() {
		session.stop()
		session.wg.Wait()
	}()
	log.Infof("WebSocket 连接已建立，用户: %s", claims.UserID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}

		msg := parseClientMessage(raw)
		switch msg.Type {
		case "stop":
			if session.stop() {
				_ = session.writeJSON(gin.H{"type": "stop", "message": "响应已停止", "timestamp": time.Now().UnixMilli()})
			}
			continue
		case "ping":
			_ = session.writeJSON(gin.H{"type": "pong", "timestamp": time.Now().UnixMilli()})
			continue
		}

		session.mu.Lock()
		busy := session.cancel != nil
		session.mu.Unlock()
		if busy {
			_ = session.writeJSON(gin.H{"type": "error", "error": "上一条回复尚未结束"})
			continue
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		events, err := h.chatService.StreamChat(ctx, service.ChatRequest{
			UserID:     claims.UserID,
			Message:    msg.Message,
			DocumentID: msg.DocumentID,
		})
		if err != nil {
			cancel()
			_ = session.writeJSON(gin.H{"type": "error", "error": err.Error()})
			continue
		}

		session.mu.Lock()
		session.seq++
		seq := session.seq
		session.cancel = cancel
		session.mu.Unlock()

		session.wg.Add(1)
		go h.forward(session, seq, events, cancel)
	}
}

// forward 把事件流转发为 JSON 帧。
func (h *ChatHandler) forward(session *wsSession, seq uint64, events <-chan model.StreamEvent, cancel context.CancelFunc) {
	defer session.wg.Done()
	defer func() {
		session.mu.Lock()
		if session.seq == seq {
			session.cancel = nil
		}
		session.mu.Unlock()
		cancel()
	}()

	for ev := range events {
		var frame gin.H
		switch ev.Type {
		case model.EventFragment:
			frame = gin.H{"type": "chunk", "chunk": ev.Text}
		case model.EventDone:
			frame = gin.H{"type": "completion", "status": "finished", "timestamp": time.Now().UnixMilli()}
		case model.EventError:
			frame = gin.H{"type": "error", "error": ev.Text}
		}
		if err := session.writeJSON(frame); err != nil {
			log.Warnf("WebSocket 写入失败: %v", err)
			cancel()
		}
	}
}

func parseClientMessage(raw []byte) wsClientMessage {
	var msg wsClientMessage
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &msg) == nil {
		if msg.Type == "" {
			msg.Type = "chat"
		}
		return msg
	}
	return wsClientMessage{Type: "chat", Message: trimmed}
}
