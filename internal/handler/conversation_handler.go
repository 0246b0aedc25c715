package handler

import (
	"net/http"

	"duoread-go/internal/service"
	"duoread-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理对话历史的查询与清除。线程由 ?document_id 确定，缺省为通用对话。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversations 返回线程的消息历史，按时间顺序。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	history, err := h.service.GetConversationHistory(c.Request.Context(), currentUserID(c), c.Query("document_id"))
	if err != nil {
		log.Error("GetConversations: 读取对话历史失败", err)
		respond(c, http.StatusInternalServerError, "Failed to retrieve conversation history", nil)
		return
	}
	respond(c, http.StatusOK, "success", history)
}

func (h *ConversationHandler) ClearConversations(c *gin.Context) {
	if err := h.service.ClearConversationHistory(c.Request.Context(), currentUserID(c), c.Query("document_id")); err != nil {
		log.Error("ClearConversations: 清除对话历史失败", err)
		respond(c, http.StatusInternalServerError, "Failed to clear conversation history", nil)
		return
	}
	respond(c, http.StatusOK, "success", nil)
}
