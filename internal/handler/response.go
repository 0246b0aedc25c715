// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"duoread-go/internal/middleware"
	"duoread-go/internal/service"

	"github.com/gin-gonic/gin"
)

// respond 输出统一的 {code, message, data} 响应。
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// respondError 把业务错误映射为 HTTP 状态码。未知错误不向客户端暴露细节。
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respond(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		respond(c, http.StatusNotFound, "文档不存在", nil)
	case errors.Is(err, service.ErrAlreadyProcessing):
		respond(c, http.StatusConflict, err.Error(), nil)
	default:
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserID)
}
