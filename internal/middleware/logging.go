// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"duoread-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 超过此长度的请求体与响应体不写入日志
const maxLoggedBody = 4096

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 同时写入 gin.ResponseWriter 和内部 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 文件上传、SSE 与 WebSocket 请求只记录元信息，不读取也不缓存消息体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		captureBody := !isStreaming(c)
		var requestBody []byte
		var blw *bodyLogWriter
		if captureBody {
			if c.Request.Body != nil {
				requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
				c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(requestBody), c.Request.Body))
			}
			blw = &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		}
		if captureBody {
			fields = append(fields,
				"requestBody", truncate(requestBody),
				"responseBody", truncate(blw.body.Bytes()),
			)
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

func isStreaming(c *gin.Context) bool {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return true
	}
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return true
	}
	return strings.HasSuffix(c.FullPath(), "/chat/stream")
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}
