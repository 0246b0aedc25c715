package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"duoread-go/internal/config"
)

// TikaExtractor 通过 Apache Tika 服务器提取文本。
type TikaExtractor struct {
	serverURL string
	client    *http.Client
}

// NewTikaExtractor 创建一个新的 Tika 客户端实例。
func NewTikaExtractor(cfg config.TikaConfig) *TikaExtractor {
	return &TikaExtractor{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

// ExtractText 根据文件后缀推断 MIME 类型，并调用 Tika 提取纯文本。
func (t *TikaExtractor) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.serverURL+"/tika", r)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", DetectMimeType(fileName))

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	return string(text), nil
}
