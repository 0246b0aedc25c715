// Package extractor 负责把上传的 PDF 等文件转换为纯文本。
package extractor

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"duoread-go/internal/config"
)

// Extractor 从文件内容中提取纯文本。
type Extractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// New 按名称选择提取实现：tika（远程服务）或 docconv（进程内）。
func New(name string, tikaCfg config.TikaConfig) (Extractor, error) {
	switch name {
	case "", "tika":
		return NewTikaExtractor(tikaCfg), nil
	case "docconv":
		return NewDocconvExtractor(), nil
	default:
		return nil, fmt.Errorf("不支持的文本提取器: %s", name)
	}
}

// DetectMimeType 根据文件扩展名判断 Content-Type
func DetectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
