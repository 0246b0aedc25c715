package extractor

import (
	"context"
	"fmt"
	"io"

	"code.sajari.com/docconv/v2"
)

// DocconvExtractor 在进程内使用 docconv 提取文本，PDF 依赖本机的 poppler-utils。
type DocconvExtractor struct{}

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

// ExtractText 调用 docconv.Convert。docconv 不支持取消，ctx 只在开始前检查。
func (d *DocconvExtractor) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := docconv.Convert(r, DetectMimeType(fileName), false)
	if err != nil {
		return "", fmt.Errorf("docconv 提取文本失败: %w", err)
	}
	return res.Body, nil
}
