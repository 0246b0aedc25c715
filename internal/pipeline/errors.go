package pipeline

import "errors"

var (
	// ErrDetection 语言检测失败，不影响处理流程。
	ErrDetection = errors.New("language detection failed")
	// ErrExtraction 文本提取失败，文档将被标记为 failed。
	ErrExtraction = errors.New("text extraction failed")
	// ErrEmbedding 向量化失败，文档将被标记为 failed。
	ErrEmbedding = errors.New("embedding failed")
	// ErrIndexing 向量写入失败，文档将被标记为 failed。
	ErrIndexing = errors.New("vector indexing failed")
)
