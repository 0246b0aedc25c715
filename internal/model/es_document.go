package model

import "fmt"

// EsDocument 定义了存储在 Elasticsearch 中的分块向量文档。
type EsDocument struct {
	VectorID     string    `json:"vector_id"` // 唯一标识：documentId_chunkIndex
	DocumentID   string    `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// VectorID 返回分块向量在索引中的文档 ID，每个分块至多对应一个向量。
func VectorID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}
