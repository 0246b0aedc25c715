package model

// DocumentChunk 对应 document_chunks 表，是文档文本的一个分块。
// 偏移量以 rune 为单位，指向抽取出的全文。
type DocumentChunk struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	DocumentID   string `gorm:"type:varchar(36);not null;uniqueIndex:idx_chunk_doc_index" json:"documentId"`
	ChunkIndex   int    `gorm:"not null;uniqueIndex:idx_chunk_doc_index" json:"chunkIndex"`
	StartOffset  int    `gorm:"not null" json:"startOffset"`
	EndOffset    int    `gorm:"not null" json:"endOffset"`
	TextContent  string `gorm:"type:text" json:"textContent"`
	ModelVersion string `gorm:"type:varchar(100)" json:"modelVersion"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// RetrievedChunk 是一次检索返回的分块及其相似度得分。
type RetrievedChunk struct {
	ChunkIndex int     `json:"chunkIndex"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}
