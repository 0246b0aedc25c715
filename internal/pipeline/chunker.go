package pipeline

import "strings"

// Chunk 是切分后的一段文本，Start/End 为全文中的 rune 偏移，左闭右开。
type Chunk struct {
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
}

// Chunker 按固定窗口切分文本，相邻分块共享 Overlap 个 rune。
// 相同输入和参数总是得到相同输出。
type Chunker struct {
	MaxLength int
	Overlap   int
}

func NewChunker(maxLength, overlap int) *Chunker {
	if maxLength <= 0 {
		maxLength = 1000
	}
	if overlap < 0 || overlap >= maxLength {
		overlap = 0
	}
	return &Chunker{MaxLength: maxLength, Overlap: overlap}
}

// Chunk 切分文本。空文本或只有空白的文本返回空切片。
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return []Chunk{}
	}

	runes := []rune(text)
	step := c.MaxLength - c.Overlap
	chunks := make([]Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + c.MaxLength
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
