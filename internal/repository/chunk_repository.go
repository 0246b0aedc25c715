package repository

import (
	"context"

	"duoread-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
type ChunkRepository interface {
	// ReplaceChunks 删除文档已有的分块并写入新分块，在同一事务中完成。
	ReplaceChunks(ctx context.Context, documentID string, chunks []*model.DocumentChunk) error
	FindByDocument(ctx context.Context, documentID string) ([]*model.DocumentChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []*model.DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error // 每100条记录一批
	})
}

// FindByDocument 按 chunk_index 升序返回文档的全部分块。
func (r *chunkRepository) FindByDocument(ctx context.Context, documentID string) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error
}
