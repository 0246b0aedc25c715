// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"duoread-go/internal/model"

	"gorm.io/gorm"
)

// ErrInvalidTransition 表示试图让已处于终态的文档再次变更状态。
var ErrInvalidTransition = errors.New("invalid document status transition")

// DocumentRepository 接口定义了文档及其原始文件记录的持久化操作。
type DocumentRepository interface {
	// CreateWithBlob 在同一事务中写入文档与文件记录，二者要么都存在要么都不存在。
	CreateWithBlob(ctx context.Context, doc *model.Document, blob *model.FileBlob) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	FindBlob(ctx context.Context, documentID string) (*model.FileBlob, error)
	FindDemoByTitle(ctx context.Context, title string) (*model.Document, error)
	// TransitionStatus 仅当当前状态为 from 时更新为 to，返回是否更新成功。
	TransitionStatus(ctx context.Context, id string, from, to model.DocumentStatus, fields map[string]interface{}) (bool, error)
	UpdateLanguage(ctx context.Context, id, language string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) CreateWithBlob(ctx context.Context, doc *model.Document, blob *model.FileBlob) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("创建文档记录失败: %w", err)
		}
		blob.DocumentID = doc.ID
		if err := tx.Create(blob).Error; err != nil {
			return fmt.Errorf("创建文件记录失败: %w", err)
		}
		return nil
	})
}

// FindByID 根据 ID 查找文档，不存在时返回 gorm.ErrRecordNotFound。
func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindBlob(ctx context.Context, documentID string) (*model.FileBlob, error) {
	var blob model.FileBlob
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&blob).Error; err != nil {
		return nil, err
	}
	return &blob, nil
}

// FindDemoByTitle 用于演示文档导入的幂等检查。
func (r *documentRepository) FindDemoByTitle(ctx context.Context, title string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("is_demo = ? AND title = ?", true, title).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// TransitionStatus 以条件更新实现状态的比较并交换，多个进程竞争时只有一个能成功。
func (r *documentRepository) TransitionStatus(ctx context.Context, id string, from, to model.DocumentStatus, fields map[string]interface{}) (bool, error) {
	if from.IsTerminal() || from == to {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("更新文档 %s 状态 %s -> %s 失败: %w", id, from, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepository) UpdateLanguage(ctx context.Context, id, language string) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Update("language", language)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsNotFound 判断错误是否为记录不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
