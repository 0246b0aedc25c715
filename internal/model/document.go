// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// DemoOwnerID 是演示文档的保留所有者，所有用户都可以读取其文档。
const DemoOwnerID = "00000000-0000-0000-0000-000000000001"

// DocumentStatus 表示文档在索引流程中的状态。
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal 报告状态是否已经不会再变化。
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Document 对应 documents 表，记录一次上传及其索引状态。
type Document struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID       string         `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Title         string         `gorm:"type:varchar(255);not null" json:"title"`
	Description   *string        `gorm:"type:text" json:"description,omitempty"`
	Language      string         `gorm:"type:varchar(8);not null;default:''" json:"language"`
	IsDemo        bool           `gorm:"not null;default:false;index" json:"isDemo"`
	Status        DocumentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ChunkCount    int            `gorm:"not null;default:0" json:"chunkCount"`
	FailureReason string         `gorm:"type:text" json:"-"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// AccessibleBy 所有者本人或演示文档可读。
func (d *Document) AccessibleBy(userID string) bool {
	return d.IsDemo || (userID != "" && d.OwnerID == userID)
}

// FileBlob 对应 file_blobs 表，与 Document 一对一，字节内容保存在对象存储中。
type FileBlob struct {
	DocumentID  string    `gorm:"type:varchar(36);primaryKey" json:"documentId"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"fileName"`
	FileSize    int64     `gorm:"not null" json:"fileSize"`
	ContentType string    `gorm:"type:varchar(100)" json:"contentType"`
	StorageKey  string    `gorm:"type:varchar(512);not null" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (FileBlob) TableName() string {
	return "file_blobs"
}
