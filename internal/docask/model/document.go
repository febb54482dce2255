// Package model 定义 DocAsk 持久化的数据模型。
package model

import (
	"time"
)

// Status 文档的摄取状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusChunking   Status = "chunking"
	StatusEmbedding  Status = "embedding"
	StatusIndexing   Status = "indexing"
	StatusIngested   Status = "ingested"
	StatusFailed     Status = "failed"
)

// Terminal 报告状态是否为终态。只有 ingested 与 failed 是终态。
func (s Status) Terminal() bool {
	return s == StatusIngested || s == StatusFailed
}

// NonTerminalStatuses 列出所有非终态，用于启动时的中断恢复。
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusExtracting, StatusChunking, StatusEmbedding, StatusIndexing}
}

// Document 一份上传的文档及其摄取进度。
type Document struct {
	ID         string    `json:"document_id" gorm:"primaryKey;type:varchar(32)"`
	Filename   string    `json:"filename" gorm:"type:varchar(255);not null"`
	Format     string    `json:"format" gorm:"type:varchar(16)"`
	Status     Status    `json:"status" gorm:"type:varchar(16);index;not null"`
	Reason     string    `json:"reason,omitempty" gorm:"type:text"`
	ChunkCount int       `json:"chunk_count" gorm:"default:0"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum" gorm:"type:varchar(64);index"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "documents"
}
