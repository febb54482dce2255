package store

import (
	"context"

	"github.com/kart-io/docask/internal/docask/model"
)

// DocumentStore 文档记录存储接口。
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, reason string, chunkCount int) error
	SetFormat(ctx context.Context, id string, format string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, offset, limit int) (int64, []*model.Document, error)
	ListAll(ctx context.Context) ([]*model.Document, error)
	MarkInterrupted(ctx context.Context, reason string) (int64, error)
}

// BlobStore 原始上传文件存储接口，用于重新摄取与重建索引。
type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}
