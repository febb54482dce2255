package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kart-io/docask/internal/docask/model"
	apierrors "github.com/kart-io/docask/pkg/errors"
)

type documents struct {
	db *gorm.DB
}

// NewDocumentStore 基于 gorm 创建文档存储。
func NewDocumentStore(db *gorm.DB) DocumentStore {
	return &documents{db: db}
}

// Create 保存新文档。
func (d *documents) Create(ctx context.Context, doc *model.Document) error {
	if err := d.db.WithContext(ctx).Create(doc).Error; err != nil {
		return apierrors.ErrDatabase.WithCause(err)
	}
	return nil
}

// Get 按 ID 读取文档，不存在时返回 ErrDocumentNotFound。
func (d *documents) Get(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierrors.ErrDocumentNotFound.WithMessagef("document %s not found", id)
		}
		return nil, apierrors.ErrDatabase.WithCause(err)
	}
	return &doc, nil
}

// UpdateStatus 写入状态迁移。
func (d *documents) UpdateStatus(ctx context.Context, id string, status model.Status, reason string, chunkCount int) error {
	res := d.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"status":      status,
		"reason":      reason,
		"chunk_count": chunkCount,
	})
	if res.Error != nil {
		return apierrors.ErrDatabase.WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return apierrors.ErrDocumentNotFound.WithMessagef("document %s not found", id)
	}
	return nil
}

// SetFormat 记录提取阶段识别出的文档格式。
func (d *documents) SetFormat(ctx context.Context, id string, format string) error {
	res := d.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Update("format", format)
	if res.Error != nil {
		return apierrors.ErrDatabase.WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return apierrors.ErrDocumentNotFound.WithMessagef("document %s not found", id)
	}
	return nil
}

// Delete 删除文档记录，不存在时为空操作。
func (d *documents) Delete(ctx context.Context, id string) error {
	if err := d.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error; err != nil {
		return apierrors.ErrDatabase.WithCause(err)
	}
	return nil
}

// List 按创建时间分页列出文档。
func (d *documents) List(ctx context.Context, offset, limit int) (int64, []*model.Document, error) {
	var count int64
	var docs []*model.Document

	if err := d.db.WithContext(ctx).Model(&model.Document{}).Count(&count).Error; err != nil {
		return 0, nil, apierrors.ErrDatabase.WithCause(err)
	}
	if err := d.db.WithContext(ctx).Order("created_at ASC, id ASC").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		return 0, nil, apierrors.ErrDatabase.WithCause(err)
	}
	return count, docs, nil
}

// ListAll 按创建顺序返回全部文档。
func (d *documents) ListAll(ctx context.Context) ([]*model.Document, error) {
	var docs []*model.Document
	if err := d.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&docs).Error; err != nil {
		return nil, apierrors.ErrDatabase.WithCause(err)
	}
	return docs, nil
}

// MarkInterrupted 将所有非终态文档标记为失败，返回受影响的数量。
func (d *documents) MarkInterrupted(ctx context.Context, reason string) (int64, error) {
	res := d.db.WithContext(ctx).Model(&model.Document{}).
		Where("status IN ?", model.NonTerminalStatuses()).
		Updates(map[string]any{"status": model.StatusFailed, "reason": reason})
	if res.Error != nil {
		return 0, apierrors.ErrDatabase.WithCause(res.Error)
	}
	return res.RowsAffected, nil
}
