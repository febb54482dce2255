package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docask/internal/docask/model"
	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/response"
)

// UploadResponse 上传与重新摄取的响应。
type UploadResponse struct {
	DocumentID string       `json:"document_id"`
	Filename   string       `json:"filename"`
	Status     model.Status `json:"status"`
	Message    string       `json:"message,omitempty"`
}

// ListQuery 文档列表查询参数。
type ListQuery struct {
	Offset int `form:"offset" validate:"gte=0"`
	Limit  int `form:"limit" validate:"gte=0,lte=100"`
}

// ListResponse 文档列表响应。
type ListResponse struct {
	Documents []*model.Document `json:"documents"`
	Total     int64             `json:"total"`
}

func uploadResponse(doc *model.Document) UploadResponse {
	resp := UploadResponse{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     doc.Status,
	}
	switch doc.Status {
	case model.StatusIngested:
		resp.Message = fmt.Sprintf("ingested %d chunks", doc.ChunkCount)
	case model.StatusFailed:
		resp.Message = doc.Reason
	case model.StatusPending:
		resp.Message = "queued for ingestion"
	}
	return resp
}

// Upload 上传文档。默认同步摄取，?async=true 时排队后立即返回 202。
func (h *Handler) Upload(c *gin.Context) {
	async := false
	if raw := c.Query("async"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.Fail(c, apierrors.ErrInvalidArgument.WithMessagef("invalid async value %q", raw))
			return
		}
		async = v
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			response.Fail(c, apierrors.ErrRequestTooLarge.WithMessagef("upload exceeds %d bytes", h.config.MaxUploadBytes))
		case errors.Is(err, http.ErrMissingFile):
			response.Fail(c, apierrors.ErrInvalidArgument.WithMessage("file is required"))
		default:
			response.Fail(c, apierrors.ErrInvalidArgument.WithMessagef("invalid multipart upload: %v", err))
		}
		return
	}
	if fh.Filename == "" {
		response.Fail(c, apierrors.ErrInvalidArgument.WithMessage("missing filename"))
		return
	}
	if h.config.MaxUploadBytes > 0 && fh.Size > h.config.MaxUploadBytes {
		response.Fail(c, apierrors.ErrRequestTooLarge.WithMessagef("upload exceeds %d bytes", h.config.MaxUploadBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.Fail(c, apierrors.ErrInternal.WithCause(err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.Fail(c, apierrors.ErrInternal.WithCause(err))
		return
	}

	ctx := c.Request.Context()
	if async {
		doc, err := h.docs.Submit(ctx, data, fh.Filename)
		if err != nil {
			response.Fail(c, err)
			return
		}
		response.JSON(c, http.StatusAccepted, uploadResponse(doc))
		return
	}

	doc, err := h.docs.Ingest(ctx, data, fh.Filename)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, uploadResponse(doc))
}

// ListDocuments 分页列出文档。
func (h *Handler) ListDocuments(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Fail(c, h.bindError(c, err))
		return
	}

	total, docs, err := h.docs.List(c.Request.Context(), q.Offset, q.Limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	response.OK(c, ListResponse{Documents: docs, Total: total})
}

// GetDocument 返回文档状态。
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.docs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, doc)
}

// DeleteDocument 删除文档及其片段。
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.docs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReingestDocument 使用保留的原始字节重新摄取文档。
func (h *Handler) ReingestDocument(c *gin.Context) {
	doc, err := h.docs.Reingest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, uploadResponse(doc))
}

// RebuildIndex 清空并重建向量索引。重建不随客户端断开而中止。
func (h *Handler) RebuildIndex(c *gin.Context) {
	result, err := h.docs.Rebuild(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		response.Fail(c, err)
		return
	}
	logger.Infow("index rebuild requested",
		"documents", result.Documents,
		"ingested", result.Ingested,
		"failed", result.Failed,
	)
	response.OK(c, result)
}
