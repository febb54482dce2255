package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/docask/pkg/response"
)

// AskRequest 问答请求。
type AskRequest struct {
	Question string `json:"question" validate:"required,notblank"`
	// TopK 缺省时使用配置的默认值；超过上限时由编排器截断。
	TopK *int `json:"top_k" validate:"omitempty,gte=1"`
}

// Ask 基于已摄取文档回答问题。
func (h *Handler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, h.bindError(c, err))
		return
	}

	topK := h.config.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	answer, err := h.asker.Ask(c.Request.Context(), req.Question, topK)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, answer)
}
