// Package handler 提供 DocAsk 的 HTTP 处理器。
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/docask/internal/docask/biz"
	"github.com/kart-io/docask/internal/docask/metrics"
	"github.com/kart-io/docask/internal/docask/model"
	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/middleware"
	"github.com/kart-io/docask/pkg/validator"
)

// DocumentService 文档摄取与管理，由 biz.Ingestor 实现。
type DocumentService interface {
	Ingest(ctx context.Context, data []byte, filename string) (*model.Document, error)
	Submit(ctx context.Context, data []byte, filename string) (*model.Document, error)
	Reingest(ctx context.Context, id string) (*model.Document, error)
	Status(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context, offset, limit int) (int64, []*model.Document, error)
	Delete(ctx context.Context, id string) error
	Rebuild(ctx context.Context) (*biz.RebuildResult, error)
}

// AskService 问答，由 biz.Retriever 实现。
type AskService interface {
	Ask(ctx context.Context, question string, topK int) (*biz.Answer, error)
}

// Config 处理器配置。
type Config struct {
	// MaxUploadBytes 上传文件大小上限。
	MaxUploadBytes int64
	// DefaultTopK 请求未指定 top_k 时使用的值。
	DefaultTopK int
	// MetricsNamespace 指标名前缀。
	MetricsNamespace string
	// Exporters 追加到 /metrics 输出的额外指标源，例如工作池统计。
	Exporters []func() string
}

// Handler DocAsk HTTP 处理器。
type Handler struct {
	docs      DocumentService
	asker     AskService
	validator *validator.Validator
	metrics   *metrics.Metrics
	httpStats *middleware.MetricsCollector
	config    Config
}

// New 创建处理器。httpStats 可为 nil。
func New(
	docs DocumentService,
	asker AskService,
	v *validator.Validator,
	m *metrics.Metrics,
	httpStats *middleware.MetricsCollector,
	config Config,
) *Handler {
	if v == nil {
		v = validator.New()
	}
	if m == nil {
		m = metrics.Get()
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 3
	}
	if config.MetricsNamespace == "" {
		config.MetricsNamespace = "docask"
	}
	return &Handler{
		docs:      docs,
		asker:     asker,
		validator: v,
		metrics:   m,
		httpStats: httpStats,
		config:    config,
	}
}

// Validator 返回处理器使用的校验器。
func (h *Handler) Validator() *validator.Validator {
	return h.validator
}

// bindError 将绑定或校验错误转换为按 Accept-Language 翻译的 InvalidArgument。
func (h *Handler) bindError(c *gin.Context, err error) error {
	lang := validator.LangFromAcceptLanguage(c.GetHeader("Accept-Language"))
	verrs := h.validator.Translate(err, lang)
	return apierrors.ErrInvalidArgument.WithMessage(verrs.Error())
}
