// Package router 注册 DocAsk 的 HTTP 路由。
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/kart-io/logger"

	"github.com/kart-io/docask/internal/docask/handler"
	"github.com/kart-io/docask/pkg/middleware"
	"github.com/kart-io/docask/pkg/validator"
)

// multipartOverhead 请求体限制在文件上限之外为 multipart 边界和表头预留的空间。
const multipartOverhead = 1 << 20

// Options 路由配置。
type Options struct {
	// MaxUploadBytes 上传文件大小上限。
	MaxUploadBytes int64
	// HTTPStats HTTP 指标收集器，可为 nil。
	HTTPStats *middleware.MetricsCollector
}

// Register 在 engine 上安装中间件链与全部路由。
func Register(engine *gin.Engine, h *handler.Handler, opts Options) {
	binding.Validator = validator.GinValidator{V: h.Validator()}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Tracing("/health", "/metrics"),
		middleware.Logger(middleware.LoggerConfig{SkipPaths: []string{"/health", "/metrics"}}),
	)
	if opts.HTTPStats != nil {
		engine.Use(middleware.Metrics(opts.HTTPStats, "/metrics"))
	}

	engine.GET("/health", h.Health)
	engine.GET("/metrics", h.Metrics)

	v1 := engine.Group("/api/v1")
	{
		uploadLimit := opts.MaxUploadBytes
		if uploadLimit > 0 {
			uploadLimit += multipartOverhead
		}
		v1.POST("/upload", middleware.BodyLimit(uploadLimit), h.Upload)
		v1.POST("/ask", middleware.BodyLimit(1<<20), h.Ask)

		docs := v1.Group("/documents")
		{
			docs.GET("", h.ListDocuments)
			docs.GET("/:id", h.GetDocument)
			docs.DELETE("/:id", h.DeleteDocument)
			docs.POST("/:id/reingest", h.ReingestDocument)
		}

		v1.POST("/index/rebuild", h.RebuildIndex)
	}

	logger.Infow("HTTP routes registered", "routes", len(engine.Routes()))
}
