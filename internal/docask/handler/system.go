package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/version"

	"github.com/kart-io/docask/pkg/response"
)

// HealthResponse 健康检查响应。
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health 健康检查，没有副作用。
func (h *Handler) Health(c *gin.Context) {
	v := version.Get().GitVersion
	if v == "" {
		v = "unknown"
	}
	response.OK(c, HealthResponse{Status: "ok", Version: v})
}

// Metrics 以 Prometheus 文本格式导出业务与 HTTP 指标。
func (h *Handler) Metrics(c *gin.Context) {
	var sb strings.Builder
	sb.WriteString(h.metrics.Export(h.config.MetricsNamespace, ""))
	if h.httpStats != nil {
		sb.WriteString("\n")
		sb.WriteString(h.httpStats.Export())
	}
	for _, export := range h.config.Exporters {
		sb.WriteString("\n")
		sb.WriteString(export())
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(sb.String()))
}
