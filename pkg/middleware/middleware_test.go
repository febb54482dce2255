package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/response"
	"github.com/kart-io/docask/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	var seen string
	engine.GET("/x", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	t.Run("generated", func(t *testing.T) {
		w := do(engine, httptest.NewRequest(http.MethodGet, "/x", nil))
		id := w.Header().Get(HeaderXRequestID)
		assert.Len(t, id, 26)
		assert.Equal(t, id, seen)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(HeaderXRequestID, "abc-123")
		w := do(engine, req)
		assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))
		assert.Equal(t, "abc-123", seen)
	})

	t.Run("oversized header replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(HeaderXRequestID, strings.Repeat("a", 200))
		w := do(engine, req)
		assert.Len(t, w.Header().Get(HeaderXRequestID), 26)
	})
}

func TestGetRequestID_Missing(t *testing.T) {
	assert.Empty(t, GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestRecovery(t *testing.T) {
	var recovered any
	engine := gin.New()
	engine.Use(RecoveryWithHandler(func(_ *gin.Context, err any, stack []byte) {
		recovered = err
		assert.NotEmpty(t, stack)
	}))
	engine.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := do(engine, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "kaboom", recovered)

	body := decodeError(t, w)
	assert.Equal(t, apierrors.ErrPanic.Code, body.Code)
	assert.NotContains(t, body.Detail, "kaboom")
}

func TestBodyLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(BodyLimit(8))
	engine.POST("/echo", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Fail(c, apierrors.ErrRequestTooLarge.WithCause(err))
			return
		}
		c.String(http.StatusOK, string(data))
	})

	t.Run("within limit", func(t *testing.T) {
		w := do(engine, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("12345678")))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "12345678", w.Body.String())
	})

	t.Run("declared length too large", func(t *testing.T) {
		w := do(engine, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("123456789")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, apierrors.ErrRequestTooLarge.Code, decodeError(t, w).Code)
	})

	t.Run("unknown length too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/echo", io.NopCloser(strings.NewReader("123456789")))
		req.ContentLength = -1
		w := do(engine, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestMetrics(t *testing.T) {
	collector := NewMetricsCollector("docask", "http")
	engine := gin.New()
	engine.Use(Metrics(collector, "/metrics"))
	engine.GET("/api/v1/documents/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, collector.Export()) })

	do(engine, httptest.NewRequest(http.MethodGet, "/api/v1/documents/a", nil))
	do(engine, httptest.NewRequest(http.MethodGet, "/api/v1/documents/b", nil))
	do(engine, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	do(engine, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, uint64(2), collector.RequestCount(http.MethodGet, "/api/v1/documents/:id", http.StatusOK))
	assert.Equal(t, uint64(1), collector.RequestCount(http.MethodGet, "unmatched", http.StatusNotFound))
	assert.Zero(t, collector.RequestCount(http.MethodGet, "/metrics", http.StatusOK))
	assert.Zero(t, collector.ActiveRequests())

	out := collector.Export()
	assert.Contains(t, out, `docask_http_requests_total{method="GET",path="/api/v1/documents/:id",status="200"} 2`)
	assert.Contains(t, out, "# TYPE docask_http_request_duration_seconds summary")
	assert.Contains(t, out, "docask_http_requests_active 0")
}

func TestMetricsExport_Empty(t *testing.T) {
	out := NewMetricsCollector("docask", "").Export()
	assert.Contains(t, out, "docask_requests_active 0")
	assert.NotContains(t, out, "requests_total")
}

func TestLogger_DoesNotAlterResponse(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(), Logger(LoggerConfig{SkipPaths: []string{"/health"}}))
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/fail", func(c *gin.Context) { response.Fail(c, apierrors.ErrInternal) })

	w := do(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "ok", w.Body.String())

	w = do(engine, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPathMatcher(t *testing.T) {
	match := pathMatcher([]string{"/health"}, []string{"/debug/"})
	assert.True(t, match("/health"))
	assert.True(t, match("/debug/pprof"))
	assert.False(t, match("/healthz"))
	assert.False(t, match("/api"))
}
