package handler_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docask/internal/docask/biz"
	"github.com/kart-io/docask/internal/docask/handler"
	"github.com/kart-io/docask/internal/docask/metrics"
	"github.com/kart-io/docask/internal/docask/model"
	"github.com/kart-io/docask/internal/docask/router"
	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/middleware"
	"github.com/kart-io/docask/pkg/response"
	"github.com/kart-io/docask/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDocs struct {
	mu sync.Mutex

	ingestDoc *model.Document
	ingestErr error
	submitErr error
	statusErr error
	deleteErr error
	rebuild   *biz.RebuildResult

	lastFilename string
	lastData     []byte
	lastOffset   int
	lastLimit    int
	deleted      []string
}

func (f *fakeDocs) Ingest(_ context.Context, data []byte, filename string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilename, f.lastData = filename, data
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	doc := *f.ingestDoc
	doc.Filename = filename
	return &doc, nil
}

func (f *fakeDocs) Submit(_ context.Context, data []byte, filename string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilename, f.lastData = filename, data
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &model.Document{ID: "01ASYNC", Filename: filename, Status: model.StatusPending}, nil
}

func (f *fakeDocs) Reingest(_ context.Context, id string) (*model.Document, error) {
	return &model.Document{ID: id, Filename: "a.txt", Status: model.StatusIngested, ChunkCount: 4}, nil
}

func (f *fakeDocs) Status(_ context.Context, id string) (*model.Document, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &model.Document{ID: id, Filename: "a.txt", Status: model.StatusEmbedding}, nil
}

func (f *fakeDocs) List(_ context.Context, offset, limit int) (int64, []*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOffset, f.lastLimit = offset, limit
	return 7, []*model.Document{{ID: "d1", Status: model.StatusIngested}}, nil
}

func (f *fakeDocs) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDocs) Rebuild(context.Context) (*biz.RebuildResult, error) {
	return f.rebuild, nil
}

type fakeAsker struct {
	mu       sync.Mutex
	err      error
	question string
	topK     int
}

func (f *fakeAsker) Ask(_ context.Context, question string, topK int) (*biz.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.question, f.topK = question, topK
	if f.err != nil {
		return nil, f.err
	}
	return &biz.Answer{Text: "Paris", Sources: []string{"Paris is the capital of France."}}, nil
}

type fixture struct {
	engine *gin.Engine
	docs   *fakeDocs
	asker  *fakeAsker
	stats  *middleware.MetricsCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		docs: &fakeDocs{
			ingestDoc: &model.Document{ID: "01DOC", Status: model.StatusIngested, ChunkCount: 2},
			rebuild:   &biz.RebuildResult{Documents: 3, Ingested: 2, Failed: 1},
		},
		asker: &fakeAsker{},
		stats: middleware.NewMetricsCollector("docask", "http"),
	}
	h := handler.New(f.docs, f.asker, nil, metrics.New(), f.stats, handler.Config{
		MaxUploadBytes: 64,
		Exporters:      []func() string{func() string { return "docask_pool_running{pool=\"ingest\"} 0\n" }},
	})
	f.engine = gin.New()
	router.Register(f.engine, h, router.Options{MaxUploadBytes: 64, HTTPStats: f.stats})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestUpload_Sync(t *testing.T) {
	f := newFixture(t)

	w := f.do(uploadRequest(t, "/api/v1/upload", "notes.txt", []byte("hello world")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[handler.UploadResponse](t, w)
	assert.Equal(t, "01DOC", resp.DocumentID)
	assert.Equal(t, "notes.txt", resp.Filename)
	assert.Equal(t, model.StatusIngested, resp.Status)
	assert.Equal(t, "ingested 2 chunks", resp.Message)
	assert.Equal(t, []byte("hello world"), f.docs.lastData)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))
}

func TestUpload_FailedDocumentIsNotAnHTTPError(t *testing.T) {
	f := newFixture(t)
	f.docs.ingestDoc = &model.Document{ID: "01DOC", Status: model.StatusFailed, Reason: "extracting: no text"}

	w := f.do(uploadRequest(t, "/api/v1/upload", "scan.pdf", []byte("%PDF")))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[handler.UploadResponse](t, w)
	assert.Equal(t, model.StatusFailed, resp.Status)
	assert.Equal(t, "extracting: no text", resp.Message)
}

func TestUpload_Async(t *testing.T) {
	f := newFixture(t)

	w := f.do(uploadRequest(t, "/api/v1/upload?async=true", "notes.md", []byte("# hi")))
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode[handler.UploadResponse](t, w)
	assert.Equal(t, model.StatusPending, resp.Status)
	assert.Equal(t, "queued for ingestion", resp.Message)
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		filename string
		content  []byte
		setup    func(*fakeDocs)
		status   int
		code     int
	}{
		{
			name:     "missing file",
			target:   "/api/v1/upload",
			status:   http.StatusBadRequest,
			code:     apierrors.ErrInvalidArgument.Code,
		},
		{
			name:     "bad async flag",
			target:   "/api/v1/upload?async=maybe",
			filename: "a.txt",
			content:  []byte("x"),
			status:   http.StatusBadRequest,
			code:     apierrors.ErrInvalidArgument.Code,
		},
		{
			name:     "too large",
			target:   "/api/v1/upload",
			filename: "big.txt",
			content:  bytes.Repeat([]byte("a"), 65),
			status:   http.StatusRequestEntityTooLarge,
			code:     apierrors.ErrRequestTooLarge.Code,
		},
		{
			name:     "unsupported format",
			target:   "/api/v1/upload",
			filename: "image.png",
			content:  []byte("x"),
			setup: func(d *fakeDocs) {
				d.ingestErr = apierrors.ErrUnsupportedFormat.WithMessage("unsupported format .png")
			},
			status: http.StatusUnsupportedMediaType,
			code:   apierrors.ErrUnsupportedFormat.Code,
		},
		{
			name:     "queue full",
			target:   "/api/v1/upload?async=1",
			filename: "a.txt",
			content:  []byte("x"),
			setup: func(d *fakeDocs) {
				d.submitErr = apierrors.ErrServiceUnavailable.WithMessage("ingestion queue is full")
			},
			status: http.StatusServiceUnavailable,
			code:   apierrors.ErrServiceUnavailable.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f.docs)
			}
			w := f.do(uploadRequest(t, tt.target, tt.filename, tt.content))
			require.Equal(t, tt.status, w.Code, w.Body.String())

			body := decode[response.ErrorBody](t, w)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Detail)
		})
	}
}

func TestAsk(t *testing.T) {
	f := newFixture(t)

	w := f.do(jsonRequest(http.MethodPost, "/api/v1/ask", `{"question":"What is the capital of France?"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	answer := decode[biz.Answer](t, w)
	assert.Equal(t, "Paris", answer.Text)
	assert.Equal(t, []string{"Paris is the capital of France."}, answer.Sources)
	assert.Equal(t, 3, f.asker.topK)
	assert.Equal(t, "What is the capital of France?", f.asker.question)
	assert.NotContains(t, w.Body.String(), "relevant_docs")

	w = f.do(jsonRequest(http.MethodPost, "/api/v1/ask", `{"question":"q","top_k":5}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, f.asker.topK)
}

func TestAsk_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		lang   string
		detail string
	}{
		{name: "missing question", body: `{}`, detail: "question"},
		{name: "blank question", body: `{"question":"   "}`, detail: "question must not be blank"},
		{name: "zero top_k", body: `{"question":"q","top_k":0}`, detail: "top_k"},
		{name: "malformed json", body: `{"question":`, detail: ""},
		{name: "chinese message", body: `{"question":" "}`, lang: "zh-CN,zh;q=0.9", detail: "不能为空白"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := jsonRequest(http.MethodPost, "/api/v1/ask", tt.body)
			if tt.lang != "" {
				req.Header.Set("Accept-Language", tt.lang)
			}
			w := f.do(req)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			body := decode[response.ErrorBody](t, w)
			assert.Equal(t, apierrors.ErrInvalidArgument.Code, body.Code)
			assert.Contains(t, body.Detail, tt.detail)
			assert.Empty(t, f.asker.question)
		})
	}
}

func TestAsk_ServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apierrors.ErrGenerationUnavailable.WithMessage("chat backend down"), http.StatusServiceUnavailable},
		{apierrors.ErrEmbeddingUnavailable, http.StatusServiceUnavailable},
		{apierrors.ErrIndexCorrupted, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		f := newFixture(t)
		f.asker.err = tt.err
		w := f.do(jsonRequest(http.MethodPost, "/api/v1/ask", `{"question":"q"}`))
		assert.Equal(t, tt.status, w.Code)
		assert.Equal(t, apierrors.GetCode(tt.err), decode[response.ErrorBody](t, w).Code)
	}
}

func TestDocuments(t *testing.T) {
	f := newFixture(t)

	t.Run("list", func(t *testing.T) {
		w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents?offset=5&limit=10", nil))
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handler.ListResponse](t, w)
		assert.Equal(t, int64(7), resp.Total)
		assert.Len(t, resp.Documents, 1)
		assert.Equal(t, 5, f.docs.lastOffset)
		assert.Equal(t, 10, f.docs.lastLimit)
	})

	t.Run("list rejects oversized limit", func(t *testing.T) {
		w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents?limit=500", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/d1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		doc := decode[model.Document](t, w)
		assert.Equal(t, "d1", doc.ID)
		assert.Equal(t, model.StatusEmbedding, doc.Status)
	})

	t.Run("get unknown", func(t *testing.T) {
		f.docs.statusErr = apierrors.ErrDocumentNotFound.WithMessage("document nope not found")
		defer func() { f.docs.statusErr = nil }()
		w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "document nope not found", decode[response.ErrorBody](t, w).Detail)
	})

	t.Run("delete", func(t *testing.T) {
		w := f.do(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/d1", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, []string{"d1"}, f.docs.deleted)
	})

	t.Run("delete during ingestion", func(t *testing.T) {
		f.docs.deleteErr = apierrors.ErrConcurrentIngestion
		defer func() { f.docs.deleteErr = nil }()
		w := f.do(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/d2", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("reingest", func(t *testing.T) {
		w := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/documents/d1/reingest", nil))
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handler.UploadResponse](t, w)
		assert.Equal(t, "d1", resp.DocumentID)
		assert.Equal(t, "ingested 4 chunks", resp.Message)
	})

	t.Run("rebuild", func(t *testing.T) {
		w := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, biz.RebuildResult{Documents: 3, Ingested: 2, Failed: 1}, decode[biz.RebuildResult](t, w))
	})
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[handler.HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Version)

	f.do(jsonRequest(http.MethodPost, "/api/v1/ask", `{"question":"q"}`))

	w = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	body := w.Body.String()
	assert.Contains(t, body, "# TYPE docask_asks_total counter")
	assert.Contains(t, body, `docask_http_requests_total{method="POST",path="/api/v1/ask",status="200"} 1`)
	assert.NotContains(t, body, `path="/metrics"`)
	assert.Contains(t, body, `docask_pool_running{pool="ingest"} 0`)
}
