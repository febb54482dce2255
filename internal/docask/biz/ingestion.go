package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/docask/internal/docask/metrics"
	"github.com/kart-io/docask/internal/docask/model"
	"github.com/kart-io/docask/internal/docask/store"
	"github.com/kart-io/docask/internal/pkg/docask/chunker"
	"github.com/kart-io/docask/internal/pkg/docask/extract"
	"github.com/kart-io/docask/internal/pkg/docask/vectorindex"
	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/infra/pool"
	"github.com/kart-io/docask/pkg/infra/tracing"
	"github.com/kart-io/docask/pkg/llm"
	"github.com/kart-io/docask/pkg/llm/resilience"
)

const (
	// ReasonCancelled 摄取被取消时写入的失败原因。
	ReasonCancelled = "ingestion cancelled"
	// ReasonInterrupted 进程重启时遗留的非终态文档的失败原因。
	ReasonInterrupted = "interrupted by restart"

	// 终态写入使用独立上下文，不受请求取消影响
	statusWriteTimeout = 10 * time.Second

	defaultListLimit = 20
	maxListLimit     = 100
)

// IngestionConfig 摄取配置。
type IngestionConfig struct {
	// MaxUploadBytes 单个文档的最大字节数，0 表示不限制。
	MaxUploadBytes int64
	// EmbedBatchSize 每次向量化请求的片段数。
	EmbedBatchSize int
	// EmbedConcurrency 单个文档并行向量化的批次数。
	EmbedConcurrency int
	// EmbedTimeout 单次向量化尝试的超时时间。
	EmbedTimeout time.Duration
	// Retry 向量化批次的重试策略。
	Retry *resilience.Backoff
}

// IngestorDeps 摄取器依赖。
type IngestorDeps struct {
	Documents store.DocumentStore
	Blobs     store.BlobStore
	Index     *vectorindex.Index
	Extractor *extract.Registry
	Chunker   *chunker.Chunker
	Embedder  llm.EmbeddingProvider
	// IngestPool 异步摄取池，为 nil 时 Submit 使用独立 goroutine。
	IngestPool *pool.Pool
	// EmbedPool 向量化批次池，为 nil 时批次在当前 goroutine 顺序执行。
	EmbedPool *pool.Pool
	Metrics   *metrics.Metrics
}

// RebuildResult 重建索引的结果。
type RebuildResult struct {
	Documents int `json:"documents"`
	Ingested  int `json:"ingested"`
	Failed    int `json:"failed"`
}

// Ingestor 文档摄取状态机。
//
// 每个文档依次经过 pending → extracting → chunking → embedding → indexing → ingested，
// 任一阶段失败进入 failed。同一文档同一时刻最多只有一个摄取在进行。
type Ingestor struct {
	docs       store.DocumentStore
	blobs      store.BlobStore
	index      *vectorindex.Index
	extractor  *extract.Registry
	chunker    *chunker.Chunker
	embedder   llm.EmbeddingProvider
	ingestPool *pool.Pool
	embedPool  *pool.Pool
	metrics    *metrics.Metrics
	config     *IngestionConfig

	mu       sync.Mutex
	inflight map[string]struct{}

	// 普通摄取持有读锁，Rebuild 持有写锁
	rebuildMu sync.RWMutex
}

// NewIngestor 创建摄取器。
func NewIngestor(deps IngestorDeps, config *IngestionConfig) *Ingestor {
	if config == nil {
		config = &IngestionConfig{}
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = 32
	}
	if config.EmbedConcurrency <= 0 {
		config.EmbedConcurrency = 1
	}
	if config.EmbedTimeout <= 0 {
		config.EmbedTimeout = 30 * time.Second
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Get()
	}
	return &Ingestor{
		docs:       deps.Documents,
		blobs:      deps.Blobs,
		index:      deps.Index,
		extractor:  deps.Extractor,
		chunker:    deps.Chunker,
		embedder:   deps.Embedder,
		ingestPool: deps.IngestPool,
		embedPool:  deps.EmbedPool,
		metrics:    m,
		config:     config,
		inflight:   make(map[string]struct{}),
	}
}

// ChunkID 返回片段在索引中的 ID。
func ChunkID(documentID string, sequence int) string {
	return fmt.Sprintf("%s:%d", documentID, sequence)
}

// Ingest 同步摄取文档。
// 阶段失败时文档进入 failed 并以 nil 错误返回；只有参数校验与存储失败返回错误。
func (i *Ingestor) Ingest(ctx context.Context, data []byte, filename string) (*model.Document, error) {
	doc, err := i.create(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	if err := i.claim(doc.ID); err != nil {
		return nil, err
	}
	defer i.release(doc.ID)

	return i.run(ctx, doc, data)
}

// Submit 持久化 pending 文档后在摄取池中异步执行，立即返回。
func (i *Ingestor) Submit(ctx context.Context, data []byte, filename string) (*model.Document, error) {
	doc, err := i.create(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	if err := i.claim(doc.ID); err != nil {
		return nil, err
	}

	accepted := *doc
	bg := context.WithoutCancel(ctx)
	task := func() {
		defer i.release(doc.ID)
		if _, err := i.run(bg, doc, data); err != nil {
			logger.Errorw("async ingestion failed to persist final status",
				"document_id", doc.ID, "error", err.Error())
		}
	}

	if i.ingestPool == nil {
		go task()
		return &accepted, nil
	}
	if err := i.ingestPool.Submit(task); err != nil {
		i.release(doc.ID)
		i.discard(bg, doc.ID)
		if errors.Is(err, pool.ErrPoolOverload) {
			return nil, apierrors.ErrServiceUnavailable.WithMessage("ingestion queue is full")
		}
		return nil, apierrors.ErrServiceUnavailable.WithCause(err)
	}
	return &accepted, nil
}

// Reingest 使用保留的原始字节在同一 ID 下重新执行摄取。
func (i *Ingestor) Reingest(ctx context.Context, id string) (*model.Document, error) {
	if err := i.claim(id); err != nil {
		return nil, err
	}
	defer i.release(id)

	doc, err := i.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.Status.Terminal() {
		return nil, apierrors.ErrConcurrentIngestion.WithMessagef("document %s is %s", id, doc.Status)
	}
	data, err := i.blobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := i.docs.UpdateStatus(ctx, id, model.StatusPending, "", 0); err != nil {
		return nil, err
	}
	doc.Status, doc.Reason, doc.ChunkCount = model.StatusPending, "", 0

	logger.Infow("re-ingesting document", "document_id", id, "filename", doc.Filename)
	return i.run(ctx, doc, data)
}

// Status 返回文档当前状态。
func (i *Ingestor) Status(ctx context.Context, id string) (*model.Document, error) {
	return i.docs.Get(ctx, id)
}

// List 分页列出文档。
func (i *Ingestor) List(ctx context.Context, offset, limit int) (int64, []*model.Document, error) {
	if offset < 0 {
		return 0, nil, apierrors.ErrInvalidArgument.WithMessage("offset must not be negative")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return i.docs.List(ctx, offset, limit)
}

// Delete 删除文档及其片段和原始字节。摄取进行中时拒绝删除。
func (i *Ingestor) Delete(ctx context.Context, id string) error {
	if err := i.claim(id); err != nil {
		return err
	}
	defer i.release(id)

	if _, err := i.docs.Get(ctx, id); err != nil {
		return err
	}

	removed := i.index.RemoveDocument(id)
	if err := i.blobs.Delete(ctx, id); err != nil {
		return err
	}
	if err := i.docs.Delete(ctx, id); err != nil {
		return err
	}
	i.metrics.SetIndexSize(i.index.Len())

	logger.Infow("document deleted", "document_id", id, "chunks", removed)
	return nil
}

// Rebuild 清空索引并用保留的原始字节重新摄取全部文档。
// 索引是可再生数据的缓存，这是 IndexCorrupted 后的恢复路径。
func (i *Ingestor) Rebuild(ctx context.Context) (*RebuildResult, error) {
	i.rebuildMu.Lock()
	defer i.rebuildMu.Unlock()

	docs, err := i.docs.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	i.index.Reset()
	logger.Infow("rebuilding vector index", "documents", len(docs))
	return i.reindex(ctx, docs)
}

// Repair 重新摄取指定文档，不清空索引。用于补齐快照之后摄取的文档。
func (i *Ingestor) Repair(ctx context.Context, ids []string) (*RebuildResult, error) {
	i.rebuildMu.Lock()
	defer i.rebuildMu.Unlock()

	docs := make([]*model.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := i.docs.Get(ctx, id)
		if err != nil {
			if apierrors.IsCode(err, apierrors.ErrDocumentNotFound.Code) {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}

	logger.Infow("repairing vector index", "documents", len(docs))
	return i.reindex(ctx, docs)
}

// reindex 依次重新摄取 docs，调用方持有 rebuildMu 写锁。
func (i *Ingestor) reindex(ctx context.Context, docs []*model.Document) (*RebuildResult, error) {
	start := time.Now()
	result := &RebuildResult{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		// 排队中的异步摄取会在重建结束后自行写入索引
		if err := i.claim(doc.ID); err != nil {
			logger.Debugw("skip document queued for ingestion", "document_id", doc.ID)
			continue
		}
		result.Documents++

		final, err := i.rebuildOne(ctx, doc)
		i.release(doc.ID)
		if err != nil {
			logger.Warnw("failed to rebuild document", "document_id", doc.ID, "error", err.Error())
		}
		if final != nil && final.Status == model.StatusIngested {
			result.Ingested++
		} else {
			result.Failed++
		}
	}

	logger.Infow("vector index rebuilt",
		"documents", result.Documents,
		"ingested", result.Ingested,
		"failed", result.Failed,
		"vectors", i.index.Len(),
		"elapsed", time.Since(start).String(),
	)
	return result, nil
}

func (i *Ingestor) rebuildOne(ctx context.Context, doc *model.Document) (*model.Document, error) {
	data, err := i.blobs.Get(ctx, doc.ID)
	if err != nil {
		if apierrors.IsCode(err, apierrors.ErrDocumentNotFound.Code) {
			doc.Status, doc.Reason, doc.ChunkCount = model.StatusFailed, "raw document bytes are missing", 0
			return doc, i.docs.UpdateStatus(ctx, doc.ID, doc.Status, doc.Reason, 0)
		}
		return nil, err
	}
	if err := i.docs.UpdateStatus(ctx, doc.ID, model.StatusPending, "", 0); err != nil {
		return nil, err
	}
	doc.Status, doc.Reason, doc.ChunkCount = model.StatusPending, "", 0
	return i.pipeline(ctx, doc, data)
}

// Recover 将上次进程遗留的非终态文档标记为失败。
func (i *Ingestor) Recover(ctx context.Context) (int64, error) {
	n, err := i.docs.MarkInterrupted(ctx, ReasonInterrupted)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Warnw("marked interrupted documents as failed", "documents", n)
	}
	return n, nil
}

// Reconcile 使恢复出的索引与文档存储一致：删除不属于已摄取文档的片段，
// 并返回片段数与记录不符、需要 Repair 的已摄取文档。
// 快照可能早于最近的摄取、删除或中断，启动时在 Recover 之后调用。
func (i *Ingestor) Reconcile(ctx context.Context) (removed int, missing []string, err error) {
	docs, err := i.docs.ListAll(ctx)
	if err != nil {
		return 0, nil, err
	}
	ingested := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if doc.Status != model.StatusIngested {
			continue
		}
		ingested[doc.ID] = struct{}{}
		if len(i.index.IDsByDocument(doc.ID)) != doc.ChunkCount {
			missing = append(missing, doc.ID)
		}
	}

	for _, id := range i.index.DocumentIDs() {
		if _, ok := ingested[id]; ok {
			continue
		}
		removed += i.index.RemoveDocument(id)
	}
	i.metrics.SetIndexSize(i.index.Len())
	if removed > 0 || len(missing) > 0 {
		logger.Warnw("restored index is out of date",
			"stale_chunks_removed", removed,
			"documents_to_repair", len(missing),
		)
	}
	return removed, missing, nil
}

// InFlight 返回正在摄取的文档数。
func (i *Ingestor) InFlight() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.inflight)
}

func (i *Ingestor) claim(id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.inflight[id]; ok {
		return apierrors.ErrConcurrentIngestion.WithMessagef("document %s is already being ingested", id)
	}
	i.inflight[id] = struct{}{}
	return nil
}

func (i *Ingestor) release(id string) {
	i.mu.Lock()
	delete(i.inflight, id)
	i.mu.Unlock()
}

// create 校验请求并持久化 pending 文档与原始字节。
func (i *Ingestor) create(ctx context.Context, data []byte, filename string) (*model.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, apierrors.ErrInvalidArgument.WithMessage("filename must not be empty")
	}
	filename = filepath.Base(filename)
	if limit := i.config.MaxUploadBytes; limit > 0 && int64(len(data)) > limit {
		return nil, apierrors.ErrRequestTooLarge.WithMessagef("document is %d bytes, limit is %d", len(data), limit)
	}

	sum := sha256.Sum256(data)
	doc := &model.Document{
		ID:       ulid.Make().String(),
		Filename: filename,
		Status:   model.StatusPending,
		Size:     int64(len(data)),
		Checksum: hex.EncodeToString(sum[:]),
	}
	if err := i.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	if err := i.blobs.Put(ctx, doc.ID, data); err != nil {
		_ = i.docs.Delete(context.WithoutCancel(ctx), doc.ID)
		return nil, err
	}

	logger.Infow("document accepted", "document_id", doc.ID, "filename", filename, "size", doc.Size)
	return doc, nil
}

// discard 撤销未能入队的文档。
func (i *Ingestor) discard(ctx context.Context, id string) {
	if err := i.blobs.Delete(ctx, id); err != nil {
		logger.Warnw("failed to delete blob of rejected document", "document_id", id, "error", err.Error())
	}
	if err := i.docs.Delete(ctx, id); err != nil {
		logger.Warnw("failed to delete rejected document", "document_id", id, "error", err.Error())
	}
}

func (i *Ingestor) run(ctx context.Context, doc *model.Document, data []byte) (*model.Document, error) {
	i.rebuildMu.RLock()
	defer i.rebuildMu.RUnlock()
	return i.pipeline(ctx, doc, data)
}

// pipeline 执行各阶段并写入终态。返回的错误只表示终态未能持久化。
func (i *Ingestor) pipeline(ctx context.Context, doc *model.Document, data []byte) (*model.Document, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "ingest",
		attribute.String(tracing.AttrDocumentID, doc.ID),
		attribute.String(tracing.AttrFilename, doc.Filename),
	)

	// 重新摄取从干净的索引状态开始
	i.index.RemoveDocument(doc.ID)

	chunks, stageErr := i.process(ctx, doc, data)
	if stageErr != nil {
		doc.Reason = failureReason(ctx, doc.Status, stageErr)
		doc.Status = model.StatusFailed
		doc.ChunkCount = 0
	} else {
		doc.Status = model.StatusIngested
		doc.Reason = ""
		doc.ChunkCount = chunks
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	writeErr := i.docs.UpdateStatus(wctx, doc.ID, doc.Status, doc.Reason, doc.ChunkCount)

	elapsed := time.Since(start)
	i.metrics.RecordIngestion(elapsed, doc.ChunkCount, stageErr != nil)
	i.metrics.SetIndexSize(i.index.Len())
	span.SetAttributes(attribute.Int(tracing.AttrChunks, doc.ChunkCount))
	tracing.EndSpan(span, stageErr)

	if stageErr != nil {
		logger.Warnw("document ingestion failed",
			"document_id", doc.ID,
			"filename", doc.Filename,
			"reason", doc.Reason,
			"elapsed", elapsed.String(),
		)
	} else {
		logger.Infow("document ingested",
			"document_id", doc.ID,
			"filename", doc.Filename,
			"format", doc.Format,
			"chunks", doc.ChunkCount,
			"elapsed", elapsed.String(),
		)
	}

	if writeErr != nil {
		logger.Errorw("failed to persist final document status",
			"document_id", doc.ID, "status", doc.Status, "error", writeErr.Error())
		return doc, writeErr
	}
	return doc, nil
}

func (i *Ingestor) process(ctx context.Context, doc *model.Document, data []byte) (int, error) {
	var (
		text   string
		chunks []chunker.Chunk
		vecs   [][]float32
	)

	err := i.stage(ctx, doc, model.StatusExtracting, func(ctx context.Context) error {
		res, err := i.extractor.Extract(ctx, doc.Filename, data)
		if err != nil {
			return err
		}
		text = res.Text
		doc.Format = string(res.Format)
		return i.docs.SetFormat(ctx, doc.ID, doc.Format)
	})
	if err != nil {
		return 0, err
	}

	err = i.stage(ctx, doc, model.StatusChunking, func(context.Context) error {
		var err error
		chunks, err = i.chunker.Split(text)
		return err
	})
	if err != nil {
		return 0, err
	}

	err = i.stage(ctx, doc, model.StatusEmbedding, func(ctx context.Context) error {
		var err error
		vecs, err = i.embedChunks(ctx, chunks)
		return err
	})
	if err != nil {
		return 0, err
	}

	err = i.stage(ctx, doc, model.StatusIndexing, func(ctx context.Context) error {
		return i.indexChunks(ctx, doc, chunks, vecs)
	})
	if err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// stage 持久化状态迁移后执行阶段函数。
func (i *Ingestor) stage(ctx context.Context, doc *model.Document, status model.Status, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.docs.UpdateStatus(ctx, doc.ID, status, "", 0); err != nil {
		return err
	}
	doc.Status = status

	sctx, span := tracing.StartSpan(ctx, "ingest."+string(status),
		attribute.String(tracing.AttrDocumentID, doc.ID),
		attribute.String(tracing.AttrStage, string(status)),
	)
	start := time.Now()
	err := fn(sctx)
	tracing.EndSpan(span, err)

	logger.Debugw("ingestion stage finished",
		"document_id", doc.ID,
		"stage", status,
		"elapsed", time.Since(start).String(),
		"error", err,
	)
	return err
}

type batch struct{ lo, hi int }

func batches(n, size int) []batch {
	out := make([]batch, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, batch{lo, hi})
	}
	return out
}

// embedChunks 分批向量化，结果顺序与片段一致。任一批次失败会取消其余批次。
func (i *Ingestor) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for k, c := range chunks {
		texts[k] = c.Text
	}
	vectors := make([][]float32, len(texts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	sem := make(chan struct{}, i.config.EmbedConcurrency)
	for _, b := range batches(len(texts), i.config.EmbedBatchSize) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		b := b
		task := func() {
			defer func() { <-sem }()
			vecs, err := i.embedBatch(ctx, texts[b.lo:b.hi])
			if err != nil {
				fail(err)
				return
			}
			copy(vectors[b.lo:b.hi], vecs)
		}

		if i.embedPool == nil {
			task()
			continue
		}
		wg.Add(1)
		if err := i.embedPool.Submit(func() { defer wg.Done(); task() }); err != nil {
			wg.Done()
			<-sem
			fail(apierrors.ErrEmbeddingUnavailable.WithCause(err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return vectors, ctx.Err()
}

// embedBatch 在重试与单次超时下向量化一个批次。
func (i *Ingestor) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := resilience.Do(ctx, i.config.Retry, func(attempt int) error {
		if attempt > 1 {
			i.metrics.RecordEmbedRetry()
		}
		actx, cancel := context.WithTimeout(ctx, i.config.EmbedTimeout)
		defer cancel()

		vecs, err := i.embedder.Embed(actx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(vecs) != len(texts) {
			return apierrors.ErrDimensionMismatch.WithMessagef(
				"embedding provider returned %d vectors for %d chunks", len(vecs), len(texts))
		}
		dim := i.index.Dimension()
		for k, v := range vecs {
			if len(v) != dim {
				return apierrors.ErrDimensionMismatch.WithMessagef(
					"embedding %d has %d components, index expects %d", k, len(v), dim)
			}
		}
		out = vecs
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var errno *apierrors.Errno
		if !errors.As(err, &errno) {
			return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
		}
		return nil, err
	}
	return out, nil
}

// indexChunks 逐片段写入索引，失败或取消时回滚该文档已写入的片段。
func (i *Ingestor) indexChunks(ctx context.Context, doc *model.Document, chunks []chunker.Chunk, vectors [][]float32) error {
	for k, c := range chunks {
		err := ctx.Err()
		if err == nil {
			err = i.index.Insert(ChunkID(doc.ID, c.Sequence), vectors[k], vectorindex.Metadata{
				DocumentID: doc.ID,
				Filename:   doc.Filename,
				Sequence:   c.Sequence,
				Text:       c.Text,
				Start:      c.Start,
				End:        c.End,
			})
		}
		if err != nil {
			removed := i.index.RemoveDocument(doc.ID)
			i.metrics.RecordRollback()
			logger.Warnw("rolled back partially indexed document",
				"document_id", doc.ID, "chunks", removed, "error", err.Error())
			return err
		}
	}
	return nil
}

// failureReason 生成写入文档的可读失败原因。
func failureReason(ctx context.Context, stage model.Status, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ReasonCancelled
	}
	var errno *apierrors.Errno
	if errors.As(err, &errno) {
		return fmt.Sprintf("%s failed: %s", stage, errno.Detail())
	}
	return fmt.Sprintf("%s failed: %v", stage, err)
}
