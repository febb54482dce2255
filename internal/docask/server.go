// Package docask 组装 DocAsk 服务：存储、索引、模型供应商、摄取与问答编排以及 HTTP 服务器。
package docask

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/docask/internal/docask/biz"
	"github.com/kart-io/docask/internal/docask/handler"
	"github.com/kart-io/docask/internal/docask/metrics"
	"github.com/kart-io/docask/internal/docask/router"
	"github.com/kart-io/docask/internal/docask/store"
	"github.com/kart-io/docask/internal/pkg/docask/chunker"
	"github.com/kart-io/docask/internal/pkg/docask/extract"
	"github.com/kart-io/docask/internal/pkg/docask/vectorindex"
	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/infra/app"
	"github.com/kart-io/docask/pkg/infra/pool"
	"github.com/kart-io/docask/pkg/infra/server"
	httpserver "github.com/kart-io/docask/pkg/infra/server/http"
	"github.com/kart-io/docask/pkg/infra/tracing"
	"github.com/kart-io/docask/pkg/llm"
	_ "github.com/kart-io/docask/pkg/llm/hashembed"
	_ "github.com/kart-io/docask/pkg/llm/ollama"
	_ "github.com/kart-io/docask/pkg/llm/openai"
	"github.com/kart-io/docask/pkg/llm/resilience"
	"github.com/kart-io/docask/pkg/middleware"
	indexopts "github.com/kart-io/docask/pkg/options/index"
	llmopts "github.com/kart-io/docask/pkg/options/llm"
	logopts "github.com/kart-io/docask/pkg/options/logger"
	poolopts "github.com/kart-io/docask/pkg/options/pool"
	ragopts "github.com/kart-io/docask/pkg/options/rag"
	redisopts "github.com/kart-io/docask/pkg/options/redis"
	httpopts "github.com/kart-io/docask/pkg/options/server/http"
	storageopts "github.com/kart-io/docask/pkg/options/storage"
	tracingopts "github.com/kart-io/docask/pkg/options/tracing"
	"github.com/kart-io/docask/pkg/validator"
)

// Name is the name of the application.
const Name = "docask"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	IndexOptions     *indexopts.Options
	StorageOptions   *storageopts.Options
	RedisOptions     *redisopts.Options
	TracingOptions   *tracingopts.Options
	PoolOptions      *poolopts.Options
}

// Server represents the DocAsk server.
type Server struct {
	mgr *server.Manager
}

// NewServer initializes and returns a new Server instance. Nothing listens
// or runs in the background until Run is called.
func (cfg *Config) NewServer(ctx context.Context) (s *Server, err error) {
	// 1. 初始化日志
	if err := cfg.LogOptions.Init(Name, app.GetVersion()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("Starting DocAsk service...",
		"embedding", cfg.EmbeddingOptions.Provider,
		"chat", cfg.ChatOptions.Provider,
		"storage", cfg.StorageOptions.Driver,
	)

	// 构造失败时按相反顺序释放已打开的资源
	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](context.Background())
			}
		}
	}()

	// 2. 初始化链路追踪
	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	closers = append(closers, tp.Shutdown)

	// 3. 初始化存储层
	db, err := store.OpenDB(cfg.StorageOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	closers = append(closers, func(context.Context) error { return store.CloseDB(db) })
	docs := store.NewDocumentStore(db)
	blobs := store.NewBlobStore(cfg.StorageOptions.BlobURL)
	logger.Infow("Storage initialized", "driver", cfg.StorageOptions.Driver, "blob_url", cfg.StorageOptions.BlobURL)

	// 4. 初始化 Redis 客户端（用于缓存）
	rdb := newRedisClient(ctx, cfg.RedisOptions)
	if rdb != nil {
		closers = append(closers, func(context.Context) error { return rdb.Close() })
	}

	// 5. 初始化模型供应商
	embedder, err := newEmbedder(cfg.EmbeddingOptions, cfg.IndexOptions.Dimension, cfg.RedisOptions, rdb)
	if err != nil {
		return nil, err
	}
	chat, err := newChat(cfg.ChatOptions)
	if err != nil {
		return nil, err
	}

	// 6. 初始化向量索引
	snapshots, index, needRebuild, err := loadIndex(ctx, cfg.IndexOptions)
	if err != nil {
		return nil, err
	}

	// 7. 初始化协程池
	ingestPool, err := pool.NewPool("ingest", &pool.Config{
		Capacity:         cfg.PoolOptions.IngestWorkers,
		ExpiryDuration:   cfg.PoolOptions.ExpiryDuration,
		MaxBlockingTasks: cfg.PoolOptions.IngestQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest pool: %w", err)
	}
	closers = append(closers, func(context.Context) error { ingestPool.Release(); return nil })
	embedPool, err := pool.NewPool("embed", &pool.Config{
		Capacity:       cfg.PoolOptions.EmbedWorkers,
		ExpiryDuration: cfg.PoolOptions.ExpiryDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embed pool: %w", err)
	}
	closers = append(closers, func(context.Context) error { embedPool.Release(); return nil })

	// 8. 初始化 Biz 层
	ch, err := chunker.New(cfg.RAGOptions.ChunkSize, cfg.RAGOptions.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	m := metrics.Get()
	retry := cfg.RAGOptions.Retry
	ingestor := biz.NewIngestor(biz.IngestorDeps{
		Documents:  docs,
		Blobs:      blobs,
		Index:      index,
		Extractor:  extract.NewRegistry(),
		Chunker:    ch,
		Embedder:   embedder,
		IngestPool: ingestPool,
		EmbedPool:  embedPool,
		Metrics:    m,
	}, &biz.IngestionConfig{
		MaxUploadBytes:   cfg.HTTPOptions.MaxUploadBytes,
		EmbedBatchSize:   cfg.RAGOptions.EmbedBatchSize,
		EmbedConcurrency: cfg.RAGOptions.EmbedConcurrency,
		EmbedTimeout:     cfg.RAGOptions.EmbedTimeout,
		Retry: &resilience.Backoff{
			Attempts: retry.MaxAttempts,
			Initial:  retry.InitialDelay,
			Max:      retry.MaxDelay,
			Factor:   retry.Multiplier,
		},
	})

	var answers *biz.AnswerCache
	if rdb != nil && cfg.RedisOptions.AnswerCache {
		answers = biz.NewAnswerCache(rdb, &biz.AnswerCacheConfig{
			Enabled:   true,
			TTL:       cfg.RedisOptions.AnswerTTL,
			KeyPrefix: cfg.RedisOptions.KeyPrefix + "answer:",
		})
	}
	retriever := biz.NewRetriever(index, embedder, chat, answers, &biz.RetrieverConfig{
		MaxTopK:         cfg.RAGOptions.MaxTopK,
		MinScore:        cfg.RAGOptions.MinScore,
		MaxContextChars: cfg.RAGOptions.MaxContextChars,
		PromptTemplate:  cfg.RAGOptions.PromptTemplate,
		SystemPrompt:    cfg.RAGOptions.SystemPrompt,
		EmbedTimeout:    cfg.RAGOptions.EmbedTimeout,
		GenerateTimeout: cfg.RAGOptions.GenerateTimeout,

		SkipGroundingCheck: !cfg.RAGOptions.GroundingCheck,
	})
	logger.Infow("Biz layer initialized",
		"chunk_size", cfg.RAGOptions.ChunkSize,
		"chunk_overlap", cfg.RAGOptions.ChunkOverlap,
		"answer_cache", answers != nil,
	)

	// 9. 恢复上次进程遗留的状态
	if _, err := ingestor.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover interrupted documents: %w", err)
	}
	var repair []string
	if !needRebuild {
		if _, repair, err = ingestor.Reconcile(ctx); err != nil {
			return nil, fmt.Errorf("failed to reconcile vector index: %w", err)
		}
	}

	// 10. 初始化 HTTP 服务器与路由
	httpStats := middleware.NewMetricsCollector(Name, "http")
	h := handler.New(ingestor, retriever, validator.New(), m, httpStats, handler.Config{
		MaxUploadBytes:   cfg.HTTPOptions.MaxUploadBytes,
		DefaultTopK:      cfg.RAGOptions.TopK,
		MetricsNamespace: Name,
		Exporters: []func() string{
			func() string { return pool.Export(Name, ingestPool, embedPool) },
		},
	})
	srv := httpserver.NewServer(cfg.HTTPOptions)
	router.Register(srv.Engine(), h, router.Options{
		MaxUploadBytes: cfg.HTTPOptions.MaxUploadBytes,
		HTTPStats:      httpStats,
	})

	// 组件按添加顺序启动、按相反顺序停止：
	// HTTP 先停止接收请求，维护器随后排空协程池并写最终快照，最后关闭存储。
	mgr := server.NewManager(cfg.HTTPOptions.ShutdownTimeout)
	mgr.Add(
		resourcesHook(db, rdb, tp),
		newIndexMaintainer(index, snapshots, ingestor, m, maintainerConfig{
			Interval: cfg.IndexOptions.SnapshotInterval,
			Rebuild:  needRebuild,
			Repair:   repair,
			Drain:    drainPools(ingestor, cfg.PoolOptions.DrainTimeout, ingestPool, embedPool),
		}),
		srv,
	)
	srv.OnError(mgr.Fail)

	logger.Info("DocAsk service is ready")
	return &Server{mgr: mgr}, nil
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mgr.Run(ctx)
}

func newRedisClient(ctx context.Context, opts *redisopts.Options) goredis.UniversalClient {
	if !opts.Enabled {
		logger.Info("Redis is disabled, caches are off")
		return nil
	}

	client := goredis.NewClient(opts.ClientOptions())
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("failed to connect to redis, caches will be disabled", "addr", opts.Addr(), "error", err.Error())
		_ = client.Close()
		return nil
	}
	logger.Infow("Redis initialized",
		"addr", opts.Addr(),
		"answer_cache", opts.AnswerCache,
		"embedding_cache", opts.EmbeddingCache,
	)
	return client
}

// newEmbedder 创建 Embedding 供应商，由内向外依次包装熔断、限流与缓存。
func newEmbedder(opts *llmopts.ProviderOptions, dim int, redis *redisopts.Options, rdb goredis.UniversalClient) (llm.EmbeddingProvider, error) {
	base, err := llm.NewEmbeddingProvider(opts.Provider, opts.Settings())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if d := base.Dimension(); d > 0 && d != dim {
		return nil, apierrors.ErrConfigInvalid.WithMessagef(
			"embedding provider %s produces %d dimensions but index.dimension is %d", base.Name(), d, dim)
	}

	embedder := base
	if opts.BreakerFailures > 0 {
		embedder = resilience.WrapEmbedder(embedder, resilience.BreakerConfig{
			Threshold: opts.BreakerFailures,
			Cooldown:  opts.BreakerTimeout,
		}, nil)
	}
	if opts.RateLimit > 0 {
		embedder = llm.NewRateLimitedEmbeddingProvider(embedder, opts.RateLimit, opts.RateBurst)
	}
	if rdb != nil && redis.EmbeddingCache {
		embedder = llm.NewCachedEmbeddingProvider(embedder, rdb, &llm.EmbeddingCacheConfig{
			Enabled:   true,
			TTL:       redis.EmbeddingTTL,
			KeyPrefix: redis.KeyPrefix + "emb:",
			Namespace: fmt.Sprintf("%s:%s:%d", opts.Provider, opts.Model, dim),
		})
	}

	logger.Infow("Embedding provider initialized",
		"provider", opts.Provider,
		"model", opts.Model,
		"dimension", dim,
		"rate_limit", opts.RateLimit,
	)
	return embedder, nil
}

func newChat(opts *llmopts.ProviderOptions) (llm.ChatProvider, error) {
	chat, err := llm.NewChatProvider(opts.Provider, opts.Settings())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	if opts.BreakerFailures > 0 {
		chat = resilience.WrapChat(chat, resilience.BreakerConfig{
			Threshold: opts.BreakerFailures,
			Cooldown:  opts.BreakerTimeout,
		}, nil)
	}
	logger.Infow("Chat provider initialized", "provider", opts.Provider, "model", opts.Model)
	return chat, nil
}

// loadIndex 从快照恢复索引。快照损坏或与配置不一致时返回空索引并要求重建。
func loadIndex(ctx context.Context, opts *indexopts.Options) (*vectorindex.SnapshotStore, *vectorindex.Index, bool, error) {
	metric, err := vectorindex.ParseMetric(opts.Metric)
	if err != nil {
		return nil, nil, false, err
	}
	empty := func() (*vectorindex.Index, error) { return vectorindex.New(opts.Dimension, metric) }

	if opts.SnapshotURL == "" {
		idx, err := empty()
		logger.Info("Index snapshots are disabled")
		return nil, idx, false, err
	}

	snapshots := vectorindex.NewSnapshotStore(opts.SnapshotURL)
	restored, err := snapshots.Load(ctx)
	switch {
	case err != nil && apierrors.IsCode(err, apierrors.ErrIndexCorrupted.Code):
		if !opts.RebuildOnCorruption {
			return nil, nil, false, fmt.Errorf("index snapshot %s is corrupted: %w", opts.SnapshotURL, err)
		}
		logger.Warnw("index snapshot is corrupted, rebuilding from retained documents",
			"url", opts.SnapshotURL, "error", err.Error())
		idx, err := empty()
		return snapshots, idx, true, err
	case err != nil:
		return nil, nil, false, fmt.Errorf("failed to load index snapshot: %w", err)
	case restored == nil:
		idx, err := empty()
		logger.Infow("No index snapshot found, starting empty", "url", opts.SnapshotURL)
		return snapshots, idx, false, err
	case restored.Dimension() != opts.Dimension || restored.Metric() != metric:
		logger.Warnw("index snapshot does not match configuration, rebuilding",
			"snapshot_dimension", restored.Dimension(),
			"snapshot_metric", restored.Metric(),
			"dimension", opts.Dimension,
			"metric", metric,
		)
		idx, err := empty()
		return snapshots, idx, true, err
	}

	logger.Infow("Index restored from snapshot", "url", opts.SnapshotURL, "vectors", restored.Len())
	return snapshots, restored, false, nil
}

// resourcesHook 在最后关闭数据库、Redis 与追踪。
func resourcesHook(db *gorm.DB, rdb goredis.UniversalClient, tp *tracing.Provider) server.Hook {
	return server.Hook{
		ID: "resources",
		OnStop: func(ctx context.Context) error {
			var errs []error
			if rdb != nil {
				if err := rdb.Close(); err != nil {
					errs = append(errs, fmt.Errorf("redis: %w", err))
				}
			}
			if err := store.CloseDB(db); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
			if err := tp.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracing: %w", err))
			}
			return utilerrors.NewAggregate(errs)
		},
	}
}

// drainPools 等待进行中的摄取完成后关闭协程池。
func drainPools(ingestor *biz.Ingestor, timeout time.Duration, ingestPool, embedPool *pool.Pool) func(context.Context) error {
	return func(context.Context) error {
		if n := ingestor.InFlight(); n > 0 {
			logger.Infow("waiting for in-flight ingestions", "documents", n)
		}
		// 摄取任务会向向量化池提交批次，先排空摄取池
		return utilerrors.NewAggregate([]error{
			ingestPool.ReleaseTimeout(timeout),
			embedPool.ReleaseTimeout(timeout),
		})
	}
}
