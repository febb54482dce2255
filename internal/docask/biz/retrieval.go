package biz

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/docask/internal/docask/metrics"
	"github.com/kart-io/docask/internal/pkg/docask/vectorindex"
	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/infra/tracing"
	"github.com/kart-io/docask/pkg/llm"
)

// NoRelevantInformation 没有检索到相关片段时的固定回答。
const NoRelevantInformation = "I couldn't find any relevant information to answer your question."

// Answer 问答结果。
type Answer struct {
	// Text 生成的回答。
	Text string `json:"answer"`
	// Sources 放入上下文的片段原文，顺序与上下文一致。
	Sources []string `json:"sources"`
	// RelevantDocs 预留的扩展字段，当前不填充。
	RelevantDocs []string `json:"relevant_docs,omitempty"`
}

// RetrieverConfig 问答配置。
type RetrieverConfig struct {
	// MaxTopK top_k 的上限。
	MaxTopK int
	// MinScore 低于该得分的片段被丢弃，0 表示不过滤。
	MinScore float64
	// MaxContextChars 上下文字符预算。
	MaxContextChars int
	// PromptTemplate 生成提示模板，包含 {{context}} 与 {{question}}。
	PromptTemplate string
	// SystemPrompt 系统提示，可为空。
	SystemPrompt string
	// EmbedTimeout 问题向量化超时。
	EmbedTimeout time.Duration
	// GenerateTimeout 生成超时。
	GenerateTimeout time.Duration
	// SkipGroundingCheck 为 true 时直接返回模型回答，不校验其是否有上下文依据。
	SkipGroundingCheck bool
}

// Retriever 问答编排器。
type Retriever struct {
	index    *vectorindex.Index
	embedder llm.EmbeddingProvider
	chat     llm.ChatProvider
	cache    *AnswerCache
	metrics  *metrics.Metrics
	config   *RetrieverConfig
}

// NewRetriever 创建问答编排器。cache 可为 nil。
func NewRetriever(
	index *vectorindex.Index,
	embedder llm.EmbeddingProvider,
	chat llm.ChatProvider,
	cache *AnswerCache,
	config *RetrieverConfig,
) *Retriever {
	if config == nil {
		config = &RetrieverConfig{}
	}
	if config.MaxTopK <= 0 {
		config.MaxTopK = 20
	}
	if config.EmbedTimeout <= 0 {
		config.EmbedTimeout = 30 * time.Second
	}
	if config.GenerateTimeout <= 0 {
		config.GenerateTimeout = 120 * time.Second
	}
	if config.PromptTemplate == "" {
		config.PromptTemplate = "Answer the question using ONLY the context below. " +
			"If the answer is not in the context, say \"I don't know\".\n\n" +
			"Context:\n{{context}}\n\nQuestion: {{question}}\n\nAnswer:"
	}
	return &Retriever{
		index:    index,
		embedder: embedder,
		chat:     chat,
		cache:    cache,
		metrics:  metrics.Get(),
		config:   config,
	}
}

// Ask 基于索引内容回答问题。
func (r *Retriever) Ask(ctx context.Context, question string, topK int) (answer *Answer, err error) {
	if strings.TrimSpace(question) == "" {
		return nil, apierrors.ErrInvalidArgument.WithMessage("question must not be empty")
	}
	if topK <= 0 {
		return nil, apierrors.ErrInvalidArgument.WithMessagef("top_k must be positive, got %d", topK)
	}
	if topK > r.config.MaxTopK {
		topK = r.config.MaxTopK
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "ask", attribute.Int(tracing.AttrTopK, topK))
	var cacheHit, noHits bool
	defer func() {
		r.metrics.RecordAsk(cacheHit, noHits, err)
		span.SetAttributes(attribute.Bool(tracing.AttrCacheHit, cacheHit))
		tracing.EndSpan(span, err)
	}()

	generation := r.index.Generation()
	if cached, cerr := r.cache.Get(ctx, question, topK, generation); cerr != nil {
		logger.Warnw("answer cache lookup failed", "error", cerr.Error())
	} else if cached != nil {
		cacheHit = true
		return cached, nil
	}

	hits, err := r.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrHits, len(hits)))
	if len(hits) == 0 {
		noHits = true
		logger.Infow("no relevant chunks for question", "top_k", topK, "vectors", r.index.Len())
		return &Answer{Text: NoRelevantInformation, Sources: []string{}}, nil
	}

	block := BuildContext(hits, r.config.MaxContextChars)
	if len(block.Excerpts) == 0 {
		// 预算连一个片段头都放不下
		noHits = true
		logger.Warnw("context budget holds no excerpt", "max_context_chars", r.config.MaxContextChars)
		return &Answer{Text: NoRelevantInformation, Sources: []string{}}, nil
	}
	prompt := RenderPrompt(r.config.PromptTemplate, block.Text, question)

	text, err := r.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	answer = &Answer{Text: text, Sources: block.Excerpts}
	if !r.config.SkipGroundingCheck && !IsGrounded(text, block.Excerpts) {
		logger.Infow("generated answer is not grounded in context", "context_chunks", len(block.Excerpts))
		answer = &Answer{Text: NotConfident, Sources: []string{}}
	}
	if cerr := r.cache.Set(ctx, question, topK, generation, answer); cerr != nil {
		logger.Warnw("failed to cache answer", "error", cerr.Error())
	}

	logger.Infow("question answered",
		"top_k", topK,
		"hits", len(hits),
		"context_chunks", len(block.Excerpts),
		"truncated", block.Truncated,
		"elapsed", time.Since(start).String(),
	)
	return answer, nil
}

// Retrieve 向量化问题并返回得分不低于 MinScore 的片段，按得分降序排列。
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (hits []vectorindex.Hit, err error) {
	// 空索引无需调用向量化服务
	if r.index.Len() == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() { r.metrics.RecordRetrieval(time.Since(start), err) }()

	ectx, cancel := context.WithTimeout(ctx, r.config.EmbedTimeout)
	defer cancel()
	query, err := r.embedder.EmbedSingle(ectx, question)
	if err != nil {
		if apierrors.IsCode(err, apierrors.ErrEmbeddingUnavailable.Code) {
			return nil, err
		}
		return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
	}

	hits, err = r.index.Search(query, topK)
	if err != nil {
		return nil, err
	}

	if r.config.MinScore > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= r.config.MinScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	return hits, nil
}

func (r *Retriever) generate(ctx context.Context, prompt string) (text string, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordGeneration(time.Since(start), err) }()

	gctx, cancel := context.WithTimeout(ctx, r.config.GenerateTimeout)
	defer cancel()

	text, err = r.chat.Generate(gctx, prompt, r.config.SystemPrompt)
	if err != nil {
		if apierrors.IsCode(err, apierrors.ErrGenerationUnavailable.Code) {
			return "", err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apierrors.ErrGenerationUnavailable.WithMessagef("generation timed out after %s", r.config.GenerateTimeout)
		}
		return "", apierrors.ErrGenerationUnavailable.WithCause(err)
	}
	return text, nil
}
