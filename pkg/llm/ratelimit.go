package llm

import (
	"context"

	"golang.org/x/time/rate"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

// RateLimitedEmbeddingProvider 按请求数限制对底层供应商的调用频率。
// 等待被取消或超出截止时间时返回 ErrEmbeddingUnavailable。
type RateLimitedEmbeddingProvider struct {
	provider EmbeddingProvider
	limiter  *rate.Limiter
}

// NewRateLimitedEmbeddingProvider 创建限流包装器，rps <= 0 表示不限流。
func NewRateLimitedEmbeddingProvider(provider EmbeddingProvider, rps float64, burst int) EmbeddingProvider {
	if rps <= 0 {
		return provider
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbeddingProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed 等待令牌后调用底层供应商。
func (p *RateLimitedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
	}
	return p.provider.Embed(ctx, texts)
}

// EmbedSingle 等待令牌后调用底层供应商。
func (p *RateLimitedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
	}
	return p.provider.EmbedSingle(ctx, text)
}

// Dimension 返回底层 provider 的维度。
func (p *RateLimitedEmbeddingProvider) Dimension() int { return p.provider.Dimension() }

// Name 返回底层 provider 的名称。
func (p *RateLimitedEmbeddingProvider) Name() string { return p.provider.Name() }
