package resilience

import (
	"context"
	"errors"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/llm"
)

// Embedder 在熔断器之后调用向量化供应商。
type Embedder struct {
	next    llm.EmbeddingProvider
	backoff *Backoff
	breaker *Breaker
}

var _ llm.EmbeddingProvider = (*Embedder)(nil)

// WrapEmbedder 包装向量化供应商。backoff 为 nil 时只尝试一次，
// 批次重试由摄取流水线负责。
func WrapEmbedder(next llm.EmbeddingProvider, cfg BreakerConfig, backoff *Backoff) *Embedder {
	return &Embedder{
		next:    next,
		backoff: backoff,
		breaker: NewBreaker(next.Name()+"/embedding", cfg),
	}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := Do(ctx, e.backoff, func(int) error {
		return e.breaker.Run(func() error {
			var err error
			out, err = e.next.Embed(ctx, texts)
			return err
		})
	})
	if errors.Is(err, ErrOpen) {
		return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
	}
	return out, err
}

func (e *Embedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, apierrors.ErrEmbeddingUnavailable.WithMessagef("expected 1 vector, got %d", len(out))
	}
	return out[0], nil
}

func (e *Embedder) Dimension() int { return e.next.Dimension() }

func (e *Embedder) Name() string { return e.next.Name() }

// Breaker 返回熔断器，用于观察状态。
func (e *Embedder) Breaker() *Breaker { return e.breaker }

// Chat 在熔断器之后调用生成供应商。
type Chat struct {
	next    llm.ChatProvider
	backoff *Backoff
	breaker *Breaker
}

var _ llm.ChatProvider = (*Chat)(nil)

// WrapChat 包装生成供应商。backoff 为 nil 时只尝试一次。
func WrapChat(next llm.ChatProvider, cfg BreakerConfig, backoff *Backoff) *Chat {
	return &Chat{
		next:    next,
		backoff: backoff,
		breaker: NewBreaker(next.Name()+"/chat", cfg),
	}
}

func (c *Chat) call(ctx context.Context, fn func() (string, error)) (string, error) {
	var out string
	err := Do(ctx, c.backoff, func(int) error {
		return c.breaker.Run(func() error {
			var err error
			out, err = fn()
			return err
		})
	})
	if errors.Is(err, ErrOpen) {
		return "", apierrors.ErrGenerationUnavailable.WithCause(err)
	}
	return out, err
}

func (c *Chat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return c.call(ctx, func() (string, error) { return c.next.Chat(ctx, messages) })
}

func (c *Chat) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return c.call(ctx, func() (string, error) { return c.next.Generate(ctx, prompt, systemPrompt) })
}

func (c *Chat) Name() string { return c.next.Name() }

// Breaker 返回熔断器，用于观察状态。
func (c *Chat) Breaker() *Breaker { return c.breaker }
