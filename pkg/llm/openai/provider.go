// Package openai 接入 OpenAI 兼容接口的向量化与生成供应商。
// 任何实现 /embeddings 与 /chat/completions 的服务都可以通过 BaseURL 接入。
package openai

import (
	"context"
	"strings"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/llm"
	"github.com/kart-io/docask/pkg/utils/httpclient"
)

// ProviderName 注册名。
const ProviderName = "openai"

// DefaultBaseURL 未配置地址时使用的官方接口。
const DefaultBaseURL = "https://api.openai.com/v1"

func init() {
	llm.Register(ProviderName, llm.Factory{
		Embedding: func(s llm.Settings) (llm.EmbeddingProvider, error) { return NewEmbedder(s) },
		Chat:      func(s llm.Settings) (llm.ChatProvider, error) { return NewChat(s) },
	})
}

// endpoint 两类供应商共用的连接。
type endpoint struct {
	base   string
	model  string
	client *httpclient.Client
}

func newEndpoint(s llm.Settings) (endpoint, error) {
	if s.APIKey == "" {
		return endpoint{}, apierrors.ErrConfigInvalid.WithMessage("openai: api key is required")
	}
	if s.Model == "" {
		return endpoint{}, apierrors.ErrConfigInvalid.WithMessage("openai: model is required")
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return endpoint{
		base:  strings.TrimRight(base, "/"),
		model: s.Model,
		client: httpclient.New(s.Timeout,
			httpclient.WithBearer(s.APIKey),
			httpclient.WithHeader("OpenAI-Organization", s.Organization),
		),
	}, nil
}

// Embedder 调用 /embeddings。
type Embedder struct {
	endpoint
	dimensions int
}

// NewEmbedder 创建向量化供应商。Dimensions 非零时随请求发送。
func NewEmbedder(s llm.Settings) (*Embedder, error) {
	ep, err := newEndpoint(s)
	if err != nil {
		return nil, err
	}
	return &Embedder{endpoint: ep, dimensions: s.Dimensions}, nil
}

func (e *Embedder) Name() string { return ProviderName }

func (e *Embedder) Dimension() int { return e.dimensions }

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed 结果按 index 字段放回输入顺序，服务端返回顺序不可信。
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var resp embeddingsResponse
	req := embeddingsRequest{Model: e.model, Input: texts, Dimensions: e.dimensions}
	if err := e.client.PostJSON(ctx, e.base+"/embeddings", req, &resp); err != nil {
		return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apierrors.ErrEmbeddingUnavailable.WithMessagef(
			"openai: %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) || out[item.Index] != nil {
			return nil, apierrors.ErrEmbeddingUnavailable.WithMessagef("openai: bad embedding index %d", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}

func (e *Embedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Chat 调用 /chat/completions，不使用流式输出。
type Chat struct {
	endpoint
}

// NewChat 创建生成供应商。
func NewChat(s llm.Settings) (*Chat, error) {
	ep, err := newEndpoint(s)
	if err != nil {
		return nil, err
	}
	return &Chat{endpoint: ep}, nil
}

func (c *Chat) Name() string { return ProviderName }

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Chat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	var resp completionResponse
	req := completionRequest{Model: c.model, Messages: messages}
	if err := c.client.PostJSON(ctx, c.base+"/chat/completions", req, &resp); err != nil {
		return "", apierrors.ErrGenerationUnavailable.WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return "", apierrors.ErrGenerationUnavailable.WithMessage("openai: no choices in completion")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Chat) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return c.Chat(ctx, llm.Conversation(systemPrompt, prompt))
}
