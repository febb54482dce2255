// Package ollama 接入本地 Ollama 服务。
package ollama

import (
	"context"
	"strings"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/llm"
	"github.com/kart-io/docask/pkg/utils/httpclient"
)

const (
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434"
)

func init() {
	llm.Register(ProviderName, llm.Factory{
		Embedding: func(s llm.Settings) (llm.EmbeddingProvider, error) { return NewEmbedder(s) },
		Chat:      func(s llm.Settings) (llm.ChatProvider, error) { return NewChat(s) },
	})
}

type server struct {
	base   string
	model  string
	client *httpclient.Client
}

func dial(s llm.Settings) (server, error) {
	if s.Model == "" {
		return server{}, apierrors.ErrConfigInvalid.WithMessage("ollama: model is required")
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return server{
		base:   strings.TrimRight(base, "/"),
		model:  s.Model,
		client: httpclient.New(s.Timeout),
	}, nil
}

// Embedder 调用 /api/embed。Ollama 不支持指定维度，Dimensions 只用于声明。
type Embedder struct {
	server
	dimensions int
}

func NewEmbedder(s llm.Settings) (*Embedder, error) {
	srv, err := dial(s)
	if err != nil {
		return nil, err
	}
	return &Embedder{server: srv, dimensions: s.Dimensions}, nil
}

func (e *Embedder) Name() string   { return ProviderName }
func (e *Embedder) Dimension() int { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	req := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{e.model, texts}
	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.PostJSON(ctx, e.base+"/api/embed", req, &resp); err != nil {
		return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apierrors.ErrEmbeddingUnavailable.WithMessagef(
			"ollama: %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (e *Embedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Chat 多轮对话走 /api/chat，单轮生成走 /api/generate。
type Chat struct {
	server
}

func NewChat(s llm.Settings) (*Chat, error) {
	srv, err := dial(s)
	if err != nil {
		return nil, err
	}
	return &Chat{server: srv}, nil
}

func (c *Chat) Name() string { return ProviderName }

func (c *Chat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	req := struct {
		Model    string        `json:"model"`
		Messages []llm.Message `json:"messages"`
		Stream   bool          `json:"stream"`
	}{Model: c.model, Messages: messages}
	var resp struct {
		Message llm.Message `json:"message"`
	}
	if err := c.client.PostJSON(ctx, c.base+"/api/chat", req, &resp); err != nil {
		return "", apierrors.ErrGenerationUnavailable.WithCause(err)
	}
	return resp.Message.Content, nil
}

func (c *Chat) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	req := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		System string `json:"system,omitempty"`
		Stream bool   `json:"stream"`
	}{Model: c.model, Prompt: prompt, System: systemPrompt}
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.client.PostJSON(ctx, c.base+"/api/generate", req, &resp); err != nil {
		return "", apierrors.ErrGenerationUnavailable.WithCause(err)
	}
	return resp.Response, nil
}
