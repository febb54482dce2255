// Package llm provides embedding and chat provider options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	provider "github.com/kart-io/docask/pkg/llm"
	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// Kind 区分 Embedding 与 Chat 配置。
type Kind string

const (
	KindEmbedding Kind = "embedding"
	KindChat      Kind = "chat"
)

// ProviderOptions 定义单个 LLM 供应商配置。
type ProviderOptions struct {
	kind Kind

	// Provider 供应商名称（openai, ollama, hash）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥，为空时读取 OPENAI_API_KEY。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Dimensions 向量维度，仅 Embedding 使用，0 表示使用模型默认值。
	Dimensions int `json:"dimensions" mapstructure:"dimensions"`

	// Timeout 单次请求的 HTTP 超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// RateLimit 每秒请求数上限，0 表示不限制。
	RateLimit float64 `json:"rate-limit" mapstructure:"rate-limit"`

	// RateBurst 突发请求数。
	RateBurst int `json:"rate-burst" mapstructure:"rate-burst"`

	// BreakerFailures 熔断前允许的连续失败次数，0 表示不启用熔断。
	BreakerFailures int `json:"breaker-failures" mapstructure:"breaker-failures"`

	// BreakerTimeout 熔断打开后的冷却时间。
	BreakerTimeout time.Duration `json:"breaker-timeout" mapstructure:"breaker-timeout"`
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
// 默认使用本地特征哈希，无需外部服务即可运行。
func NewEmbeddingOptions() *ProviderOptions {
	return &ProviderOptions{
		kind:            KindEmbedding,
		Provider:        "hash",
		BaseURL:         "http://localhost:11434",
		Model:           "nomic-embed-text",
		Dimensions:      384,
		Timeout:         60 * time.Second,
		RateBurst:       1,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	return &ProviderOptions{
		kind:            KindChat,
		Provider:        "ollama",
		BaseURL:         "http://localhost:11434",
		Model:           "llama3.2",
		Timeout:         120 * time.Second,
		RateBurst:       1,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Kind 返回配置类别。
func (o *ProviderOptions) Kind() Kind {
	return o.kind
}

// Settings 转换为供应商构造参数。生成配置不携带维度。
func (o *ProviderOptions) Settings() provider.Settings {
	s := provider.Settings{
		BaseURL:      o.BaseURL,
		APIKey:       o.APIKey,
		Model:        o.Model,
		Organization: o.Organization,
		Timeout:      o.Timeout,
	}
	if o.kind == KindEmbedding {
		s.Dimensions = o.Dimensions
	}
	return s
}

// AddFlags adds flags for the provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + string(o.kind) + "."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Provider name (openai, ollama, hash).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Provider API key (falls back to OPENAI_API_KEY).")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "HTTP timeout of a single provider request.")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "Organization ID (openai, optional).")
	fs.Float64Var(&o.RateLimit, p+"rate-limit", o.RateLimit, "Requests per second sent to the provider, 0 for unlimited.")
	fs.IntVar(&o.RateBurst, p+"rate-burst", o.RateBurst, "Burst size of the provider rate limit.")
	fs.IntVar(&o.BreakerFailures, p+"breaker-failures", o.BreakerFailures, "Consecutive failures that open the circuit breaker, 0 disables it.")
	fs.DurationVar(&o.BreakerTimeout, p+"breaker-timeout", o.BreakerTimeout, "Time an open circuit breaker waits before probing again.")
	if o.kind == KindEmbedding {
		fs.IntVar(&o.Dimensions, p+"dimensions", o.Dimensions, "Embedding dimension; must equal index.dimension.")
	}
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	name := string(o.kind)
	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("%s.provider is required", name))
	}
	if o.Provider != "hash" {
		if o.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base-url is required", name))
		}
		if o.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", name))
		}
	}
	if o.Provider == "openai" && o.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api-key is required for openai provider", name))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", name))
	}
	if o.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%s.rate-limit must not be negative", name))
	}
	if o.kind == KindEmbedding && o.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("%s.dimensions must not be negative", name))
	}
	return errs
}

// Complete completes the provider options with defaults.
func (o *ProviderOptions) Complete() error {
	if o.APIKey == "" && o.Provider == "openai" {
		o.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	return nil
}
