// Package rag provides ingestion and retrieval options.
package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// DefaultPromptTemplate is the generation prompt; {{context}} and
// {{question}} are substituted at ask time.
const DefaultPromptTemplate = `Answer the question using ONLY the information in the context below.
If the answer cannot be found in the context, respond with "I don't know".

Context:
{{context}}

Question: {{question}}

Answer (use only the context above):`

// MinContextChars is the smallest accepted context budget. Smaller budgets
// cannot hold an excerpt header plus any text.
const MinContextChars = 128

// Options contains ingestion and retrieval configuration.
type Options struct {
	// ChunkSize is the target chunk length in runes.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the number of runes shared by consecutive chunks.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the default number of retrieved chunks.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// MaxTopK caps the top_k a caller may request.
	MaxTopK int `json:"max-top-k" mapstructure:"max-top-k"`

	// MinScore drops hits scoring below it; 0 keeps every hit.
	MinScore float64 `json:"min-score" mapstructure:"min-score"`

	// MaxContextChars bounds the assembled context in runes.
	MaxContextChars int `json:"max-context-chars" mapstructure:"max-context-chars"`

	// PromptTemplate is the generation prompt template.
	PromptTemplate string `json:"prompt-template" mapstructure:"prompt-template"`

	// GroundingCheck replaces answers not supported by the context with a
	// low-confidence reply.
	GroundingCheck bool `json:"grounding-check" mapstructure:"grounding-check"`

	// SystemPrompt is sent as the system message when non-empty.
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// EmbedBatchSize is the number of chunks per embedding request.
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// EmbedConcurrency is the number of batches of one document embedded in parallel.
	EmbedConcurrency int `json:"embed-concurrency" mapstructure:"embed-concurrency"`

	// EmbedTimeout bounds a single embedding attempt.
	EmbedTimeout time.Duration `json:"embed-timeout" mapstructure:"embed-timeout"`

	// GenerateTimeout bounds the generation call.
	GenerateTimeout time.Duration `json:"generate-timeout" mapstructure:"generate-timeout"`

	// Retry configures retries of embedding batches during ingestion.
	Retry *RetryOptions `json:"retry" mapstructure:"retry"`
}

// RetryOptions 摄取阶段 Embedding 重试配置。
type RetryOptions struct {
	MaxAttempts  int           `json:"max-attempts" mapstructure:"max-attempts"`
	InitialDelay time.Duration `json:"initial-delay" mapstructure:"initial-delay"`
	MaxDelay     time.Duration `json:"max-delay" mapstructure:"max-delay"`
	Multiplier   float64       `json:"multiplier" mapstructure:"multiplier"`
}

// NewRetryOptions 创建默认重试配置。
func NewRetryOptions() *RetryOptions {
	return &RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:        1000,
		ChunkOverlap:     200,
		TopK:             3,
		MaxTopK:          20,
		MinScore:         0,
		MaxContextChars:  4000,
		PromptTemplate:   DefaultPromptTemplate,
		GroundingCheck:   true,
		EmbedBatchSize:   32,
		EmbedConcurrency: 4,
		EmbedTimeout:     30 * time.Second,
		GenerateTimeout:  120 * time.Second,
		Retry:            NewRetryOptions(),
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "rag."
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Target chunk length in characters.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Characters shared by consecutive chunks.")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Default number of chunks retrieved per question.")
	fs.IntVar(&o.MaxTopK, p+"max-top-k", o.MaxTopK, "Upper bound applied to a requested top_k.")
	fs.Float64Var(&o.MinScore, p+"min-score", o.MinScore, "Drop retrieved chunks scoring below this value; 0 disables the filter.")
	fs.IntVar(&o.MaxContextChars, p+"max-context-chars", o.MaxContextChars, "Maximum characters of retrieved context sent to the generator.")
	fs.StringVar(&o.PromptTemplate, p+"prompt-template", o.PromptTemplate, "Generation prompt template with {{context}} and {{question}}.")
	fs.BoolVar(&o.GroundingCheck, p+"grounding-check", o.GroundingCheck, "Reply with a low-confidence answer when the generated text is not supported by the context.")
	fs.StringVar(&o.SystemPrompt, p+"system-prompt", o.SystemPrompt, "Optional system prompt for the generator.")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Chunks per embedding request.")
	fs.IntVar(&o.EmbedConcurrency, p+"embed-concurrency", o.EmbedConcurrency, "Embedding batches of one document run in parallel.")
	fs.DurationVar(&o.EmbedTimeout, p+"embed-timeout", o.EmbedTimeout, "Timeout of a single embedding attempt.")
	fs.DurationVar(&o.GenerateTimeout, p+"generate-timeout", o.GenerateTimeout, "Timeout of the generation call.")

	if o.Retry == nil {
		o.Retry = NewRetryOptions()
	}
	fs.IntVar(&o.Retry.MaxAttempts, p+"retry.max-attempts", o.Retry.MaxAttempts, "Attempts per embedding batch during ingestion.")
	fs.DurationVar(&o.Retry.InitialDelay, p+"retry.initial-delay", o.Retry.InitialDelay, "Delay before the first retry.")
	fs.DurationVar(&o.Retry.MaxDelay, p+"retry.max-delay", o.Retry.MaxDelay, "Upper bound of the retry delay.")
	fs.Float64Var(&o.Retry.Multiplier, p+"retry.multiplier", o.Retry.Multiplier, "Backoff multiplier between retries.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size)"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top-k must be positive"))
	}
	if o.MaxTopK < o.TopK {
		errs = append(errs, fmt.Errorf("rag.max-top-k must be at least rag.top-k"))
	}
	if o.MaxContextChars < MinContextChars {
		errs = append(errs, fmt.Errorf("rag.max-context-chars must be at least %d", MinContextChars))
	}
	if !strings.Contains(o.PromptTemplate, "{{context}}") || !strings.Contains(o.PromptTemplate, "{{question}}") {
		errs = append(errs, fmt.Errorf("rag.prompt-template must contain {{context}} and {{question}}"))
	}
	if o.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.embed-batch-size must be positive"))
	}
	if o.EmbedConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("rag.embed-concurrency must be positive"))
	}
	if o.EmbedTimeout <= 0 || o.GenerateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rag.embed-timeout and rag.generate-timeout must be positive"))
	}
	if o.Retry != nil {
		if o.Retry.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("rag.retry.max-attempts must be positive"))
		}
		if o.Retry.Multiplier < 1 {
			errs = append(errs, fmt.Errorf("rag.retry.multiplier must be at least 1"))
		}
	}
	return errs
}

// Complete completes the RAG options with defaults.
func (o *Options) Complete() error {
	if o.Retry == nil {
		o.Retry = NewRetryOptions()
	}
	if o.PromptTemplate == "" {
		o.PromptTemplate = DefaultPromptTemplate
	}
	return nil
}
