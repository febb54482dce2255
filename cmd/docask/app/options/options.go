// Package options contains flags and options for initializing the DocAsk server.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/docask/internal/docask"
	cliflag "github.com/kart-io/docask/pkg/app/cliflag"
	indexopts "github.com/kart-io/docask/pkg/options/index"
	llmopts "github.com/kart-io/docask/pkg/options/llm"
	logopts "github.com/kart-io/docask/pkg/options/logger"
	poolopts "github.com/kart-io/docask/pkg/options/pool"
	ragopts "github.com/kart-io/docask/pkg/options/rag"
	redisopts "github.com/kart-io/docask/pkg/options/redis"
	httpopts "github.com/kart-io/docask/pkg/options/server/http"
	storageopts "github.com/kart-io/docask/pkg/options/storage"
	tracingopts "github.com/kart-io/docask/pkg/options/tracing"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RAGOptions contains chunking, retrieval and prompt configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// IndexOptions contains vector index and snapshot configuration.
	IndexOptions *indexopts.Options `json:"index" mapstructure:"index"`

	// StorageOptions contains document record and blob storage configuration.
	StorageOptions *storageopts.Options `json:"storage" mapstructure:"storage"`

	// RedisOptions contains answer and embedding cache configuration.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// PoolOptions contains worker pool configuration.
	PoolOptions *poolopts.Options `json:"pool" mapstructure:"pool"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		RAGOptions:       ragopts.NewOptions(),
		IndexOptions:     indexopts.NewOptions(),
		StorageOptions:   storageopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		TracingOptions:   tracingopts.NewOptions(),
		PoolOptions:      poolopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.RAGOptions.AddFlags(fss.FlagSet("rag"))
	o.IndexOptions.AddFlags(fss.FlagSet("index"))
	o.StorageOptions.AddFlags(fss.FlagSet("storage"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.PoolOptions.AddFlags(fss.FlagSet("pool"))
	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	completers := []struct {
		name string
		fn   func() error
	}{
		{"http", o.HTTPOptions.Complete},
		{"log", o.LogOptions.Complete},
		{"embedding", o.EmbeddingOptions.Complete},
		{"chat", o.ChatOptions.Complete},
		{"rag", o.RAGOptions.Complete},
		{"index", o.IndexOptions.Complete},
		{"storage", o.StorageOptions.Complete},
		{"redis", o.RedisOptions.Complete},
		{"tracing", o.TracingOptions.Complete},
		{"pool", o.PoolOptions.Complete},
	}
	for _, c := range completers {
		if err := c.fn(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.RAGOptions.Validate()...)
	errs = append(errs, o.IndexOptions.Validate()...)
	errs = append(errs, o.StorageOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.TracingOptions.Validate()...)
	errs = append(errs, o.PoolOptions.Validate()...)

	if d := o.EmbeddingOptions.Dimensions; d > 0 && o.IndexOptions.Dimension > 0 && d != o.IndexOptions.Dimension {
		errs = append(errs, fmt.Errorf("embedding.dimensions (%d) must equal index.dimension (%d)", d, o.IndexOptions.Dimension))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds a docask.Config based on ServerOptions.
func (o *ServerOptions) Config() (*docask.Config, error) {
	return &docask.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		RAGOptions:       o.RAGOptions,
		IndexOptions:     o.IndexOptions,
		StorageOptions:   o.StorageOptions,
		RedisOptions:     o.RedisOptions,
		TracingOptions:   o.TracingOptions,
		PoolOptions:      o.PoolOptions,
	}, nil
}
