// Package pool provides worker pool options.
package pool

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options sizes the ingestion and embedding worker pools.
type Options struct {
	// IngestWorkers is the number of documents ingested asynchronously at once.
	IngestWorkers int `json:"ingest-workers" mapstructure:"ingest-workers"`

	// IngestQueue is the number of asynchronous uploads allowed to wait.
	IngestQueue int `json:"ingest-queue" mapstructure:"ingest-queue"`

	// EmbedWorkers is the number of embedding batches in flight process-wide.
	EmbedWorkers int `json:"embed-workers" mapstructure:"embed-workers"`

	// ExpiryDuration is the idle time after which a worker goroutine exits.
	ExpiryDuration time.Duration `json:"expiry-duration" mapstructure:"expiry-duration"`

	// DrainTimeout bounds waiting for running tasks on shutdown.
	DrainTimeout time.Duration `json:"drain-timeout" mapstructure:"drain-timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		IngestWorkers:  4,
		IngestQueue:    64,
		EmbedWorkers:   8,
		ExpiryDuration: 60 * time.Second,
		DrainTimeout:   30 * time.Second,
	}
}

// AddFlags adds flags for pool options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "pool."
	fs.IntVar(&o.IngestWorkers, p+"ingest-workers", o.IngestWorkers, "Documents ingested asynchronously at once.")
	fs.IntVar(&o.IngestQueue, p+"ingest-queue", o.IngestQueue, "Asynchronous uploads allowed to wait for a worker.")
	fs.IntVar(&o.EmbedWorkers, p+"embed-workers", o.EmbedWorkers, "Embedding batches in flight across all documents.")
	fs.DurationVar(&o.ExpiryDuration, p+"expiry-duration", o.ExpiryDuration, "Idle time before a worker goroutine exits.")
	fs.DurationVar(&o.DrainTimeout, p+"drain-timeout", o.DrainTimeout, "Time to wait for running tasks on shutdown.")
}

// Validate validates the pool options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.IngestWorkers <= 0 {
		errs = append(errs, fmt.Errorf("pool.ingest-workers must be positive"))
	}
	if o.IngestQueue < 0 {
		errs = append(errs, fmt.Errorf("pool.ingest-queue must not be negative"))
	}
	if o.EmbedWorkers <= 0 {
		errs = append(errs, fmt.Errorf("pool.embed-workers must be positive"))
	}
	return errs
}

// Complete completes the pool options with defaults.
func (o *Options) Complete() error {
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
	return nil
}
