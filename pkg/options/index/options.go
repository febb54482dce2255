// Package index provides vector index options.
package index

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains vector index configuration.
type Options struct {
	// Dimension is the vector dimension; it must equal the embedder's.
	Dimension int `json:"dimension" mapstructure:"dimension"`

	// Metric is the similarity metric (cosine, inner_product).
	Metric string `json:"metric" mapstructure:"metric"`

	// SnapshotURL is where index snapshots are written. Empty disables persistence.
	SnapshotURL string `json:"snapshot-url" mapstructure:"snapshot-url"`

	// SnapshotInterval is the period of background snapshots; 0 saves only on shutdown.
	SnapshotInterval time.Duration `json:"snapshot-interval" mapstructure:"snapshot-interval"`

	// RebuildOnCorruption rebuilds the index from retained uploads when the
	// snapshot cannot be restored.
	RebuildOnCorruption bool `json:"rebuild-on-corruption" mapstructure:"rebuild-on-corruption"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Dimension:           384,
		Metric:              "cosine",
		SnapshotURL:         "file://localhost/tmp/docask/index.snap",
		SnapshotInterval:    5 * time.Minute,
		RebuildOnCorruption: true,
	}
}

// AddFlags adds flags for index options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "index."
	fs.IntVar(&o.Dimension, p+"dimension", o.Dimension, "Vector dimension; must match the embedding provider.")
	fs.StringVar(&o.Metric, p+"metric", o.Metric, "Similarity metric (cosine, inner_product).")
	fs.StringVar(&o.SnapshotURL, p+"snapshot-url", o.SnapshotURL, "Location of index snapshots; empty disables persistence.")
	fs.DurationVar(&o.SnapshotInterval, p+"snapshot-interval", o.SnapshotInterval, "Period of background snapshots; 0 saves only on shutdown.")
	fs.BoolVar(&o.RebuildOnCorruption, p+"rebuild-on-corruption", o.RebuildOnCorruption, "Rebuild the index from retained uploads when the snapshot is corrupted.")
}

// Validate validates the index options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("index.dimension must be positive"))
	}
	if o.Metric != "cosine" && o.Metric != "inner_product" {
		errs = append(errs, fmt.Errorf("index.metric must be cosine or inner_product, got %q", o.Metric))
	}
	if o.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("index.snapshot-interval must not be negative"))
	}
	return errs
}

// Complete completes the index options with defaults.
func (o *Options) Complete() error {
	return nil
}
