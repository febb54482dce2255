// Package tracing holds the OpenTelemetry exporter options.
package tracing

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Exporter names.
const (
	ExporterOTLPGRPC = "otlp_grpc"
	ExporterOTLPHTTP = "otlp_http"
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

var exporters = []string{ExporterOTLPGRPC, ExporterOTLPHTTP, ExporterStdout, ExporterNoop}

// Options configures span export. Sampling follows the parent decision and
// samples root spans with SampleRatio.
type Options struct {
	Enabled      bool              `json:"enabled" mapstructure:"enabled"`
	ServiceName  string            `json:"service-name" mapstructure:"service-name"`
	Environment  string            `json:"environment" mapstructure:"environment"`
	Exporter     string            `json:"exporter" mapstructure:"exporter"`
	Endpoint     string            `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool              `json:"insecure" mapstructure:"insecure"`
	Headers      map[string]string `json:"headers" mapstructure:"headers"`
	SampleRatio  float64           `json:"sample-ratio" mapstructure:"sample-ratio"`
	BatchTimeout time.Duration     `json:"batch-timeout" mapstructure:"batch-timeout"`
}

// NewOptions returns tracing disabled, with an OTLP/gRPC exporter to a local
// collector ready to be switched on.
func NewOptions() *Options {
	return &Options{
		ServiceName:  "docask",
		Environment:  "development",
		Exporter:     ExporterOTLPGRPC,
		Endpoint:     "localhost:4317",
		Insecure:     true,
		Headers:      map[string]string{},
		SampleRatio:  1,
		BatchTimeout: 5 * time.Second,
	}
}

// AddFlags registers the tracing.* flags.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "tracing."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Export OpenTelemetry spans.")
	fs.StringVar(&o.ServiceName, p+"service-name", o.ServiceName, "service.name resource attribute.")
	fs.StringVar(&o.Environment, p+"environment", o.Environment, "deployment.environment resource attribute.")
	fs.StringVar(&o.Exporter, p+"exporter", o.Exporter, "Span exporter: otlp_grpc, otlp_http, stdout or noop.")
	fs.StringVar(&o.Endpoint, p+"endpoint", o.Endpoint, "OTLP collector host:port.")
	fs.BoolVar(&o.Insecure, p+"insecure", o.Insecure, "Connect to the collector without TLS.")
	fs.StringToStringVar(&o.Headers, p+"headers", o.Headers, "Extra OTLP headers as key=value.")
	fs.Float64Var(&o.SampleRatio, p+"sample-ratio", o.SampleRatio, "Fraction of root spans sampled, 0 to 1.")
	fs.DurationVar(&o.BatchTimeout, p+"batch-timeout", o.BatchTimeout, "Longest wait before a span batch is exported.")
}

// Validate checks the options only when tracing is enabled.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	if o.ServiceName == "" {
		errs = append(errs, fmt.Errorf("tracing.service-name is required"))
	}
	if !slices.Contains(exporters, o.Exporter) {
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not one of %v", o.Exporter, exporters))
	}
	if (o.Exporter == ExporterOTLPGRPC || o.Exporter == ExporterOTLPHTTP) && o.Endpoint == "" {
		errs = append(errs, fmt.Errorf("tracing.endpoint is required for %s", o.Exporter))
	}
	if o.SampleRatio < 0 || o.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample-ratio must be within [0, 1], got %g", o.SampleRatio))
	}
	if o.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tracing.batch-timeout must be positive"))
	}
	return errs
}

// Complete fills nil maps.
func (o *Options) Complete() error {
	if o.Headers == nil {
		o.Headers = map[string]string{}
	}
	return nil
}
