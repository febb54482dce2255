// Package http configures the public HTTP listener.
package http

import (
	"fmt"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

var modes = []string{gin.DebugMode, gin.ReleaseMode, gin.TestMode}

// Options configures the listener and its timeouts.
type Options struct {
	Addr        string        `json:"addr" mapstructure:"addr"`
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	// WriteTimeout covers a synchronous upload, which embeds the whole
	// document before replying.
	WriteTimeout    time.Duration `json:"write-timeout" mapstructure:"write-timeout"`
	IdleTimeout     time.Duration `json:"idle-timeout" mapstructure:"idle-timeout"`
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
	MaxUploadBytes  int64         `json:"max-upload-bytes" mapstructure:"max-upload-bytes"`
	// Mode is the gin mode.
	Mode string `json:"mode" mapstructure:"mode"`
}

func NewOptions() *Options {
	return &Options{
		Addr:            ":8000",
		ReadTimeout:     time.Minute,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxUploadBytes:  50 << 20,
		Mode:            gin.ReleaseMode,
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "http."
	fs.StringVar(&o.Addr, p+"addr", o.Addr, "Address the API listens on.")
	fs.DurationVar(&o.ReadTimeout, p+"read-timeout", o.ReadTimeout, "Limit for reading a whole request, body included.")
	fs.DurationVar(&o.WriteTimeout, p+"write-timeout", o.WriteTimeout, "Limit for writing a response. Synchronous uploads need a long one.")
	fs.DurationVar(&o.IdleTimeout, p+"idle-timeout", o.IdleTimeout, "How long a keep-alive connection may stay idle.")
	fs.DurationVar(&o.ShutdownTimeout, p+"shutdown-timeout", o.ShutdownTimeout, "Grace period for in-flight work on shutdown.")
	fs.Int64Var(&o.MaxUploadBytes, p+"max-upload-bytes", o.MaxUploadBytes, "Largest accepted upload in bytes.")
	fs.StringVar(&o.Mode, p+"mode", o.Mode, "Gin mode: debug, release or test.")
}

// Complete restores the shutdown grace period when it was zeroed.
func (o *Options) Complete() error {
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = NewOptions().ShutdownTimeout
	}
	return nil
}

func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Addr == "" {
		errs = append(errs, fmt.Errorf("http.addr is required"))
	}
	for name, d := range map[string]time.Duration{"read-timeout": o.ReadTimeout, "write-timeout": o.WriteTimeout} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("http.%s must be positive, got %s", name, d))
		}
	}
	if o.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("http.max-upload-bytes must be positive"))
	}
	if !slices.Contains(modes, o.Mode) {
		errs = append(errs, fmt.Errorf("http.mode %q is not one of %v", o.Mode, modes))
	}
	return errs
}
