// Package storage provides document database and blob storage options.
package storage

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Options defines where document records and raw uploads are kept.
type Options struct {
	// Driver selects the gorm dialector (sqlite, mysql, postgres).
	Driver string `json:"driver" mapstructure:"driver"`

	// DSN is the driver-specific data source name. For sqlite it is a file
	// path or ":memory:".
	DSN string `json:"-" mapstructure:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `json:"max-open-conns" mapstructure:"max-open-conns"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `json:"max-idle-conns" mapstructure:"max-idle-conns"`

	// ConnMaxLifetime is the maximum time a connection may be reused.
	ConnMaxLifetime time.Duration `json:"conn-max-lifetime" mapstructure:"conn-max-lifetime"`

	// LogLevel is the gorm log level (1 silent, 2 error, 3 warn, 4 info).
	LogLevel int `json:"log-level" mapstructure:"log-level"`

	// SlowThreshold marks queries slower than this as slow.
	SlowThreshold time.Duration `json:"slow-threshold" mapstructure:"slow-threshold"`

	// BlobURL is the afs base URL for retained uploads (file://, mem://, s3://, gs://).
	BlobURL string `json:"blob-url" mapstructure:"blob-url"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Driver:          DriverSQLite,
		DSN:             "_output/docask.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		LogLevel:        2,
		SlowThreshold:   200 * time.Millisecond,
		BlobURL:         "file://localhost/tmp/docask/blobs",
	}
}

// AddFlags adds flags for storage options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "storage."
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Document database driver (sqlite, mysql, postgres).")
	fs.StringVar(&o.DSN, p+"dsn", o.DSN, "Document database DSN; a file path or :memory: for sqlite.")
	fs.IntVar(&o.MaxOpenConns, p+"max-open-conns", o.MaxOpenConns, "Maximum open database connections.")
	fs.IntVar(&o.MaxIdleConns, p+"max-idle-conns", o.MaxIdleConns, "Maximum idle database connections.")
	fs.DurationVar(&o.ConnMaxLifetime, p+"conn-max-lifetime", o.ConnMaxLifetime, "Maximum lifetime of a database connection.")
	fs.IntVar(&o.LogLevel, p+"log-level", o.LogLevel, "Gorm log level (1 silent, 2 error, 3 warn, 4 info).")
	fs.DurationVar(&o.SlowThreshold, p+"slow-threshold", o.SlowThreshold, "Slow query threshold.")
	fs.StringVar(&o.BlobURL, p+"blob-url", o.BlobURL, "Base URL where uploaded files are retained for re-ingestion.")
}

// Validate validates the storage options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be one of sqlite, mysql, postgres, got %q", o.Driver))
	}
	if o.DSN == "" {
		errs = append(errs, fmt.Errorf("storage.dsn is required"))
	}
	if o.BlobURL == "" {
		errs = append(errs, fmt.Errorf("storage.blob-url is required"))
	}
	if o.LogLevel < 1 || o.LogLevel > 4 {
		errs = append(errs, fmt.Errorf("storage.log-level must be between 1 and 4"))
	}
	return errs
}

// Complete completes the storage options with defaults.
func (o *Options) Complete() error {
	if o.MaxIdleConns > o.MaxOpenConns && o.MaxOpenConns > 0 {
		o.MaxIdleConns = o.MaxOpenConns
	}
	return nil
}
