// Package redis holds the Redis connection settings and the two caches that
// live on it.
package redis

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/kart-io/docask/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

const masked = "******"

// Options configures Redis. Redis is optional: with Enabled false both caches
// are off and nothing dials out.
type Options struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	Password     string        `json:"password" mapstructure:"password"`
	Database     int           `json:"database" mapstructure:"database"`
	MaxRetries   int           `json:"max-retries" mapstructure:"max-retries"`
	PoolSize     int           `json:"pool-size" mapstructure:"pool-size"`
	MinIdleConns int           `json:"min-idle-conns" mapstructure:"min-idle-conns"`
	DialTimeout  time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
	ReadTimeout  time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	AnswerCache    bool          `json:"answer-cache" mapstructure:"answer-cache"`
	AnswerTTL      time.Duration `json:"answer-ttl" mapstructure:"answer-ttl"`
	EmbeddingCache bool          `json:"embedding-cache" mapstructure:"embedding-cache"`
	EmbeddingTTL   time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`
	// KeyPrefix is prepended to every key DocAsk writes.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
}

// NewOptions returns the defaults. Redis starts disabled.
func NewOptions() *Options {
	return &Options{
		Host:           "127.0.0.1",
		Port:           6379,
		MaxRetries:     3,
		PoolSize:       10,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		AnswerCache:    true,
		AnswerTTL:      10 * time.Minute,
		EmbeddingCache: true,
		EmbeddingTTL:   24 * time.Hour,
		KeyPrefix:      "docask:",
	}
}

// Addr returns host:port.
func (o *Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// ClientOptions converts the settings for go-redis.
func (o *Options) ClientOptions() *goredis.Options {
	return &goredis.Options{
		Addr:         o.Addr(),
		Password:     o.Password,
		DB:           o.Database,
		MaxRetries:   o.MaxRetries,
		PoolSize:     o.PoolSize,
		MinIdleConns: o.MinIdleConns,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	}
}

// MarshalJSON masks a non-empty password.
func (o *Options) MarshalJSON() ([]byte, error) {
	type plain Options
	c := plain(*o)
	if c.Password != "" {
		c.Password = masked
	}
	return json.Marshal(c)
}

func (o *Options) String() string {
	pw := ""
	if o.Password != "" {
		pw = masked
	}
	return fmt.Sprintf("redis(enabled=%t addr=%s db=%d password=%q)", o.Enabled, o.Addr(), o.Database, pw)
}

// Complete reads REDIS_PASSWORD when no password was configured.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("REDIS_PASSWORD")
	}
	return nil
}

func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	if o.Host == "" {
		errs = append(errs, fmt.Errorf("redis.host is required when redis is enabled"))
	}
	if o.Port < 1 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("redis.port %d is out of range", o.Port))
	}
	if o.PoolSize < 0 || o.MinIdleConns < 0 {
		errs = append(errs, fmt.Errorf("redis.pool-size and redis.min-idle-conns cannot be negative"))
	}
	if o.AnswerCache && o.AnswerTTL <= 0 {
		errs = append(errs, fmt.Errorf("redis.answer-ttl must be positive"))
	}
	if o.EmbeddingCache && o.EmbeddingTTL <= 0 {
		errs = append(errs, fmt.Errorf("redis.embedding-ttl must be positive"))
	}
	return errs
}

func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "redis."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Connect to redis and turn on the answer and embedding caches.")
	fs.StringVar(&o.Host, p+"host", o.Host, "Redis host.")
	fs.IntVar(&o.Port, p+"port", o.Port, "Redis port.")
	fs.StringVar(&o.Password, p+"password", o.Password, "Redis password. REDIS_PASSWORD is read when empty.")
	fs.IntVar(&o.Database, p+"database", o.Database, "Redis logical database.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Retries per redis command.")
	fs.IntVar(&o.PoolSize, p+"pool-size", o.PoolSize, "Redis connection pool size.")
	fs.IntVar(&o.MinIdleConns, p+"min-idle-conns", o.MinIdleConns, "Idle redis connections kept open.")
	fs.DurationVar(&o.DialTimeout, p+"dial-timeout", o.DialTimeout, "Redis dial timeout.")
	fs.DurationVar(&o.ReadTimeout, p+"read-timeout", o.ReadTimeout, "Redis read timeout.")
	fs.DurationVar(&o.WriteTimeout, p+"write-timeout", o.WriteTimeout, "Redis write timeout.")
	fs.BoolVar(&o.AnswerCache, p+"answer-cache", o.AnswerCache, "Cache ask answers.")
	fs.DurationVar(&o.AnswerTTL, p+"answer-ttl", o.AnswerTTL, "Lifetime of a cached answer.")
	fs.BoolVar(&o.EmbeddingCache, p+"embedding-cache", o.EmbeddingCache, "Cache embedding vectors by text.")
	fs.DurationVar(&o.EmbeddingTTL, p+"embedding-ttl", o.EmbeddingTTL, "Lifetime of a cached embedding.")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Prefix of every redis key DocAsk writes.")
}
