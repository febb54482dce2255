package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/utils/json"
)

// EmbeddingCacheConfig 向量缓存配置。
type EmbeddingCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	// KeyPrefix 所有缓存键的前缀，ClearCache 按它删除。
	KeyPrefix string
	// Namespace 区分供应商、模型和维度，为空时使用供应商名称。
	Namespace string
}

// CachedEmbeddingProvider 以 redis 缓存每段文本的向量。
// 一批输入中已命中的直接返回，其余合并为一次底层调用。
// redis 出错时只记日志，退回底层供应商。
type CachedEmbeddingProvider struct {
	next   EmbeddingProvider
	rdb    goredis.UniversalClient
	ttl    time.Duration
	prefix string
	ns     string
	on     bool
}

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)

// NewCachedEmbeddingProvider rdb 或 cfg 为 nil 时缓存关闭。
func NewCachedEmbeddingProvider(next EmbeddingProvider, rdb goredis.UniversalClient, cfg *EmbeddingCacheConfig) *CachedEmbeddingProvider {
	c := &CachedEmbeddingProvider{next: next, rdb: rdb}
	if cfg != nil {
		c.on = cfg.Enabled && rdb != nil
		c.ttl = cfg.TTL
		c.prefix = cfg.KeyPrefix
		c.ns = cfg.Namespace
	}
	if c.ns == "" {
		c.ns = next.Name()
	}
	return c
}

func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + c.ns + ":" + hex.EncodeToString(sum[:])
}

// lookup 返回命中的向量，未命中的位置为 nil。
func (c *CachedEmbeddingProvider) lookup(ctx context.Context, keys []string) [][]float32 {
	hits := make([][]float32, len(keys))
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warnw("embedding cache unavailable", "error", err.Error())
		return hits
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), &hits[i]); err != nil {
			logger.Warnw("discarding unreadable cached embedding", "key", keys[i], "error", err.Error())
			hits[i] = nil
			_ = c.rdb.Del(ctx, keys[i]).Err()
		}
	}
	return hits
}

func (c *CachedEmbeddingProvider) store(ctx context.Context, keys []string, vectors [][]float32) {
	pipe := c.rdb.Pipeline()
	for i, vec := range vectors {
		data, err := json.Marshal(vec)
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warnw("failed to write embedding cache", "count", len(keys), "error", err.Error())
	}
}

func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if !c.on {
		return c.next.Embed(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.cacheKey(t)
	}
	out := c.lookup(ctx, keys)

	var (
		missing   []int
		missTexts []string
		missKeys  []string
	)
	for i, v := range out {
		if v == nil {
			missing = append(missing, i)
			missTexts = append(missTexts, texts[i])
			missKeys = append(missKeys, keys[i])
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		// 数量错误由调用方校验，不缓存
		return fresh, nil
	}
	for j, i := range missing {
		out[i] = fresh[j]
	}
	c.store(ctx, missKeys, fresh)
	logger.Debugw("embedding cache", "texts", len(texts), "misses", len(missing))
	return out, nil
}

func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, apierrors.ErrEmbeddingUnavailable.WithMessagef("expected 1 vector, got %d", len(out))
	}
	return out[0], nil
}

func (c *CachedEmbeddingProvider) Dimension() int { return c.next.Dimension() }

func (c *CachedEmbeddingProvider) Name() string { return c.next.Name() + "-cached" }

// ClearCache 删除前缀下的所有缓存向量。
func (c *CachedEmbeddingProvider) ClearCache(ctx context.Context) error {
	if !c.on {
		return nil
	}
	var deleted int
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err == nil {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	logger.Infow("embedding cache cleared", "deleted", deleted)
	return nil
}
