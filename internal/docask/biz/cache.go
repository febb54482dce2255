package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/docask/pkg/utils/json"
)

// AnswerCacheConfig 答案缓存配置。
type AnswerCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// AnswerCache 问答结果缓存。
// 键包含索引代数，索引发生任何插入或删除后旧答案自然失效。键还包含进程
// 纪元：重启后的代数可能与上一进程重合，但对应的文档集合未必相同，因此
// 上一进程写入的答案只能等待过期，不会被命中。
type AnswerCache struct {
	redis  goredis.UniversalClient
	config *AnswerCacheConfig
	epoch  string
}

// NewAnswerCache 创建答案缓存，redis 为 nil 时缓存不生效。
func NewAnswerCache(redis goredis.UniversalClient, config *AnswerCacheConfig) *AnswerCache {
	if config == nil {
		config = &AnswerCacheConfig{
			Enabled:   false,
			TTL:       10 * time.Minute,
			KeyPrefix: "docask:answer:",
		}
	}
	return &AnswerCache{
		redis:  redis,
		config: config,
		epoch:  ulid.Make().String(),
	}
}

func (c *AnswerCache) enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

// normalizeQuestion 合并空白并转小写，避免仅格式不同的问题重复生成。
func normalizeQuestion(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

func (c *AnswerCache) key(question string, topK int, generation uint64) string {
	h := sha256.New()
	h.Write([]byte(c.epoch))
	h.Write([]byte{0})
	h.Write([]byte(normalizeQuestion(question)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatUint(generation, 10)))
	return c.config.KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get 读取缓存答案，未命中返回 (nil, nil)。
func (c *AnswerCache) Get(ctx context.Context, question string, topK int, generation uint64) (*Answer, error) {
	if !c.enabled() {
		return nil, nil
	}

	key := c.key(question, topK, generation)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			logger.Debugw("answer cache miss", "key", key)
			return nil, nil
		}
		return nil, err
	}

	var answer Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		logger.Warnw("failed to unmarshal cached answer", "error", err.Error(), "key", key)
		// 删除损坏的缓存
		_ = c.redis.Del(ctx, key).Err()
		return nil, err
	}

	logger.Debugw("answer cache hit", "key", key)
	return &answer, nil
}

// Set 写入答案缓存。
func (c *AnswerCache) Set(ctx context.Context, question string, topK int, generation uint64, answer *Answer) error {
	if !c.enabled() {
		return nil
	}

	data, err := json.Marshal(answer)
	if err != nil {
		return err
	}

	key := c.key(question, topK, generation)
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		return err
	}
	logger.Debugw("cached answer", "key", key, "ttl", c.config.TTL)
	return nil
}

// Clear 清除全部答案缓存，返回删除的键数量。
func (c *AnswerCache) Clear(ctx context.Context) (int, error) {
	if !c.enabled() {
		return 0, nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete answer cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
