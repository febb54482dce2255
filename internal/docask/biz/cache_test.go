package biz

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 辅助函数：创建测试用 Redis 客户端
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 使用测试专用数据库
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis 不可用，跳过测试")
	}
	client.FlushDB(ctx)
	return client
}

func testCacheConfig() *AnswerCacheConfig {
	return &AnswerCacheConfig{Enabled: true, TTL: time.Minute, KeyPrefix: "test:docask:"}
}

func TestNewAnswerCache_WithNilConfig(t *testing.T) {
	cache := NewAnswerCache(nil, nil)
	require.NotNil(t, cache)
	assert.False(t, cache.config.Enabled)
	assert.Equal(t, 10*time.Minute, cache.config.TTL)
	assert.Equal(t, "docask:answer:", cache.config.KeyPrefix)
}

func TestAnswerCache_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	var nilCache *AnswerCache
	for _, cache := range []*AnswerCache{nilCache, NewAnswerCache(nil, testCacheConfig())} {
		got, err := cache.Get(ctx, "q", 3, 1)
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, cache.Set(ctx, "q", 3, 1, &Answer{Text: "a"}))
		n, err := cache.Clear(ctx)
		assert.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestAnswerCache_Key(t *testing.T) {
	cache := NewAnswerCache(nil, testCacheConfig())

	base := cache.key("What is RAG?", 3, 7)
	assert.Equal(t, base, cache.key("  what   is rag? ", 3, 7), "whitespace and case are normalized")
	assert.NotEqual(t, base, cache.key("What is RAG?", 4, 7))
	assert.NotEqual(t, base, cache.key("What is RAG?", 3, 8))
	assert.NotEqual(t, base, cache.key("什么是 RAG？", 3, 7))
	assert.Contains(t, base, "test:docask:")
}

func TestAnswerCache_SetGet(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	cache := NewAnswerCache(client, testCacheConfig())

	answer := &Answer{Text: "Paris.", Sources: []string{"Paris is the capital of France."}}
	require.NoError(t, cache.Set(ctx, "capital of France?", 3, 5, answer))

	got, err := cache.Get(ctx, "Capital of  France?", 3, 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, answer, got)

	// 索引代数变化后旧答案不再命中
	got, err = cache.Get(ctx, "capital of France?", 3, 6)
	require.NoError(t, err)
	assert.Nil(t, got)

	ttl := client.TTL(ctx, cache.key("capital of France?", 3, 5)).Val()
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestAnswerCache_CorruptEntryIsDropped(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	cache := NewAnswerCache(client, testCacheConfig())
	key := cache.key("q", 1, 1)
	require.NoError(t, client.Set(ctx, key, "{not json", time.Minute).Err())

	_, err := cache.Get(ctx, "q", 1, 1)
	assert.Error(t, err)
	assert.Zero(t, client.Exists(ctx, key).Val())
}

func TestAnswerCache_Clear(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	cache := NewAnswerCache(client, testCacheConfig())
	for _, q := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Set(ctx, q, 3, 1, &Answer{Text: q}))
	}
	require.NoError(t, client.Set(ctx, "other:key", "x", time.Minute).Err())

	n, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(1), client.Exists(ctx, "other:key").Val())
}

func TestAsk_UsesCache(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()

	chat := &fakeChat{answer: "Paris."}
	r, idx := newTestRetriever(t, chat, nil, true)
	r.cache = NewAnswerCache(client, testCacheConfig())
	ctx := context.Background()

	first, err := r.Ask(ctx, "capital of France", 2)
	require.NoError(t, err)
	second, err := r.Ask(ctx, "capital of France", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, chat.calls())

	// 索引变化后重新生成
	idx.RemoveDocument("d2")
	_, err = r.Ask(ctx, "capital of France", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, chat.calls())
}

func TestAnswerCache_KeyDiffersAcrossProcesses(t *testing.T) {
	before := NewAnswerCache(nil, testCacheConfig())
	after := NewAnswerCache(nil, testCacheConfig())

	assert.NotEqual(t, before.key("What is RAG?", 3, 7), after.key("What is RAG?", 3, 7))
}

func TestAnswerCache_RestartDoesNotServeOldAnswers(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	// 上一进程在代数 2 时缓存了答案
	previous := NewAnswerCache(client, testCacheConfig())
	require.NoError(t, previous.Set(ctx, "who wrote it?", 3, 2, &Answer{Text: "old", Sources: []string{"deleted doc"}}))

	// 重启后经过两次变更，代数再次来到 2
	current := NewAnswerCache(client, testCacheConfig())
	got, err := current.Get(ctx, "who wrote it?", 3, 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}
