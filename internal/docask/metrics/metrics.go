// Package metrics 收集 DocAsk 的业务指标并导出为 Prometheus 文本格式。
package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// timed 统计一类带耗时的调用，只有成功的调用计入耗时。
type timed struct {
	calls  atomic.Uint64
	errors atomic.Uint64
	nanos  atomic.Int64
}

func (t *timed) observe(d time.Duration, err error) {
	t.calls.Add(1)
	if err != nil {
		t.errors.Add(1)
		return
	}
	t.nanos.Add(int64(d))
}

func (t *timed) seconds() float64 { return time.Duration(t.nanos.Load()).Seconds() }

// avg 按总调用次数求平均。
func (t *timed) avg() float64 {
	n := t.calls.Load()
	if n == 0 {
		return 0
	}
	return t.seconds() / float64(n)
}

func (t *timed) reset() {
	t.calls.Store(0)
	t.errors.Store(0)
	t.nanos.Store(0)
}

// Metrics DocAsk 业务指标，零值不可用，请使用 New。
type Metrics struct {
	asks        atomic.Uint64
	askErrors   atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	noHits      atomic.Uint64

	retrieval  timed
	generation timed
	ingest     timed

	ingested     atomic.Uint64
	failed       atomic.Uint64
	chunks       atomic.Uint64
	embedRetries atomic.Uint64
	rollbacks    atomic.Uint64

	vectors       atomic.Int64
	snapshots     atomic.Uint64
	snapshotFails atomic.Uint64

	started atomic.Int64
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Get 返回进程级共享实例。
func Get() *Metrics {
	globalOnce.Do(func() { global = New() })
	return global
}

// New 创建独立实例。
func New() *Metrics {
	m := &Metrics{}
	m.started.Store(time.Now().UnixNano())
	return m
}

// RecordAsk 记录一次提问，失败的提问不计入缓存统计。
func (m *Metrics) RecordAsk(cacheHit, noHits bool, err error) {
	m.asks.Add(1)
	switch {
	case err != nil:
		m.askErrors.Add(1)
		return
	case cacheHit:
		m.cacheHits.Add(1)
	default:
		m.cacheMisses.Add(1)
	}
	if noHits {
		m.noHits.Add(1)
	}
}

// RecordRetrieval 记录问题嵌入加向量搜索。
func (m *Metrics) RecordRetrieval(d time.Duration, err error) { m.retrieval.observe(d, err) }

// RecordGeneration 记录一次生成调用。
func (m *Metrics) RecordGeneration(d time.Duration, err error) { m.generation.observe(d, err) }

// RecordIngestion 记录一次摄取的最终结果，失败文档的片段不计入。
func (m *Metrics) RecordIngestion(d time.Duration, chunks int, failed bool) {
	m.ingest.calls.Add(1)
	m.ingest.nanos.Add(int64(d))
	if failed {
		m.failed.Add(1)
		return
	}
	m.ingested.Add(1)
	m.chunks.Add(uint64(chunks))
}

func (m *Metrics) RecordEmbedRetry() { m.embedRetries.Add(1) }

func (m *Metrics) RecordRollback() { m.rollbacks.Add(1) }

func (m *Metrics) RecordSnapshot(err error) {
	if err != nil {
		m.snapshotFails.Add(1)
		return
	}
	m.snapshots.Add(1)
}

// SetIndexSize 更新索引中的向量数。
func (m *Metrics) SetIndexSize(n int) { m.vectors.Store(int64(n)) }

func (m *Metrics) uptime() float64 {
	return time.Since(time.Unix(0, m.started.Load())).Seconds()
}

func (m *Metrics) hitRate() float64 {
	hits, misses := m.cacheHits.Load(), m.cacheMisses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Export 以 namespace[_subsystem]_ 为前缀输出全部指标。
func (m *Metrics) Export(namespace, subsystem string) string {
	prefix := namespace + "_"
	if subsystem != "" {
		prefix += subsystem + "_"
	}

	var sb strings.Builder
	emit := func(name, kind, help, value string) {
		name = prefix + name
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n%s %s\n\n", name, help, name, kind, name, value)
	}
	count := func(name, help string, v uint64) { emit(name, "counter", help, strconv.FormatUint(v, 10)) }
	secs := func(name, help string, v float64) { emit(name, "counter", help, strconv.FormatFloat(v, 'f', 6, 64)) }

	count("asks_total", "Questions asked.", m.asks.Load())
	count("asks_cache_hits_total", "Answers served from cache.", m.cacheHits.Load())
	count("asks_cache_misses_total", "Answers not found in cache.", m.cacheMisses.Load())
	count("asks_no_hits_total", "Questions that matched no chunk.", m.noHits.Load())
	count("asks_errors_total", "Questions that failed.", m.askErrors.Load())
	emit("cache_hit_rate", "gauge", "Answer cache hit ratio between 0 and 1.", strconv.FormatFloat(m.hitRate(), 'f', 4, 64))

	count("retrieval_total", "Retrievals run.", m.retrieval.calls.Load())
	secs("retrieval_duration_seconds_total", "Time spent in successful retrievals.", m.retrieval.seconds())
	count("retrieval_errors_total", "Retrievals that failed.", m.retrieval.errors.Load())
	count("generation_total", "Generation calls made.", m.generation.calls.Load())
	secs("generation_duration_seconds_total", "Time spent in successful generation calls.", m.generation.seconds())
	count("generation_errors_total", "Generation calls that failed.", m.generation.errors.Load())

	count("documents_ingested_total", "Documents that reached ready.", m.ingested.Load())
	count("documents_failed_total", "Documents that ended failed.", m.failed.Load())
	count("chunks_indexed_total", "Chunks written to the vector index.", m.chunks.Load())
	secs("ingest_duration_seconds_total", "Time spent ingesting documents.", m.ingest.seconds())
	count("embed_retries_total", "Embedding batches retried.", m.embedRetries.Load())
	count("index_rollbacks_total", "Partial index writes rolled back.", m.rollbacks.Load())

	emit("index_vectors", "gauge", "Vectors held by the index.", strconv.FormatInt(m.vectors.Load(), 10))
	count("snapshots_saved_total", "Index snapshots written.", m.snapshots.Load())
	count("snapshot_errors_total", "Index snapshots that failed.", m.snapshotFails.Load())
	emit("uptime_seconds", "gauge", "Seconds since the metrics were created or reset.", strconv.FormatFloat(m.uptime(), 'f', 2, 64))
	return sb.String()
}

// Stats 返回给 /stats 接口的分组统计。
func (m *Metrics) Stats() map[string]any {
	return map[string]any{
		"asks": map[string]any{
			"total":        m.asks.Load(),
			"cache_hits":   m.cacheHits.Load(),
			"cache_misses": m.cacheMisses.Load(),
			"no_hits":      m.noHits.Load(),
			"errors":       m.askErrors.Load(),
		},
		"retrieval": map[string]any{
			"total":             m.retrieval.calls.Load(),
			"avg_duration_secs": m.retrieval.avg(),
			"errors":            m.retrieval.errors.Load(),
		},
		"generation": map[string]any{
			"total":             m.generation.calls.Load(),
			"avg_duration_secs": m.generation.avg(),
			"errors":            m.generation.errors.Load(),
		},
		"ingestion": map[string]any{
			"documents_ingested": m.ingested.Load(),
			"documents_failed":   m.failed.Load(),
			"chunks_indexed":     m.chunks.Load(),
			"embed_retries":      m.embedRetries.Load(),
			"rollbacks":          m.rollbacks.Load(),
		},
		"index_vectors":  m.vectors.Load(),
		"uptime_seconds": m.uptime(),
	}
}

// Reset 清零所有指标，测试使用。
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.asks, &m.askErrors, &m.cacheHits, &m.cacheMisses, &m.noHits,
		&m.ingested, &m.failed, &m.chunks, &m.embedRetries, &m.rollbacks,
		&m.snapshots, &m.snapshotFails,
	} {
		c.Store(0)
	}
	m.retrieval.reset()
	m.generation.reset()
	m.ingest.reset()
	m.vectors.Store(0)
	m.started.Store(time.Now().UnixNano())
}
