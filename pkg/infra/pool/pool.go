package pool

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Config 池配置。
type Config struct {
	// Capacity 同时运行的任务数上限
	Capacity int
	// ExpiryDuration 空闲 worker 的回收时间
	ExpiryDuration time.Duration
	// Nonblocking 为 true 时池满立即返回 ErrPoolOverload
	Nonblocking bool
	// MaxBlockingTasks 阻塞模式下允许排队的提交数，0 表示不限
	MaxBlockingTasks int
}

// Validate 校验配置。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidPoolConfig)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidPoolConfig, c.Capacity)
	}
	if c.ExpiryDuration < 0 {
		return fmt.Errorf("%w: expiry duration must not be negative", ErrInvalidPoolConfig)
	}
	return nil
}

// Stats 池统计快照。
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Panics    int64 `json:"panics"`
	Running   int   `json:"running"`
	Capacity  int   `json:"capacity"`
}

// Pool 命名的 ants 协程池。
type Pool struct {
	name string
	pool *ants.Pool

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64

	mu     sync.Mutex
	closed atomic.Bool
}

// NewPool 创建协程池。任务 panic 会被记录并计数，不会终止进程。
func NewPool(name string, config *Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{name: name}
	pool, err := ants.NewPool(config.Capacity,
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(func(v any) {
			p.panics.Add(1)
			logger.Errorw("worker panic recovered", "pool", name, "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create pool %s: %w", name, err)
	}
	p.pool = pool

	logger.Infow("Worker pool created",
		"name", name,
		"capacity", config.Capacity,
		"max_blocking_tasks", config.MaxBlockingTasks,
		"nonblocking", config.Nonblocking,
	)
	return p, nil
}

// Name 返回池名称。
func (p *Pool) Name() string { return p.name }

// Submit 提交任务。池满时返回 ErrPoolOverload，关闭后返回 ErrPoolClosed。
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	switch {
	case err == nil:
		p.submitted.Add(1)
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		p.rejected.Add(1)
		return ErrPoolOverload
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	default:
		return err
	}
}

// Release 立即关闭池，不等待运行中的任务。
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return
	}
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 关闭池并等待运行中的任务结束，最多等待 timeout。
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	err := p.pool.ReleaseTimeout(timeout)
	if err != nil {
		logger.Warnw("Worker pool released before tasks finished", "name", p.name, "running", p.pool.Running())
		return fmt.Errorf("pool %s: %w", p.name, err)
	}
	logger.Infow("Worker pool released", "name", p.name)
	return nil
}

// Stats 返回统计快照。
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
		Running:   p.pool.Running(),
		Capacity:  p.pool.Cap(),
	}
}

// Export 以 Prometheus 文本格式导出各池的统计，按池名排序。
func Export(namespace string, pools ...*Pool) string {
	sorted := append([]*Pool(nil), pools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	prefix := "pool"
	if namespace != "" {
		prefix = namespace + "_pool"
	}
	series := []struct {
		name, kind, help string
		value            func(Stats) int64
	}{
		{"running", "gauge", "Tasks currently running.", func(s Stats) int64 { return int64(s.Running) }},
		{"capacity", "gauge", "Maximum concurrent tasks.", func(s Stats) int64 { return int64(s.Capacity) }},
		{"submitted_total", "counter", "Tasks accepted by the pool.", func(s Stats) int64 { return s.Submitted }},
		{"completed_total", "counter", "Tasks that finished.", func(s Stats) int64 { return s.Completed }},
		{"rejected_total", "counter", "Tasks rejected because the pool was full.", func(s Stats) int64 { return s.Rejected }},
		{"panics_total", "counter", "Tasks that panicked.", func(s Stats) int64 { return s.Panics }},
	}

	stats := make([]Stats, len(sorted))
	for i, p := range sorted {
		stats[i] = p.Stats()
	}

	var sb strings.Builder
	for _, m := range series {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n# TYPE %s_%s %s\n", prefix, m.name, m.help, prefix, m.name, m.kind)
		for i, p := range sorted {
			fmt.Fprintf(&sb, "%s_%s{pool=%q} %d\n", prefix, m.name, p.name, m.value(stats[i]))
		}
	}
	return sb.String()
}
