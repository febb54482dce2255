package docask

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docask/internal/docask/biz"
	"github.com/kart-io/docask/internal/docask/metrics"
	"github.com/kart-io/docask/internal/pkg/docask/vectorindex"
)

// maintainerConfig 索引维护配置。
type maintainerConfig struct {
	// Interval 周期快照间隔，0 表示只在停止时保存。
	Interval time.Duration
	// Rebuild 启动后在后台重建整个索引。
	Rebuild bool
	// Repair 启动后在后台补齐的文档。
	Repair []string
	// Drain 在最终快照之前等待进行中的摄取结束，可为 nil。
	Drain func(ctx context.Context) error
}

// indexMaintainer 负责启动后的后台重建或修复、周期快照以及停止时的最终快照。
type indexMaintainer struct {
	index     *vectorindex.Index
	snapshots *vectorindex.SnapshotStore
	ingestor  *biz.Ingestor
	metrics   *metrics.Metrics
	config    maintainerConfig

	cancel context.CancelFunc
	done   chan struct{}
	// saveMu 串行化快照写入
	saveMu sync.Mutex
	// saved 最近一次成功快照时的索引代数
	saved uint64
}

func newIndexMaintainer(
	index *vectorindex.Index,
	snapshots *vectorindex.SnapshotStore,
	ingestor *biz.Ingestor,
	m *metrics.Metrics,
	config maintainerConfig,
) *indexMaintainer {
	return &indexMaintainer{
		index:     index,
		snapshots: snapshots,
		ingestor:  ingestor,
		metrics:   m,
		config:    config,
		saved:     index.Generation(),
	}
}

// Name implements server.Runnable.
func (m *indexMaintainer) Name() string { return "index-maintainer" }

// Start 启动后台循环后立即返回。
func (m *indexMaintainer) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.restore(ctx)
		m.loop(ctx)
	}()
	return nil
}

// Stop 取消后台工作、排空摄取，然后保存最终快照。
func (m *indexMaintainer) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.config.Drain != nil {
		if err := m.config.Drain(ctx); err != nil {
			logger.Warnw("ingestion did not drain before shutdown", "error", err.Error())
		}
	}
	return m.save(ctx, true)
}

func (m *indexMaintainer) restore(ctx context.Context) {
	var (
		result *biz.RebuildResult
		err    error
	)
	switch {
	case m.config.Rebuild:
		result, err = m.ingestor.Rebuild(ctx)
	case len(m.config.Repair) > 0:
		result, err = m.ingestor.Repair(ctx, m.config.Repair)
	default:
		return
	}
	if err != nil {
		logger.Errorw("background index restore stopped", "error", err.Error())
		return
	}
	logger.Infow("background index restore finished",
		"documents", result.Documents,
		"ingested", result.Ingested,
		"failed", result.Failed,
	)
	_ = m.save(ctx, false)
}

func (m *indexMaintainer) loop(ctx context.Context) {
	if m.snapshots == nil || m.config.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.save(ctx, false)
		}
	}
}

// save 在索引自上次快照后发生变化时写入快照。force 为 true 时总是写入。
func (m *indexMaintainer) save(ctx context.Context, force bool) error {
	if m.snapshots == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	gen := m.index.Generation()
	if !force && gen == m.saved {
		return nil
	}

	start := time.Now()
	err := m.snapshots.Save(ctx, m.index)
	m.metrics.RecordSnapshot(err)
	if err != nil {
		logger.Errorw("failed to save index snapshot", "url", m.snapshots.URL(), "error", err.Error())
		return err
	}
	m.saved = gen
	logger.Infow("index snapshot saved",
		"url", m.snapshots.URL(),
		"vectors", m.index.Len(),
		"elapsed", time.Since(start).String(),
	)
	return nil
}
