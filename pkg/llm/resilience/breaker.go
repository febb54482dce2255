// Package resilience 为模型调用提供熔断与退避重试。
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// ErrOpen 熔断器处于打开状态，调用未被执行。
var ErrOpen = errors.New("circuit breaker is open")

// State 熔断器状态。
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// BreakerConfig 熔断器配置。
type BreakerConfig struct {
	// Threshold 连续失败多少次后打开。
	Threshold int
	// Cooldown 打开后多久允许探测。
	Cooldown time.Duration
	// Probes 半开状态下允许同时进行的探测调用数。
	Probes int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	return c
}

// Breaker 按连续失败计数的熔断器。
type Breaker struct {
	name  string
	cfg   BreakerConfig
	clock func() time.Time

	mu          sync.Mutex
	state       State
	consecutive int
	retryAt     time.Time
	probing     int
}

// NewBreaker 创建熔断器，name 只出现在日志里。
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), clock: time.Now}
}

// Run 在熔断器允许时执行 fn。调用方取消的请求既不算成功也不算失败。
func (b *Breaker) Run(fn func() error) error {
	probe, ok := b.acquire()
	if !ok {
		return ErrOpen
	}
	err := fn()
	b.release(probe, err)
	return err
}

// acquire 返回调用是否为半开探测以及是否放行。
func (b *Breaker) acquire() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.clock().Before(b.retryAt) {
			return false, false
		}
		b.transition(HalfOpen)
	}
	if b.state == HalfOpen {
		if b.probing >= b.cfg.Probes {
			return true, false
		}
		b.probing++
		return true, true
	}
	return false, true
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 探测期间状态可能已被其他调用改变
	wasProbe := probe && b.state == HalfOpen
	if wasProbe {
		b.probing--
	}

	switch {
	case errors.Is(err, context.Canceled):
	case err == nil:
		b.consecutive = 0
		if wasProbe {
			b.transition(Closed)
		}
	default:
		b.consecutive++
		if wasProbe || b.consecutive >= b.cfg.Threshold {
			b.retryAt = b.clock().Add(b.cfg.Cooldown)
			b.transition(Open)
		}
	}
}

// transition 调用方持有 mu。
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	logger.Infow("circuit breaker state changed",
		"breaker", b.name,
		"from", b.state.String(),
		"to", to.String(),
		"consecutive_failures", b.consecutive,
	)
	b.state = to
	if to != HalfOpen {
		b.probing = 0
	}
}

// State 返回当前状态，不触发状态迁移。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures 返回连续失败次数。
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Reset 强制回到关闭状态。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.transition(Closed)
}
