package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/kart-io/logger"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/utils/httpclient"
)

// Backoff 指数退避重试策略。
type Backoff struct {
	// Attempts 总尝试次数，包含第一次。
	Attempts int
	// Initial 第一次重试前的等待。
	Initial time.Duration
	// Max 单次等待上限，0 表示不限。
	Max time.Duration
	// Factor 每次重试等待的倍数。
	Factor float64
	// ShouldRetry 判断错误是否可重试，为空时使用 Retryable。
	ShouldRetry func(error) bool
}

// Once 只尝试一次的策略。
func Once() *Backoff {
	return &Backoff{Attempts: 1}
}

// wait 返回第 n 次失败之后的等待时间，n 从 1 开始。
func (b *Backoff) wait(n int) time.Duration {
	d := float64(b.Initial)
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	for range n - 1 {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Do 按策略执行 fn 直到成功、遇到不可重试的错误或次数耗尽。
// 次数耗尽时返回最后一次的错误本身。ctx 结束时返回 ctx.Err()。
func Do(ctx context.Context, b *Backoff, fn func(attempt int) error) error {
	if b == nil {
		b = Once()
	}
	retry := b.ShouldRetry
	if retry == nil {
		retry = Retryable
	}
	attempts := max(b.Attempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !retry(err) {
			if attempt > 1 {
				logger.Warnw("giving up after retries", "attempts", attempt, "error", err.Error())
			}
			return err
		}

		delay := b.wait(attempt)
		logger.Debugw("retrying", "attempt", attempt, "delay", delay.String(), "error", err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Retryable 判断错误是否可能在重试后消失。
// 参数错误与维度不一致每次都会以同样的方式失败。
func Retryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrOpen),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		// 单次尝试的超时
		return true
	}

	var status *httpclient.StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var errno *apierrors.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno.Code {
	case apierrors.ErrEmbeddingUnavailable.Code,
		apierrors.ErrGenerationUnavailable.Code,
		apierrors.ErrTimeout.Code,
		apierrors.ErrServiceUnavailable.Code:
		return true
	}
	return false
}
