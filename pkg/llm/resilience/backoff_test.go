package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/utils/httpclient"
)

func quick(attempts int) *Backoff {
	return &Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 4 * time.Millisecond, Factor: 2}
}

func TestBackoffWait(t *testing.T) {
	b := &Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 3}
	assert.Equal(t, 100*time.Millisecond, b.wait(1))
	assert.Equal(t, 300*time.Millisecond, b.wait(2))
	assert.Equal(t, 900*time.Millisecond, b.wait(3))
	assert.Equal(t, time.Second, b.wait(4))

	flat := &Backoff{Initial: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, flat.wait(5))
}

func TestDo(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		calls := 0
		require.NoError(t, Do(context.Background(), quick(3), func(int) error { calls++; return nil }))
		assert.Equal(t, 1, calls)
	})

	t.Run("recovers on third attempt", func(t *testing.T) {
		var seen []int
		err := Do(context.Background(), quick(3), func(attempt int) error {
			seen = append(seen, attempt)
			if attempt < 3 {
				return apierrors.ErrEmbeddingUnavailable
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, seen)
	})

	t.Run("exhausted returns last error", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), quick(3), func(int) error {
			calls++
			return apierrors.ErrEmbeddingUnavailable.WithMessagef("attempt %d", calls)
		})
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, apierrors.ErrEmbeddingUnavailable)
		assert.Contains(t, err.Error(), "attempt 3")
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), quick(5), func(int) error {
			calls++
			return apierrors.ErrDimensionMismatch
		})
		assert.ErrorIs(t, err, apierrors.ErrDimensionMismatch)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil policy tries once", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), nil, func(int) error { calls++; return apierrors.ErrTimeout })
		assert.Equal(t, 1, calls)
	})

	t.Run("custom classifier", func(t *testing.T) {
		calls := 0
		b := quick(4)
		b.ShouldRetry = func(error) bool { return true }
		_ = Do(context.Background(), b, func(int) error { calls++; return errDown })
		assert.Equal(t, 4, calls)
	})
}

func TestDo_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backoff{Attempts: 5, Initial: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, b, func(int) error { return apierrors.ErrEmbeddingUnavailable })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do ignored cancellation")
	}
}

func TestDo_WithBreaker(t *testing.T) {
	b, _ := breakerWithClock(2)
	calls := 0
	err := Do(context.Background(), quick(5), func(int) error {
		return b.Run(func() error { calls++; return apierrors.ErrGenerationUnavailable })
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2, calls)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"attempt deadline", context.DeadlineExceeded, true},
		{"breaker open", ErrOpen, false},
		{"dimension mismatch", apierrors.ErrDimensionMismatch, false},
		{"invalid argument", apierrors.ErrInvalidArgument, false},
		{"embedding unavailable", apierrors.ErrEmbeddingUnavailable, true},
		{"wrapped", fmt.Errorf("batch 2: %w", apierrors.ErrEmbeddingUnavailable), true},
		{"http 503", &httpclient.StatusError{StatusCode: http.StatusServiceUnavailable}, true},
		{"http 429", &httpclient.StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"http 400", &httpclient.StatusError{StatusCode: http.StatusBadRequest}, false},
		{"plain", errors.New("bad input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
