package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects lifecycle events across components.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func hook(r *recorder, name string, startErr, stopErr error) Hook {
	return Hook{
		ID: name,
		OnStart: func(context.Context) error {
			r.add("start " + name)
			return startErr
		},
		OnStop: func(context.Context) error {
			r.add("stop " + name)
			return stopErr
		},
	}
}

func TestHook_NilFuncs(t *testing.T) {
	var h Hook
	assert.NoError(t, h.Start(context.Background()))
	assert.NoError(t, h.Stop(context.Background()))
}

func TestManager_StartStopOrder(t *testing.T) {
	r := &recorder{}
	m := NewManager(time.Second)
	m.Add(hook(r, "store", nil, nil), hook(r, "pool", nil, nil), hook(r, "http", nil, nil))

	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{
		"start store", "start pool", "start http",
		"stop http", "stop pool", "stop store",
	}, r.get())
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	r := &recorder{}
	m := NewManager(time.Second)
	m.Add(hook(r, "a", nil, nil), hook(r, "b", errors.New("bind failed"), nil), hook(r, "c", nil, nil))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, r.get())
}

func TestManager_StopAggregatesErrors(t *testing.T) {
	r := &recorder{}
	m := NewManager(time.Second)
	m.Add(hook(r, "a", nil, errors.New("x")), hook(r, "b", nil, errors.New("y")))

	require.NoError(t, m.Start(context.Background()))
	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop a")
	assert.Contains(t, err.Error(), "failed to stop b")
}

func TestManager_RunUntilCancelled(t *testing.T) {
	r := &recorder{}
	m := NewManager(time.Second)
	m.Add(hook(r, "a", nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.get()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"start a", "stop a"}, r.get())
}

func TestManager_RunReturnsComponentFailure(t *testing.T) {
	r := &recorder{}
	m := NewManager(time.Second)
	m.Add(hook(r, "a", nil, nil))

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	require.Eventually(t, func() bool { return len(r.get()) == 1 }, time.Second, 5*time.Millisecond)
	m.Fail(errors.New("serve failed"))
	m.Fail(errors.New("ignored"))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "serve failed")
		assert.NotContains(t, err.Error(), "ignored")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Fail")
	}
	assert.Equal(t, []string{"start a", "stop a"}, r.get())
}
