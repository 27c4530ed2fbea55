package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllRespectsConcurrencyLimit(t *testing.T) {
	const limit = 3
	var active, peak int64

	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = Task{
			Key: fmt.Sprintf("task-%d", i),
			Run: func(context.Context) error {
				n := atomic.AddInt64(&active, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			},
		}
	}

	err := New().RunAll(context.Background(), tasks, limit, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int64(limit))
}

func TestRunAllIsolatesFailures(t *testing.T) {
	var completed int64
	var mu sync.Mutex
	var failures []string

	boom := errors.New("navigation failed")
	tasks := []Task{
		{Key: "ok-1", Run: func(context.Context) error { atomic.AddInt64(&completed, 1); return nil }},
		{Key: "bad", Run: func(context.Context) error { return boom }},
		{Key: "ok-2", Run: func(context.Context) error { atomic.AddInt64(&completed, 1); return nil }},
	}

	err := New().RunAll(context.Background(), tasks, 2, func(_ context.Context, key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, key)
		assert.ErrorIs(t, err, boom)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), completed)
	assert.Equal(t, []string{"bad"}, failures)
}

func TestRunAllIsolatesPanics(t *testing.T) {
	var completed int64
	var mu sync.Mutex
	var panicked []string

	tasks := []Task{
		{Key: "panics", Run: func(context.Context) error { panic("selector missing") }},
		{Key: "survives", Run: func(context.Context) error { atomic.AddInt64(&completed, 1); return nil }},
	}

	err := New().RunAll(context.Background(), tasks, 1, func(_ context.Context, key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		panicked = append(panicked, key)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, []string{"panics"}, panicked)
}

func TestRunAllStopsLaunchingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var started int64

	tasks := make([]Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = Task{
			Key: fmt.Sprintf("task-%d", i),
			Run: func(context.Context) error {
				atomic.AddInt64(&started, 1)
				if i == 0 {
					cancel()
				}
				return nil
			},
		}
	}

	err := New().RunAll(ctx, tasks, 1, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, atomic.LoadInt64(&started), int64(10))
}
