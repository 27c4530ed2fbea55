package executor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Task is one independent unit of work. Key identifies it in logs and the
// failure ledger.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// FailureFunc receives every isolated task failure. It must be safe for
// concurrent calls.
type FailureFunc func(ctx context.Context, key string, err error)

// PanicError wraps a recovered panic so callers can ledger it with its own
// reason tag.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Executor fans independent tasks out with a concurrency cap. One task's
// failure or panic is caught and reported, never cancels its siblings.
// Completion order across tasks is unspecified.
type Executor struct {
	logger *slog.Logger
}

func New() *Executor {
	return &Executor{
		logger: slog.Default().With("component", "executor"),
	}
}

// RunAll executes the batch with at most limit tasks active at once and
// returns once every launched task has finished. Cancellation stops
// launching new tasks; tasks already running are left to observe ctx
// themselves. The returned error is only the context's, task failures go
// through onFailure.
func (e *Executor) RunAll(ctx context.Context, tasks []Task, limit int, onFailure FailureFunc) error {
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	launched := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			e.logger.Info("cancelled, not launching remaining tasks",
				"launched", launched, "total", len(tasks))
			break
		}

		task := task
		launched++
		g.Go(func() error {
			e.runOne(ctx, task, onFailure)
			return nil
		})
	}

	g.Wait()
	return ctx.Err()
}

func (e *Executor) runOne(ctx context.Context, task Task, onFailure FailureFunc) {
	defer func() {
		if v := recover(); v != nil {
			e.logger.Error("task panicked", "key", task.Key, "panic", v)
			if onFailure != nil {
				onFailure(ctx, task.Key, &PanicError{Value: v})
			}
		}
	}()

	if err := task.Run(ctx); err != nil {
		e.logger.Error("task failed", "key", task.Key, "error", err)
		if onFailure != nil {
			onFailure(ctx, task.Key, err)
		}
	}
}
