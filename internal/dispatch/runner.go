package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskRecorder observes deferred task execution
type TaskRecorder interface {
	TaskStarted()
	TaskFinished(task, outcome string, took time.Duration)
}

// Runner executes deferred work after the response has been sent.
// Tasks never share the request context; each gets its own deadline.
type Runner struct {
	base     context.Context
	timeout  time.Duration
	logger   *zap.Logger
	recorder TaskRecorder
	wg       sync.WaitGroup
}

func NewRunner(base context.Context, timeout time.Duration, logger *zap.Logger, recorder TaskRecorder) *Runner {
	if base == nil {
		base = context.Background()
	}
	return &Runner{
		base:     base,
		timeout:  timeout,
		logger:   logger,
		recorder: recorder,
	}
}

// Go runs task in its own goroutine. Errors and panics stay inside the task.
func (r *Runner) Go(name string, task Task) {
	if task == nil {
		return
	}
	id := uuid.NewString()
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.base, r.timeout)
		defer cancel()

		start := time.Now()
		if r.recorder != nil {
			r.recorder.TaskStarted()
		}
		outcome := "ok"
		defer func() {
			if rec := recover(); rec != nil {
				outcome = "panic"
				r.logger.Error("Deferred task panicked",
					zap.String("task", name),
					zap.String("task_id", id),
					zap.String("panic", fmt.Sprint(rec)),
					zap.String("stack", string(debug.Stack())))
			}
			if r.recorder != nil {
				r.recorder.TaskFinished(name, outcome, time.Since(start))
			}
			r.logger.Debug("Deferred task finished",
				zap.String("task", name),
				zap.String("task_id", id),
				zap.String("outcome", outcome),
				zap.Duration("duration", time.Since(start)))
		}()

		r.logger.Debug("Deferred task started", zap.String("task", name), zap.String("task_id", id))
		if err := task(ctx); err != nil {
			outcome = "error"
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				outcome = "timeout"
			}
			r.logger.Warn("Deferred task failed",
				zap.String("task", name),
				zap.String("task_id", id),
				zap.String("outcome", outcome),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every started task returns or ctx is done
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("deferred tasks still running: %w", ctx.Err())
	}
}
