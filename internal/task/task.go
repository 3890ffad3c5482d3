// Package task runs best-effort background work whose failures are logged
// and never reach the caller.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a detached task when the group has no timeout.
const DefaultTimeout = 30 * time.Second

// Group tracks detached tasks so shutdown can give them a chance to finish.
// The zero value is not usable; use NewGroup.
type Group struct {
	log      *slog.Logger
	wg       sync.WaitGroup
	timeout  time.Duration
	failures atomic.Int64
}

// NewGroup returns a Group whose tasks each run for at most timeout.
func NewGroup(log *slog.Logger, timeout time.Duration) *Group {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group{log: log.With("component", "task"), timeout: timeout}
}

// Detach starts fn in the background. fn gets a context that keeps ctx's
// values but not its cancellation, bounded by the group timeout. An error
// or panic from fn is logged and counted.
func (g *Group) Detach(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	g.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		if err := g.run(ctx, fn); err != nil {
			g.failures.Add(1)
			g.log.Warn("background task failed", "task", name, "error", err)
			return
		}
		g.log.Debug("background task done", "task", name)
	})
}

func (g *Group) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every detached task has returned or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns how many detached tasks have failed.
func (g *Group) Failures() int64 { return g.failures.Load() }
