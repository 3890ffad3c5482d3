// Package guard provides the named binary guards that serialize access to
// shared engine state: config updates, mirror-list refreshes, catalog loads,
// and the global download, install and trailers slots.
package guard

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Guard is a non-reentrant binary mutex whose acquisition can be abandoned
// through a context.
type Guard struct {
	sem  *semaphore.Weighted
	name string

	mu       sync.Mutex
	released chan struct{} // non-nil while held; closed by Release
}

// New returns an unheld guard.
func New(name string) *Guard {
	return &Guard{name: name, sem: semaphore.NewWeighted(1)}
}

// Name returns the guard's name, used in log lines and errors.
func (g *Guard) Name() string { return g.name }

// Acquire blocks until the guard is held by the caller or ctx is done.
func (g *Guard) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.markHeld()
	return nil
}

// TryAcquire takes the guard if it is free and reports whether it did.
func (g *Guard) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.markHeld()
	return true
}

func (g *Guard) markHeld() {
	g.mu.Lock()
	g.released = make(chan struct{})
	g.mu.Unlock()
}

// Release frees the guard and wakes every WaitIdle caller. Releasing an
// unheld guard panics.
func (g *Guard) Release() {
	g.mu.Lock()
	ch := g.released
	g.released = nil
	g.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	g.sem.Release(1)
}

// Busy reports whether the guard is currently held. It never acquires, so
// the answer may be stale by the time the caller acts on it.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released != nil
}

// WaitIdle blocks until the current holder, if any, releases the guard.
// It never takes the guard itself, so waiters neither show up in Busy nor
// queue ahead of Acquire callers. A holder that arrives after the release
// is not waited for.
func (g *Guard) WaitIdle(ctx context.Context) error {
	g.mu.Lock()
	ch := g.released
	g.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set bundles the engine-wide guards.
type Set struct {
	Config     *Guard // serializes transfer-tool config updates
	MirrorList *Guard // serializes mirror pool initialization and reload
	Catalog    *Guard // serializes catalog loads
	Download   *Guard // at most one game download per process
	Install    *Guard // at most one device install per process
	Trailers   *Guard // the optional trailers addon download
}

// NewSet returns a Set with every guard free.
func NewSet() *Set {
	return &Set{
		Config:     New("config"),
		MirrorList: New("mirror-list"),
		Catalog:    New("catalog"),
		Download:   New("download-slot"),
		Install:    New("install-slot"),
		Trailers:   New("trailers-addon"),
	}
}

// RefreshInProgress reports whether any background refresh that conflicts
// with a manual mirror switch currently holds its guard.
func (s *Set) RefreshInProgress() bool {
	return s.Config.Busy() || s.MirrorList.Busy() || s.Catalog.Busy()
}
