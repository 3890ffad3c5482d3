// Package mirror tracks the set of usable remotes, the session exclusion
// set and the active selection.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/guard"
)

// DefaultMaxStrikes is the number of download-scope failures after which a
// mirror is excluded for the session.
const DefaultMaxStrikes = 3

// Lister enumerates the remotes known to the transfer tool.
type Lister interface {
	ListRemotes(ctx context.Context) ([]string, error)
}

// DeadMirrorSource reports mirrors that are known to be down.
type DeadMirrorSource interface {
	DeadMirrors(ctx context.Context) ([]string, error)
}

// Options configures a Pool.
type Options struct {
	Lister     Lister
	Dead       DeadMirrorSource // optional
	Guards     *guard.Set
	Events     chan<- event.Event
	Logger     *slog.Logger
	Rand       *rand.Rand // optional, for deterministic tests
	MaxStrikes int
}

// Pool is the process-wide mirror state. Every mutation happens while the
// mirror-list guard is held; readers get copies.
type Pool struct {
	lister  Lister
	dead    DeadMirrorSource
	guards  *guard.Set
	events  chan<- event.Event
	log     *slog.Logger
	picker  *picker
	excl    map[string]struct{}
	strikes map[string]int

	selected    string
	available   []string
	maxStrikes  int
	mu          sync.RWMutex
	initialized bool
}

// NewPool returns an uninitialized pool.
func NewPool(opts Options) *Pool {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	guards := opts.Guards
	if guards == nil {
		guards = guard.NewSet()
	}
	maxStrikes := opts.MaxStrikes
	if maxStrikes <= 0 {
		maxStrikes = DefaultMaxStrikes
	}
	return &Pool{
		lister:     opts.Lister,
		dead:       opts.Dead,
		guards:     guards,
		events:     opts.Events,
		log:        log.With("component", "mirror"),
		picker:     newPicker(opts.Rand),
		excl:       make(map[string]struct{}),
		strikes:    make(map[string]int),
		maxStrikes: maxStrikes,
	}
}

// EnsureInitialized loads the mirror list once. Later calls are no-ops
// until Reload. Once the guard is held the refresh runs to completion even
// if ctx is cancelled.
func (p *Pool) EnsureInitialized(ctx context.Context) error {
	return p.locked(ctx, func(ctx context.Context) error {
		return p.initLocked(ctx)
	})
}

// EnsureSelected initializes the pool if needed and returns the selected
// mirror, picking one at random when none is selected.
func (p *Pool) EnsureSelected(ctx context.Context) (string, error) {
	var selected string
	err := p.locked(ctx, func(ctx context.Context) error {
		if err := p.initLocked(ctx); err != nil {
			return err
		}
		var err error
		selected, err = p.selectLocked(ScopeInit)
		return err
	})
	return selected, err
}

// SwitchSession excludes the selected mirror for the rest of the process
// and picks another.
func (p *Pool) SwitchSession(ctx context.Context) (string, error) {
	var next string
	err := p.locked(ctx, func(ctx context.Context) error {
		if err := p.initLocked(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		prev := p.selected
		if prev != "" {
			p.excludeLocked(prev)
		}
		p.mu.Unlock()

		var err error
		next, err = p.selectLocked(ScopeSession)
		if err != nil {
			return err
		}
		p.log.Info("switched mirror", "from", prev, "to", next, "scope", ScopeSession)
		event.TrySend(p.events, event.Event{Type: event.MirrorSwitched, Mirror: next})
		return nil
	})
	return next, err
}

// Reload discards the mirror list and loads it again, typically after the
// transfer-tool config changed. The previous selection survives when it is
// still usable.
func (p *Pool) Reload(ctx context.Context, keepExcluded bool) error {
	return p.locked(ctx, func(ctx context.Context) error {
		p.mu.Lock()
		prev := p.selected
		p.available = nil
		p.selected = ""
		p.initialized = false
		if !keepExcluded {
			p.excl = make(map[string]struct{})
			p.strikes = make(map[string]int)
		}
		p.mu.Unlock()

		if err := p.initLocked(ctx); err != nil {
			return err
		}

		p.mu.Lock()
		if prev != "" && p.usableLocked(prev) {
			p.selected = prev
		}
		p.mu.Unlock()

		selected, err := p.selectLocked(ScopeInit)
		if err != nil {
			return err
		}
		p.log.Info("mirror list reloaded", "available", len(p.Available()), "selected", selected)
		return nil
	})
}

// ManualSwitch selects name on the user's behalf. It is refused while a
// config, mirror-list or catalog refresh holds its guard. The check takes
// no guard, so a refresh may still start right after it passes.
func (p *Pool) ManualSwitch(ctx context.Context, name string) error {
	if p.guards.RefreshInProgress() {
		return ErrBusy
	}
	return p.locked(ctx, func(ctx context.Context) error {
		if err := p.initLocked(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.usableLocked(name) {
			return fmt.Errorf("%w: %s", ErrUnknownMirror, name)
		}
		p.selected = name
		p.log.Info("mirror selected manually", "mirror", name)
		event.TrySend(p.events, event.Event{Type: event.MirrorSwitched, Mirror: name})
		return nil
	})
}

// Strike records a download-scope failure against name. After MaxStrikes
// failures the mirror is excluded for the session and banned is true.
func (p *Pool) Strike(ctx context.Context, name string) (banned bool, err error) {
	err = p.locked(ctx, func(context.Context) error {
		p.mu.Lock()
		p.strikes[name]++
		n := p.strikes[name]
		if n < p.maxStrikes || !slices.Contains(p.available, name) {
			p.mu.Unlock()
			return nil
		}
		p.excludeLocked(name)
		p.mu.Unlock()
		banned = true

		p.log.Warn("mirror banned for session", "mirror", name, "strikes", n)
		event.TrySend(p.events, event.Event{Type: event.MirrorBanned, Mirror: name})

		// Keep a selection when one is possible; an empty pool surfaces on
		// the next EnsureSelected.
		if _, selErr := p.selectLocked(ScopeSession); selErr != nil {
			p.log.Warn("no mirror left after ban", "error", selErr)
		}
		return nil
	})
	return banned, err
}

// Snapshot returns a caller-owned working set of the usable mirrors,
// positioned on the current selection.
func (p *Pool) Snapshot() *WorkingSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ws := &WorkingSet{picker: p.picker}
	for _, m := range p.available {
		if _, ok := p.excl[m]; !ok {
			ws.mirrors = append(ws.mirrors, m)
		}
	}
	ws.current = p.selected
	if ws.current == "" && len(ws.mirrors) > 0 {
		ws.current = p.picker.pick(ws.mirrors)
	}
	return ws
}

// Selected returns the active mirror, or "" when none is selected.
func (p *Pool) Selected() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selected
}

// Available returns a copy of the mirror list.
func (p *Pool) Available() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.available)
}

// Excluded returns the session-excluded mirrors in sorted order.
func (p *Pool) Excluded() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.excl))
	for m := range p.excl {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Initialized reports whether the mirror list has been loaded.
func (p *Pool) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// locked runs fn holding the mirror-list guard. ctx bounds only the wait
// for the guard; fn sees a context that is never cancelled.
func (p *Pool) locked(ctx context.Context, fn func(context.Context) error) error {
	g := p.guards.MirrorList
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(context.WithoutCancel(ctx))
}

func (p *Pool) initLocked(ctx context.Context) error {
	p.mu.RLock()
	done := p.initialized
	p.mu.RUnlock()
	if done {
		return nil
	}

	var dead []string
	if p.dead != nil {
		var err error
		dead, err = p.dead.DeadMirrors(ctx)
		if err != nil {
			p.log.Warn("could not fetch dead mirrors", "error", err)
		}
	}

	remotes, err := p.lister.ListRemotes(ctx)
	if err != nil {
		return fmt.Errorf("list mirrors: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range dead {
		p.excl[m] = struct{}{}
	}
	if len(remotes) == 0 {
		return &NoMirrorsError{Scope: ScopeInit}
	}

	seen := make(map[string]struct{}, len(remotes))
	var available []string
	for _, m := range remotes {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		if _, ok := p.excl[m]; ok {
			continue
		}
		available = append(available, m)
	}
	if len(available) == 0 {
		return &NoMirrorsError{Scope: ScopeInit, Excluded: len(p.excl)}
	}

	p.available = available
	p.initialized = true
	p.log.Debug("mirror list loaded", "available", len(available), "excluded", len(p.excl))
	return nil
}

// selectLocked keeps a valid selection or picks a random usable mirror.
func (p *Pool) selectLocked(scope Scope) (string, error) {
	p.mu.Lock()
	if p.selected != "" && p.usableLocked(p.selected) {
		s := p.selected
		p.mu.Unlock()
		return s, nil
	}
	candidates := make([]string, 0, len(p.available))
	for _, m := range p.available {
		if _, ok := p.excl[m]; !ok {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		p.selected = ""
		n := len(p.excl)
		p.mu.Unlock()
		return "", &NoMirrorsError{Scope: scope, Excluded: n}
	}
	p.selected = p.picker.pick(candidates)
	s := p.selected
	p.mu.Unlock()

	p.log.Info("mirror selected", "mirror", s)
	event.TrySend(p.events, event.Event{Type: event.MirrorSelected, Mirror: s})
	return s, nil
}

// excludeLocked moves name from available into the session exclusion set.
// Callers hold p.mu.
func (p *Pool) excludeLocked(name string) {
	p.available = slices.DeleteFunc(p.available, func(m string) bool { return m == name })
	p.excl[name] = struct{}{}
	if p.selected == name {
		p.selected = ""
	}
}

// usableLocked reports whether name is available and not excluded.
// Callers hold p.mu.
func (p *Pool) usableLocked(name string) bool {
	if _, ok := p.excl[name]; ok {
		return false
	}
	return slices.Contains(p.available, name)
}
