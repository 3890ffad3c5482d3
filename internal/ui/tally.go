package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/bamsammich/mirrorgate/internal/event"
)

// Tally accumulates the counters shown in the final summary line.
type Tally struct {
	start     time.Time
	Bytes     int64
	Completed int
	Failed    int
	Switches  int
	Bans      int
	Pruned    int
	mu        sync.Mutex
}

// NewTally starts the elapsed clock.
func NewTally() *Tally {
	return &Tally{start: time.Now()}
}

// Observe folds ev into the counters.
func (t *Tally) Observe(ev event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case event.DownloadCompleted:
		t.Completed++
		t.Bytes += ev.Total
	case event.DownloadFailed:
		t.Failed++
	case event.MirrorSwitched:
		t.Switches++
	case event.MirrorBanned:
		t.Bans++
	case event.Pruned:
		t.Pruned++
	}
}

// Summary builds the final line, or "" when no download finished.
// Format: done ✓  downloads 1  size 2.1 GiB  switches 1  time 3m17s  errors 0
func (t *Tally) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Completed == 0 && t.Failed == 0 {
		return ""
	}

	icon := "✓"
	if t.Failed > 0 {
		icon = "✗"
	}
	s := fmt.Sprintf("done %s  downloads %d  size %s  switches %d  time %s",
		icon, t.Completed, FormatBytes(t.Bytes), t.Switches, FormatDuration(time.Since(t.start)))
	if t.Pruned > 0 {
		s += fmt.Sprintf("  pruned %d", t.Pruned)
	}
	return s + fmt.Sprintf("  errors %d", t.Failed)
}
