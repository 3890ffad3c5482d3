package mirror

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
)

// WorkingSet is one caller's private view of the pool used for
// download-scope rotation. Switching never touches the pool. A WorkingSet
// is not safe for concurrent use.
type WorkingSet struct {
	picker  *picker
	current string
	mirrors []string
	causes  []error
	dropped int
}

// Current returns the mirror the next attempt should use.
func (w *WorkingSet) Current() string { return w.current }

// Mirrors returns the mirrors still in the set.
func (w *WorkingSet) Mirrors() []string { return slices.Clone(w.mirrors) }

// Switch drops the current mirror, recording cause, and picks another one
// at random. It returns a NoMirrorsError if nothing is left.
func (w *WorkingSet) Switch(cause error) (string, error) {
	if cause != nil {
		w.causes = append(w.causes, fmt.Errorf("%s: %w", w.current, cause))
	}
	if w.current != "" {
		before := len(w.mirrors)
		w.mirrors = slices.DeleteFunc(w.mirrors, func(m string) bool { return m == w.current })
		w.dropped += before - len(w.mirrors)
		w.current = ""
	}
	if len(w.mirrors) == 0 {
		return "", &NoMirrorsError{
			Scope:    ScopeDownload,
			Excluded: w.dropped,
			Causes:   slices.Clone(w.causes),
		}
	}
	w.current = w.picker.pick(w.mirrors)
	return w.current, nil
}

// picker draws uniformly from a candidate list. A *rand.Rand is not safe
// for concurrent use, so draws are serialized.
type picker struct {
	r  *rand.Rand
	mu sync.Mutex
}

func newPicker(r *rand.Rand) *picker {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &picker{r: r}
}

func (p *picker) pick(candidates []string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return candidates[p.r.IntN(len(candidates))]
}
