package download

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAddonInProgress rejects a second concurrent addon download.
	ErrAddonInProgress = errors.New("addon download already in progress")

	// ErrNoOutput means the transfer tool reported success but the
	// destination does not exist.
	ErrNoOutput = errors.New("transfer produced no output")
)

// Attempt is one failed try against a single mirror.
type Attempt struct {
	At     time.Time
	Err    error
	Mirror string
}

// DownloadError aggregates every per-mirror failure of one download after
// the mirror snapshot ran dry. Last is the error that ended the loop.
type DownloadError struct {
	Last     error
	Release  string
	Attempts []Attempt
}

// Error leads with the short form of Last, then lists every attempt.
func (e *DownloadError) Error() string {
	var b strings.Builder
	if e.Last != nil {
		last, _, _ := strings.Cut(e.Last.Error(), "; ")
		fmt.Fprintf(&b, "download %s failed: %s (%d attempts)", e.Release, last, len(e.Attempts))
	} else {
		fmt.Fprintf(&b, "download %s failed on every mirror (%d attempts)", e.Release, len(e.Attempts))
	}
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Mirror, a.Err)
	}
	return b.String()
}

// Unwrap returns the final error followed by each attempt's error in the
// order they happened.
func (e *DownloadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	if e.Last != nil {
		errs = append(errs, e.Last)
	}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
