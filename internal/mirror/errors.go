package mirror

import (
	"errors"
	"fmt"
	"strings"
)

// Scope identifies which mirror set ran dry.
type Scope int

const (
	// ScopeInit is the pool's own initialization or reload.
	ScopeInit Scope = iota
	// ScopeSession exclusions last for the life of the process.
	ScopeSession
	// ScopeDownload exclusions apply to one caller's working set.
	ScopeDownload
)

func (s Scope) String() string {
	switch s {
	case ScopeInit:
		return "init"
	case ScopeSession:
		return "session"
	case ScopeDownload:
		return "download"
	default:
		return "unknown"
	}
}

var (
	// ErrNoMirrors matches every NoMirrorsError via errors.Is.
	ErrNoMirrors = errors.New("no mirrors available")

	// ErrUnknownMirror rejects a manual switch to a mirror not in the pool.
	ErrUnknownMirror = errors.New("unknown mirror")

	// ErrBusy rejects a manual switch while a refresh holds its guard.
	ErrBusy = errors.New("mirror refresh in progress")
)

// NoMirrorsError reports an exhausted mirror set. Excluded is zero when no
// mirrors exist at all, which distinguishes that from "all excluded".
// Causes holds the per-mirror failures that led here, oldest first.
type NoMirrorsError struct {
	Causes   []error
	Scope    Scope
	Excluded int
}

func (e *NoMirrorsError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s scope, %d excluded)", ErrNoMirrors, e.Scope, e.Excluded)
	for _, c := range e.Causes {
		b.WriteString("; ")
		b.WriteString(c.Error())
	}
	return b.String()
}

func (e *NoMirrorsError) Is(target error) bool { return target == ErrNoMirrors }

func (e *NoMirrorsError) Unwrap() []error { return e.Causes }
