package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags the result of one transfer-tool invocation.
type Kind int

const (
	Success Kind = iota
	QuotaExceeded
	InsufficientSpace
	HostUnreachable
	HWIDCheckFailed
	OperationFailed
	UnknownFailure
)

var kindNames = [...]string{
	Success:           "Success",
	QuotaExceeded:     "QuotaExceeded",
	InsufficientSpace: "InsufficientSpace",
	HostUnreachable:   "HostUnreachable",
	HWIDCheckFailed:   "HWIDCheckFailed",
	OperationFailed:   "OperationFailed",
	UnknownFailure:    "UnknownFailure",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Outcome is the classified result of Executor.Run. Exactly one Kind is set;
// the remaining fields carry the context the kind needs.
type Outcome struct {
	Output   string // combined stdout and stderr
	Stdout   string
	Mirror   string
	Path     string // local destination
	Op       Op
	ExitCode int
	Kind     Kind
}

// Err converts the outcome into the engine's error taxonomy. Success
// returns nil.
func (o Outcome) Err() error {
	switch o.Kind {
	case Success:
		return nil
	case QuotaExceeded:
		return &QuotaExceededError{Mirror: o.Mirror}
	case InsufficientSpace:
		return &InsufficientSpaceError{Path: o.Path}
	case HWIDCheckFailed:
		return ErrHWIDCheckFailed
	case HostUnreachable:
		return &OperationError{Mirror: o.Mirror, Op: o.Op, ExitCode: o.ExitCode, Output: o.Output, Err: ErrHostUnreachable}
	case OperationFailed:
		return &OperationError{Mirror: o.Mirror, Op: o.Op, ExitCode: o.ExitCode, Output: o.Output}
	default:
		return &UnknownFailureError{Mirror: o.Mirror, Op: o.Op, ExitCode: o.ExitCode, Output: o.Output}
	}
}

var (
	// ErrHWIDCheckFailed means the mirror rejected this machine's hardware
	// id. Rotating mirrors does not help.
	ErrHWIDCheckFailed = errors.New("hardware id verification failed")

	// ErrHostUnreachable is wrapped by an OperationError when the mirror
	// host could not be reached at all.
	ErrHostUnreachable = errors.New("mirror host unreachable")
)

// QuotaExceededError reports that a mirror's transfer quota is used up.
type QuotaExceededError struct {
	Mirror string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("mirror %s: download quota exceeded", e.Mirror)
}

// InsufficientSpaceError reports that the local destination ran out of room.
type InsufficientSpaceError struct {
	Path string
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("not enough disk space for %s", e.Path)
}

// OperationError is a transfer-tool failure that another mirror may not
// reproduce.
type OperationError struct {
	Err      error
	Mirror   string
	Op       Op
	Output   string
	ExitCode int
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s via mirror %s failed (exit %d)", e.Op, e.Mirror, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := lastLines(e.Output, 2); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Err }

// UnknownFailureError is any other non-zero exit. It is not retried.
type UnknownFailureError struct {
	Mirror   string
	Op       Op
	Output   string
	ExitCode int
}

func (e *UnknownFailureError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Op, e.ExitCode)
	if e.Mirror != "" {
		msg = fmt.Sprintf("%s via mirror %s failed (exit %d)", e.Op, e.Mirror, e.ExitCode)
	}
	if tail := lastLines(e.Output, 2); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Rotatable reports whether err is a per-mirror failure that switching to
// another mirror may resolve.
func Rotatable(err error) bool {
	var quota *QuotaExceededError
	var op *OperationError
	return errors.As(err, &quota) || errors.As(err, &op)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
