package ui

import (
	"io"

	"github.com/bamsammich/mirrorgate/internal/event"
)

// Presenter consumes engine events and shows them to the user.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan event.Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Quiet     bool
	Verbose   bool // also print mirror and catalog housekeeping events
	Width     int  // terminal columns of ErrWriter; 0 disables the progress bar
}

// NewPresenter creates the line-oriented presenter for cfg. The interactive
// TUI lives in package tui.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{tally: NewTally()}
	}
	return &plainPresenter{
		w:        cfg.Writer,
		errW:     cfg.ErrWriter,
		verbose:  cfg.Verbose,
		barWidth: barWidth(cfg.Width),
		tally:    NewTally(),
	}
}

// barWidth sizes the progress bar to what is left of a terminal line after
// the text fields.
func barWidth(cols int) int {
	if cols <= 0 {
		return 0
	}
	return min(max(cols-progressTextWidth, 0), 30)
}
