package tui

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/ui"
)

// Config configures the TUI presenter.
type Config struct {
	Output io.Writer // defaults to stdout
	OnQuit func()    // called when the user quits before the engine is done
}

// Presenter wraps a Bubble Tea program and implements ui.Presenter.
type Presenter struct {
	cfg   Config
	tally *ui.Tally
}

// NewPresenter creates a new TUI presenter.
func NewPresenter(cfg Config) *Presenter {
	return &Presenter{cfg: cfg, tally: ui.NewTally()}
}

// Run starts the Bubble Tea program and blocks until the event channel
// closes. If the user quits early the remaining events are drained so the
// engine never blocks on a full channel.
func (p *Presenter) Run(events <-chan event.Event) error {
	opts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithoutSignalHandler()}
	if p.cfg.Output != nil {
		opts = append(opts, tea.WithOutput(p.cfg.Output))
	}
	final, err := tea.NewProgram(NewModel(events, p.tally), opts...).Run()
	if m, ok := final.(Model); ok && m.quitting && p.cfg.OnQuit != nil {
		p.cfg.OnQuit()
	}
	for ev := range events {
		p.tally.Observe(ev)
	}
	return err
}

// Summary returns the final completion summary line.
func (p *Presenter) Summary() string {
	return p.tally.Summary()
}
