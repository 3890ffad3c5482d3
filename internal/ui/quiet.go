package ui

import "github.com/bamsammich/mirrorgate/internal/event"

// quietPresenter consumes events but produces no output.
type quietPresenter struct {
	tally *Tally
}

func (p *quietPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		p.tally.Observe(ev)
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
