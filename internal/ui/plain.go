package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/mirrorgate/internal/event"
)

const (
	progressInterval  = 5 * time.Second
	progressTextWidth = 64
)

// plainPresenter prints one line per download milestone to stdout and
// throttled progress lines to stderr.
type plainPresenter struct {
	lastProgress time.Time
	w            io.Writer
	errW         io.Writer
	tally        *Tally
	verbose      bool
	barWidth     int
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		p.tally.Observe(ev)
		p.handleEvent(ev)
	}
	return nil
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.DownloadStarted:
		fmt.Fprintf(p.w, "downloading %s (%s) from %s\n", ev.Release, FormatBytes(ev.Total), ev.Mirror)
	case event.Progress:
		p.printProgress(ev)
	case event.AttemptFailed:
		fmt.Fprintf(p.w, "%s failed on %s: %s\n", ev.Release, ev.Mirror, errText(ev.Error))
	case event.MirrorSwitched:
		if ev.Release != "" {
			fmt.Fprintf(p.w, "retrying %s on %s\n", ev.Release, ev.Mirror)
		} else {
			fmt.Fprintf(p.w, "mirror: %s\n", ev.Mirror)
		}
	case event.MirrorBanned:
		fmt.Fprintf(p.w, "mirror %s banned for this session\n", ev.Mirror)
	case event.DownloadCompleted:
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatBytes(ev.Total), ev.Mirror)
	case event.DownloadFailed:
		fmt.Fprintf(p.w, "%s  failed: %s\n", ev.Release, errText(ev.Error))
	case event.Pruned:
		fmt.Fprintf(p.w, "pruned: %s\n", ev.Release)
	case event.HWIDCheckFailed:
		fmt.Fprintln(p.w, "this machine was rejected by the mirror (hardware id check failed)")
	case event.MirrorSelected:
		if p.verbose {
			fmt.Fprintf(p.w, "mirror: %s\n", ev.Mirror)
		}
	case event.ConfigUpdated:
		if p.verbose {
			fmt.Fprintln(p.w, "transfer config updated")
		}
	case event.CatalogLoaded:
		if p.verbose {
			fmt.Fprintf(p.w, "catalog: %s games\n", FormatCount(ev.Bytes))
		}
	}
}

func (p *plainPresenter) printProgress(ev event.Event) {
	if time.Since(p.lastProgress) < progressInterval {
		return
	}
	p.lastProgress = time.Now()
	if ev.Total > 0 {
		bar := ""
		if p.barWidth > 0 {
			bar = ProgressBar(float64(ev.Bytes)/float64(ev.Total), p.barWidth) + " "
		}
		fmt.Fprintf(p.errW, "progress: %s%s %s/%s %s eta %s\n",
			bar,
			FormatPercent(ev.Bytes, ev.Total),
			FormatBytes(ev.Bytes), FormatBytes(ev.Total),
			FormatRate(ev.Speed),
			FormatETA(ev.ETA),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: %s %s\n", FormatBytes(ev.Bytes), FormatRate(ev.Speed))
}

func (p *plainPresenter) Summary() string {
	return p.tally.Summary()
}

func errText(err error) string {
	if err == nil {
		return "error"
	}
	return err.Error()
}
