package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/ui"
)

const (
	feedLimit   = 200
	speedWindow = 120
)

// Bubble Tea messages.
type engineEventMsg event.Event
type channelDoneMsg struct{}

// readNextEvent returns a tea.Cmd that blocks on the event channel.
func readNextEvent(ch <-chan event.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return channelDoneMsg{}
		}
		return engineEventMsg(ev)
	}
}

type feedLine struct {
	at   time.Time
	icon string
	text string
}

// Model is the root Bubble Tea model: a progress header for the active
// download, a speed sparkline and a feed of engine events.
type Model struct {
	events <-chan event.Event
	tally  *ui.Tally

	release string
	mirror  string
	bytes   int64
	total   int64
	speed   float64
	eta     time.Duration
	speeds  []float64
	feed    []feedLine

	width    int
	height   int
	done     bool
	quitting bool
}

// NewModel creates a model reading from events.
func NewModel(events <-chan event.Event, tally *ui.Tally) Model {
	if tally == nil {
		tally = ui.NewTally()
	}
	return Model{
		events: events,
		tally:  tally,
		width:  80,
		height: 24,
	}
}

func (m Model) Init() tea.Cmd {
	return readNextEvent(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case engineEventMsg:
		ev := event.Event(msg)
		m.tally.Observe(ev)
		m.apply(ev)
		return m, readNextEvent(m.events)

	case channelDoneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev event.Event) {
	switch ev.Type {
	case event.DownloadStarted:
		m.release, m.mirror = ev.Release, ev.Mirror
		m.bytes, m.total, m.speed, m.eta = 0, ev.Total, 0, 0
		m.speeds = m.speeds[:0]
		m.push(ev, styleMuted.Render("↓"), fmt.Sprintf("%s from %s", ev.Release, ev.Mirror))
	case event.Progress:
		m.bytes, m.speed, m.eta = ev.Bytes, ev.Speed, ev.ETA
		if ev.Total > 0 {
			m.total = ev.Total
		}
		m.speeds = append(m.speeds, ev.Speed)
		if len(m.speeds) > speedWindow {
			m.speeds = m.speeds[len(m.speeds)-speedWindow:]
		}
	case event.AttemptFailed:
		m.push(ev, styleIconWarn.Render("!"), fmt.Sprintf("%s failed on %s: %v", ev.Release, ev.Mirror, ev.Error))
	case event.MirrorSwitched:
		m.mirror = ev.Mirror
		m.push(ev, styleIconWarn.Render("→"), "mirror "+ev.Mirror)
	case event.MirrorBanned:
		m.push(ev, styleIconFailed.Render("✗"), fmt.Sprintf("mirror %s banned", ev.Mirror))
	case event.DownloadCompleted:
		m.bytes = m.total
		m.push(ev, styleIconDone.Render("✓"), fmt.Sprintf("%s  %s", ev.Release, ui.FormatBytes(ev.Total)))
	case event.DownloadFailed:
		m.push(ev, styleIconFailed.Render("✗"), fmt.Sprintf("%s: %v", ev.Release, ev.Error))
	case event.Pruned:
		m.push(ev, styleMuted.Render("-"), "pruned "+ev.Release)
	case event.HWIDCheckFailed:
		m.push(ev, styleIconFailed.Render("✗"), "hardware id rejected by mirror")
	case event.CatalogLoaded:
		m.push(ev, styleMuted.Render("·"), fmt.Sprintf("catalog: %s games", ui.FormatCount(ev.Bytes)))
	case event.ConfigUpdated:
		m.push(ev, styleMuted.Render("·"), "transfer config updated")
	case event.MirrorSelected:
		m.mirror = ev.Mirror
	}
}

func (m *Model) push(ev event.Event, icon, text string) {
	m.feed = append(m.feed, feedLine{at: ev.Timestamp, icon: icon, text: text})
	if len(m.feed) > feedLimit {
		m.feed = m.feed[len(m.feed)-feedLimit:]
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')

	sparkWidth := max(m.width-4, 10)
	b.WriteString("  " + styleSparkline.Render(ui.Sparkline(m.speeds, sparkWidth)))
	b.WriteByte('\n')
	b.WriteString(styleDivider.Render(strings.Repeat("─", max(m.width, 1))))
	b.WriteByte('\n')

	rows := max(m.height-5, 1)
	start := max(len(m.feed)-rows, 0)
	for _, l := range m.feed[start:] {
		stamp := ""
		if !l.at.IsZero() {
			stamp = styleMuted.Render(l.at.Format("15:04:05")) + " "
		}
		fmt.Fprintf(&b, "  %s%s %s\n", stamp, l.icon, l.text)
	}
	for range rows - (len(m.feed) - start) {
		b.WriteByte('\n')
	}

	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	label := styleHeaderLabel.Render("mirrorgate")
	if m.release == "" {
		return styleHeader.Render("  " + label + "  " + styleMuted.Render("idle"))
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.bytes) / float64(m.total)
	}
	header := fmt.Sprintf("  %s  %s  %s %s  %s / %s  %s  eta %s  %s",
		label,
		styleRelease.Render(m.release),
		ui.FormatPercent(m.bytes, m.total),
		styleProgress.Render(ui.ProgressBar(pct, 10)),
		ui.FormatBytes(m.bytes),
		ui.FormatBytes(m.total),
		styleSpeed.Render(ui.FormatRate(m.speed)),
		ui.FormatETA(m.eta),
		styleMirror.Render(m.mirror),
	)
	return styleHeader.Render(header)
}

func (m Model) renderFooter() string {
	return "  " + styleKeybindKey.Render("q") + " " + styleKeybindLabel.Render("quit")
}
