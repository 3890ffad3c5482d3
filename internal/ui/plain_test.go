package ui

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirrorgate/internal/event"
)

func runPlain(t *testing.T, verbose bool, evs ...event.Event) (string, string, *plainPresenter) {
	t.Helper()
	var out, errOut bytes.Buffer
	p := &plainPresenter{w: &out, errW: &errOut, verbose: verbose, tally: NewTally()}

	events := make(chan event.Event, len(evs))
	for _, ev := range evs {
		events <- ev
	}
	close(events)
	require.NoError(t, p.Run(events))
	return out.String(), errOut.String(), p
}

func TestPlainPresenterDownloadLifecycle(t *testing.T) {
	out, _, _ := runPlain(t, false,
		event.Event{Type: event.DownloadStarted, Release: "Moss v7+1.2", Mirror: "A", Total: 1024 * 1024},
		event.Event{Type: event.DownloadCompleted, Release: "Moss v7+1.2", Mirror: "A", Path: "/dl/Moss v7+1.2", Total: 1024 * 1024},
	)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "downloading Moss v7+1.2 (1.0 MiB) from A", lines[0])
	assert.Contains(t, lines[1], "/dl/Moss v7+1.2")
	assert.Contains(t, lines[1], "1.0 MiB")
}

func TestPlainPresenterFailure(t *testing.T) {
	out, _, p := runPlain(t, false,
		event.Event{Type: event.AttemptFailed, Release: "Moss v7+1.2", Mirror: "A", Error: assert.AnError},
		event.Event{Type: event.MirrorSwitched, Release: "Moss v7+1.2", Mirror: "B"},
		event.Event{Type: event.DownloadFailed, Release: "Moss v7+1.2", Error: assert.AnError},
	)

	assert.Contains(t, out, "Moss v7+1.2 failed on A: "+assert.AnError.Error())
	assert.Contains(t, out, "retrying Moss v7+1.2 on B")
	assert.Contains(t, out, "Moss v7+1.2  failed: "+assert.AnError.Error())
	assert.Contains(t, p.Summary(), "errors 1")
	assert.Contains(t, p.Summary(), "✗")
}

func TestPlainPresenterHousekeepingNeedsVerbose(t *testing.T) {
	evs := []event.Event{
		{Type: event.MirrorSelected, Mirror: "A"},
		{Type: event.ConfigUpdated},
		{Type: event.CatalogLoaded, Bytes: 2500},
	}

	out, _, _ := runPlain(t, false, evs...)
	assert.Empty(t, out)

	out, _, _ = runPlain(t, true, evs...)
	assert.Contains(t, out, "mirror: A")
	assert.Contains(t, out, "transfer config updated")
	assert.Contains(t, out, "catalog: 2,500 games")
}

func TestPlainPresenterProgressIsThrottled(t *testing.T) {
	ev := event.Event{Type: event.Progress, Bytes: 512, Total: 1024, Speed: 2048, ETA: time.Second}
	_, errOut, _ := runPlain(t, false, ev, ev, ev)

	lines := strings.Split(strings.TrimSpace(errOut), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, "progress: 50% 512 B/1.0 KiB 2.0 KiB/s eta 1s", lines[0])
}

func TestPlainPresenterProgressBar(t *testing.T) {
	var errOut bytes.Buffer
	p := &plainPresenter{w: io.Discard, errW: &errOut, barWidth: 10, tally: NewTally()}
	p.handleEvent(event.Event{Type: event.Progress, Bytes: 512, Total: 1024, Speed: 2048, ETA: time.Second})

	assert.Equal(t, "progress: █████░░░░░ 50% 512 B/1.0 KiB 2.0 KiB/s eta 1s\n", errOut.String())
}

func TestBarWidth(t *testing.T) {
	assert.Zero(t, barWidth(0))
	assert.Zero(t, barWidth(40))
	assert.Equal(t, 16, barWidth(80))
	assert.Equal(t, 30, barWidth(200))
}

func TestPlainPresenterProgressUnknownTotal(t *testing.T) {
	_, errOut, _ := runPlain(t, false, event.Event{Type: event.Progress, Bytes: 512})
	assert.Equal(t, "progress: 512 B 0 B/s\n", errOut)
}

func TestPlainPresenterPrunedAndBanned(t *testing.T) {
	out, _, _ := runPlain(t, false,
		event.Event{Type: event.Pruned, Release: "Moss v6+1.1"},
		event.Event{Type: event.MirrorBanned, Mirror: "C"},
		event.Event{Type: event.HWIDCheckFailed},
	)
	assert.Contains(t, out, "pruned: Moss v6+1.1")
	assert.Contains(t, out, "mirror C banned for this session")
	assert.Contains(t, out, "hardware id check failed")
}

func TestQuietPresenterIsSilent(t *testing.T) {
	p := NewPresenter(Config{Quiet: true})
	events := make(chan event.Event, 1)
	events <- event.Event{Type: event.DownloadCompleted}
	close(events)

	require.NoError(t, p.Run(events))
	assert.Empty(t, p.Summary())
}

func TestTallySummary(t *testing.T) {
	tally := NewTally()
	tally.Observe(event.Event{Type: event.DownloadCompleted, Total: 2048})
	tally.Observe(event.Event{Type: event.DownloadCompleted, Total: 2048})
	tally.Observe(event.Event{Type: event.MirrorSwitched})
	tally.Observe(event.Event{Type: event.Pruned})

	s := tally.Summary()
	assert.True(t, strings.HasPrefix(s, "done ✓  downloads 2  size 4.0 KiB  switches 1  time "), s)
	assert.Contains(t, s, "pruned 1")
	assert.True(t, strings.HasSuffix(s, "errors 0"), s)
}

func TestTallySummaryEmptyWithoutDownloads(t *testing.T) {
	tally := NewTally()
	tally.Observe(event.Event{Type: event.MirrorSwitched})
	assert.Empty(t, tally.Summary())
}
