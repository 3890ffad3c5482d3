package download

import (
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirrorgate/internal/api"
	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/config"
	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/guard"
	"github.com/bamsammich/mirrorgate/internal/history"
	"github.com/bamsammich/mirrorgate/internal/mirror"
	"github.com/bamsammich/mirrorgate/internal/stats"
	"github.com/bamsammich/mirrorgate/internal/task"
	"github.com/bamsammich/mirrorgate/internal/transfer"
)

const downloadsDir = "/dl"

type staticLister []string

func (l staticLister) ListRemotes(context.Context) ([]string, error) { return l, nil }

// fakeRunner creates the destination directory on Success.
type fakeRunner struct {
	fs      afero.Fs
	respond func(req transfer.Request) transfer.Outcome
	reqs    []transfer.Request
	mu      sync.Mutex
}

func (f *fakeRunner) Run(ctx context.Context, req transfer.Request) (transfer.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Outcome{}, err
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	out := f.respond(req)
	out.Op, out.Mirror, out.Path = req.Op, req.Mirror, req.Dest
	if out.Kind == transfer.Success && req.Op == transfer.OpCopy {
		if err := f.fs.MkdirAll(req.Dest, 0o755); err != nil {
			return transfer.Outcome{}, err
		}
	}
	return out, nil
}

func (f *fakeRunner) mirrors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reqs {
		out = append(out, r.Mirror)
	}
	return out
}

type fakeReporter struct {
	got chan api.DownloadReport
	err error
}

func (f *fakeReporter) ReportDownload(_ context.Context, r api.DownloadReport) error {
	f.got <- r
	return f.err
}

type fakeHistory struct {
	downloads []history.Download
	failures  []history.Failure
	mu        sync.Mutex
}

func (f *fakeHistory) RecordDownload(_ context.Context, d history.Download) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, d)
	return nil
}

func (f *fakeHistory) RecordFailure(_ context.Context, fl history.Failure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, fl)
	return nil
}

type fixture struct {
	fs     afero.Fs
	guards *guard.Set
	pool   *mirror.Pool
	run    *fakeRunner
	hist   *fakeHistory
	rep    *fakeReporter
	tasks  *task.Group
	opts   Options
}

func newFixture(t *testing.T, respond func(transfer.Request) transfer.Outcome, mirrors ...string) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(downloadsDir, 0o755))
	guards := guard.NewSet()
	f := &fixture{
		fs:     fs,
		guards: guards,
		pool: mirror.NewPool(mirror.Options{
			Lister:     staticLister(mirrors),
			Guards:     guards,
			Rand:       rand.New(rand.NewPCG(11, 13)),
			MaxStrikes: 10,
		}),
		run:   &fakeRunner{fs: fs, respond: respond},
		hist:  &fakeHistory{},
		rep:   &fakeReporter{got: make(chan api.DownloadReport, 4)},
		tasks: task.NewGroup(nil, time.Second),
	}
	f.opts = Options{
		Pool:         f.pool,
		Runner:       f.run,
		Guards:       guards,
		Fs:           fs,
		Reporter:     f.rep,
		History:      f.hist,
		Tasks:        f.tasks,
		DownloadsDir: downloadsDir,
		RemoteRoot:   "Quest Games",
		HWID:         "HWID1",
		Pruning:      config.KeepAll,
	}
	return f
}

func (f *fixture) orchestrator() *Orchestrator { return New(f.opts) }

func ok(transfer.Request) transfer.Outcome { return transfer.Outcome{Kind: transfer.Success} }

var moss = catalog.GameRecord{
	GameName:    "Moss",
	ReleaseName: "Moss v7+1.2",
	PackageName: "com.polyarc.moss",
	SizeMB:      900,
}

func TestDownloadSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	o := f.orchestrator()

	dest, err := o.Download(context.Background(), moss)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(downloadsDir, "Moss v7+1.2"), dest)

	req := f.run.reqs[0]
	assert.Equal(t, transfer.OpCopy, req.Op)
	assert.Equal(t, "A:Quest Games/Moss v7+1.2", req.Source)
	assert.Equal(t, dest, req.Dest)

	got, err := ReadSidecar(f.fs, dest)
	require.NoError(t, err)
	assert.Equal(t, moss.ReleaseName, got.ReleaseName)

	require.NoError(t, f.tasks.Wait(context.Background()))
	select {
	case r := <-f.rep.got:
		assert.Equal(t, api.DownloadReport{ReleaseName: "Moss v7+1.2", PackageName: "com.polyarc.moss", HWID: "HWID1"}, r)
	default:
		t.Fatal("download was not reported")
	}

	require.Len(t, f.hist.downloads, 1)
	assert.Equal(t, "A", f.hist.downloads[0].Mirror)
	assert.Equal(t, 1, f.hist.downloads[0].Attempts)
	assert.False(t, f.guards.Download.Busy())
}

func TestDownloadReportFailureDoesNotFailDownload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	f.rep.err = errors.New("api down")
	o := f.orchestrator()

	_, err := o.Download(context.Background(), moss)
	require.NoError(t, err)
	require.NoError(t, f.tasks.Wait(context.Background()))
	assert.Equal(t, int64(1), f.tasks.Failures())
}

func TestDownloadReportRunsOnDefaultTaskGroup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	f.opts.Tasks = nil
	f.rep.err = errors.New("api down")
	o := f.orchestrator()
	require.NotNil(t, o.Tasks())

	_, err := o.Download(context.Background(), moss)
	require.NoError(t, err)
	require.NoError(t, o.Tasks().Wait(context.Background()))
	assert.Equal(t, int64(1), o.Tasks().Failures())
}

func TestDownloadQuotaNeverRetriesSameMirror(t *testing.T) {
	t.Parallel()

	quotaOnA := func(req transfer.Request) transfer.Outcome {
		if req.Mirror == "A" {
			return transfer.Outcome{Kind: transfer.QuotaExceeded, ExitCode: 7}
		}
		return transfer.Outcome{Kind: transfer.Success}
	}
	for seed := range uint64(10) {
		f := newFixture(t, quotaOnA, "A", "B", "C")
		f.pool = mirror.NewPool(mirror.Options{
			Lister: staticLister{"A", "B", "C"},
			Guards: f.guards,
			Rand:   rand.New(rand.NewPCG(seed, 1)),
		})
		f.opts.Pool = f.pool
		require.NoError(t, f.pool.ManualSwitch(context.Background(), "A"))

		_, err := f.orchestrator().Download(context.Background(), moss)
		require.NoError(t, err)

		tried := f.run.mirrors()
		require.Len(t, tried, 2, "seed %d", seed)
		assert.Equal(t, "A", tried[0])
		assert.Contains(t, []string{"B", "C"}, tried[1])
	}
}

func TestDownloadQuotaScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(req transfer.Request) transfer.Outcome {
		if req.Mirror == "A" {
			return transfer.Outcome{Kind: transfer.QuotaExceeded, ExitCode: 7}
		}
		return transfer.Outcome{Kind: transfer.Success}
	}, "A", "B", "C")
	require.NoError(t, f.pool.ManualSwitch(context.Background(), "A"))
	events := make(chan event.Event, 32)
	f.opts.Events = events
	o := f.orchestrator()

	_, err := o.Download(context.Background(), moss)
	require.NoError(t, err)

	tried := f.run.mirrors()
	require.Len(t, tried, 2)
	assert.Equal(t, "A", tried[0])
	assert.NotEqual(t, "A", tried[1])

	// download-scope rotation leaves the pool's selection alone
	assert.Equal(t, "A", f.pool.Selected())
	assert.Empty(t, f.pool.Excluded())

	require.Len(t, f.hist.failures, 1)
	assert.Equal(t, "A", f.hist.failures[0].Mirror)
	assert.Equal(t, 2, f.hist.downloads[0].Attempts)

	var types []event.Type
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []event.Type{
		event.DownloadStarted,
		event.AttemptFailed,
		event.MirrorSwitched,
		event.DownloadCompleted,
	}, types)
}

func TestDownloadInsufficientSpaceAborts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(transfer.Request) transfer.Outcome {
		return transfer.Outcome{Kind: transfer.InsufficientSpace, ExitCode: 1}
	}, "A")
	o := f.orchestrator()

	_, err := o.Download(context.Background(), moss)
	var space *transfer.InsufficientSpaceError
	require.ErrorAs(t, err, &space)
	assert.Equal(t, filepath.Join(downloadsDir, "Moss v7+1.2"), space.Path)

	var agg *DownloadError
	assert.False(t, errors.As(err, &agg), "no aggregate for a non-rotatable failure")
	assert.Len(t, f.run.mirrors(), 1)
}

func TestDownloadExhaustionAggregates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(req transfer.Request) transfer.Outcome {
		if req.Mirror == "A" {
			return transfer.Outcome{Kind: transfer.QuotaExceeded, ExitCode: 7}
		}
		return transfer.Outcome{Kind: transfer.HostUnreachable, ExitCode: 1}
	}, "A", "B")
	require.NoError(t, f.pool.ManualSwitch(context.Background(), "A"))
	o := f.orchestrator()

	_, err := o.Download(context.Background(), moss)
	var agg *DownloadError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, "Moss v7+1.2", agg.Release)
	require.Len(t, agg.Attempts, 2)
	assert.Equal(t, "A", agg.Attempts[0].Mirror)
	assert.Equal(t, "B", agg.Attempts[1].Mirror)

	assert.ErrorIs(t, err, mirror.ErrNoMirrors)
	assert.ErrorIs(t, err, transfer.ErrHostUnreachable)
	var quota *transfer.QuotaExceededError
	assert.ErrorAs(t, err, &quota)

	unwrapped := agg.Unwrap()
	require.Len(t, unwrapped, 3)
	assert.ErrorIs(t, unwrapped[0], mirror.ErrNoMirrors)
	assert.ErrorAs(t, unwrapped[1], &quota)

	assert.Contains(t, err.Error(), "A: ")
	assert.Contains(t, err.Error(), "B: ")
}

func TestDownloadHWIDIsNotRotated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(transfer.Request) transfer.Outcome {
		return transfer.Outcome{Kind: transfer.HWIDCheckFailed, ExitCode: 1}
	}, "A", "B")
	o := f.orchestrator()

	_, err := o.Download(context.Background(), moss)
	require.ErrorIs(t, err, transfer.ErrHWIDCheckFailed)
	assert.Len(t, f.run.mirrors(), 1)
}

func TestDownloadMissingOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	f.run.fs = afero.NewMemMapFs() // writes land elsewhere
	o := f.orchestrator()

	_, err := o.Download(context.Background(), moss)
	require.ErrorIs(t, err, ErrNoOutput)
}

func TestDownloadFreeSpacePreCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	f.opts.FreeSpace = func(string) (uint64, error) { return 10 << 20, nil }
	o := f.orchestrator()

	_, err := o.Download(context.Background(), moss)
	var space *transfer.InsufficientSpaceError
	require.ErrorAs(t, err, &space)
	assert.Empty(t, f.run.mirrors())

	f.opts.FreeSpace = func(string) (uint64, error) { return 0, errors.ErrUnsupported }
	_, err = New(f.opts).Download(context.Background(), moss)
	require.NoError(t, err)
}

func TestDownloadWaitsForConfigUpdate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	o := f.orchestrator()
	require.NoError(t, f.guards.Config.Acquire(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := o.Download(context.Background(), moss)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("download ran during a config update")
	case <-time.After(50 * time.Millisecond):
	}
	f.guards.Config.Release()
	require.NoError(t, <-done)
}

func TestDownloadCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	o := f.orchestrator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Download(ctx, moss)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.hist.failures)
}

// fakeSamples yields a fixed set of samples.
type fakeSamples []*stats.Sample

func (f fakeSamples) Samples(ctx context.Context, _ time.Duration) iter.Seq[*stats.Sample] {
	return func(yield func(*stats.Sample) bool) {
		for _, s := range f {
			if ctx.Err() != nil || !yield(s) {
				return
			}
		}
		<-ctx.Done()
	}
}

func TestDownloadProgressEvents(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := newFixture(t, func(transfer.Request) transfer.Outcome {
		<-release
		return transfer.Outcome{Kind: transfer.Success}
	}, "A")
	events := make(chan event.Event, 32)
	f.opts.Events = events
	f.opts.Progress = fakeSamples{nil, {Speed: 100, Bytes: 50}, {Speed: 300, Bytes: 350}}
	o := f.orchestrator()

	done := make(chan error, 1)
	go func() {
		_, err := o.Download(context.Background(), moss)
		done <- err
	}()

	var progress []event.Event
	deadline := time.After(5 * time.Second)
	for len(progress) < 2 {
		select {
		case ev := <-events:
			if ev.Type == event.Progress {
				progress = append(progress, ev)
			}
		case <-deadline:
			t.Fatal("timed out waiting for progress events")
		}
	}
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int64(350), progress[1].Bytes)
	assert.InDelta(t, 200.0, progress[1].Speed, 0.01)
	assert.Equal(t, moss.SizeBytes(), progress[1].Total)
	assert.True(t, f.run.reqs[0].Progress)
}

func TestSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(req transfer.Request) transfer.Outcome {
		return transfer.Outcome{Kind: transfer.Success, Stdout: `{"count":12,"bytes":943718400}`}
	}, "A")
	o := f.orchestrator()

	n, err := o.Size(context.Background(), moss)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, int64(943718400), *n)

	req := f.run.reqs[0]
	assert.Equal(t, transfer.OpSize, req.Op)
	assert.Equal(t, "A:Quest Games/Moss v7+1.2", req.Source)
	assert.Equal(t, []string{"--json"}, req.Flags)
}

func TestSizeMissingField(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(transfer.Request) transfer.Outcome {
		return transfer.Outcome{Kind: transfer.Success, Stdout: `{"count":0}`}
	}, "A")

	n, err := f.orchestrator().Size(context.Background(), moss)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestDownloadAddon(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	o := f.orchestrator()

	dest, err := o.DownloadAddon(context.Background(), "Trailers")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(downloadsDir, "Trailers"), dest)
	assert.Equal(t, "A:Quest Games/Trailers", f.run.reqs[0].Source)
	assert.False(t, f.run.reqs[0].Progress)
}

func TestDownloadAddonFailsFastWhenBusy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok, "A")
	o := f.orchestrator()
	require.True(t, f.guards.Trailers.TryAcquire())
	defer f.guards.Trailers.Release()

	_, err := o.DownloadAddon(context.Background(), "Trailers")
	require.ErrorIs(t, err, ErrAddonInProgress)
	assert.Empty(t, f.run.mirrors())
}
