// Package download moves releases from the mirrors to local disk.
package download

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

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

const defaultPollInterval = time.Second

// Runner executes transfer-tool requests.
type Runner interface {
	Run(ctx context.Context, req transfer.Request) (transfer.Outcome, error)
}

// Reporter tells the central API about completed downloads.
type Reporter interface {
	ReportDownload(ctx context.Context, r api.DownloadReport) error
}

// Recorder keeps the download history.
type Recorder interface {
	RecordDownload(ctx context.Context, d history.Download) error
	RecordFailure(ctx context.Context, f history.Failure) error
}

// SampleSource streams transfer progress samples.
type SampleSource interface {
	Samples(ctx context.Context, interval time.Duration) iter.Seq[*stats.Sample]
}

// Options configures an Orchestrator.
type Options struct {
	Pool         *mirror.Pool
	Runner       Runner
	Guards       *guard.Set
	Fs           afero.Fs
	Reporter     Reporter     // optional
	History      Recorder     // optional
	Progress     SampleSource // optional
	Tasks        *task.Group  // optional, created when nil
	Events       chan<- event.Event
	Logger       *slog.Logger
	FreeSpace    func(path string) (uint64, error) // nil disables the pre-check
	DownloadsDir string
	RemoteRoot   string
	HWID         string
	Pruning      config.PruningPolicy
	PollInterval time.Duration
}

// Job is one download in flight.
type Job struct {
	Record   catalog.GameRecord
	Dest     string
	Attempts []Attempt
}

// Orchestrator runs downloads one at a time with mirror failover.
type Orchestrator struct {
	log  *slog.Logger
	opts Options
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Tasks == nil {
		opts.Tasks = task.NewGroup(log, 0)
	}
	return &Orchestrator{opts: opts, log: log.With("component", "download")}
}

// Tasks returns the group running best-effort background work.
func (o *Orchestrator) Tasks() *task.Group { return o.opts.Tasks }

// Download fetches rec into the downloads directory and returns its local
// path. Only one download runs at a time; callers queue on the download
// slot. Quota and operational failures rotate through a private snapshot of
// the mirror pool; any other failure is returned as is.
func (o *Orchestrator) Download(ctx context.Context, rec catalog.GameRecord) (string, error) {
	g := o.opts.Guards.Download
	if err := g.Acquire(ctx); err != nil {
		return "", err
	}
	defer g.Release()

	if err := o.opts.Guards.Config.WaitIdle(ctx); err != nil {
		return "", err
	}

	job := &Job{Record: rec, Dest: filepath.Join(o.opts.DownloadsDir, rec.ReleaseName)}
	log := o.log.With("release", rec.ReleaseName)

	if err := o.checkSpace(job); err != nil {
		o.fail(job, err)
		return "", err
	}
	if _, err := o.opts.Pool.EnsureSelected(ctx); err != nil {
		o.fail(job, err)
		return "", err
	}
	ws := o.opts.Pool.Snapshot()

	log.Info("download started", "mirror", ws.Current(), "dest", job.Dest)
	event.Send(o.opts.Events, event.Event{
		Type:    event.DownloadStarted,
		Release: rec.ReleaseName,
		Mirror:  ws.Current(),
		Path:    job.Dest,
		Total:   rec.SizeBytes(),
	})

	remote := path.Join(o.opts.RemoteRoot, rec.ReleaseName)
	err := o.rotate(ctx, ws, job, func(m string) error {
		return o.copyRelease(ctx, job, m, remote)
	})
	if err != nil {
		if !isCancel(err) {
			o.fail(job, err)
		}
		return "", err
	}

	o.finish(ctx, job, ws.Current())
	return job.Dest, nil
}

// rotate calls attempt with the working set's current mirror until it
// succeeds, fails in a way rotation cannot fix, or the set runs dry.
func (o *Orchestrator) rotate(ctx context.Context, ws *mirror.WorkingSet, job *Job, attempt func(mirror string) error) error {
	for {
		m := ws.Current()
		err := attempt(m)
		if err == nil {
			return nil
		}
		if isCancel(err) {
			return err
		}

		job.Attempts = append(job.Attempts, Attempt{Mirror: m, Err: err, At: time.Now()})
		o.recordFailure(ctx, job.Record.ReleaseName, m, err)

		if !transfer.Rotatable(err) {
			return err
		}
		o.log.Warn("mirror attempt failed, rotating", "release", job.Record.ReleaseName, "mirror", m, "error", err)
		event.Send(o.opts.Events, event.Event{
			Type:    event.AttemptFailed,
			Release: job.Record.ReleaseName,
			Mirror:  m,
			Error:   err,
		})
		o.strike(ctx, m)

		next, serr := ws.Switch(err)
		if serr != nil {
			return &DownloadError{Release: job.Record.ReleaseName, Last: serr, Attempts: job.Attempts}
		}
		event.Send(o.opts.Events, event.Event{Type: event.MirrorSwitched, Release: job.Record.ReleaseName, Mirror: next})
	}
}

// copyRelease runs one copy attempt while streaming progress events.
func (o *Orchestrator) copyRelease(ctx context.Context, job *Job, m, remote string) error {
	req := transfer.Request{
		Op:       transfer.OpCopy,
		Mirror:   m,
		Source:   m + ":" + remote,
		Dest:     job.Dest,
		Progress: o.opts.Progress != nil,
	}

	pctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if o.opts.Progress != nil {
		wg.Go(func() { o.watch(pctx, job, m) })
	}
	out, err := o.opts.Runner.Run(ctx, req)
	stop()
	wg.Wait()
	if err != nil {
		return err
	}
	if err := out.Err(); err != nil {
		return err
	}

	if ok, _ := afero.DirExists(o.opts.Fs, job.Dest); !ok {
		return fmt.Errorf("%w: %s", ErrNoOutput, job.Dest)
	}
	return nil
}

func (o *Orchestrator) watch(ctx context.Context, job *Job, m string) {
	col := stats.NewCollector(job.Record.SizeBytes())
	for s := range o.opts.Progress.Samples(ctx, o.opts.PollInterval) {
		col.Observe(s)
		if s == nil {
			continue
		}
		snap := col.Snapshot()
		event.TrySend(o.opts.Events, event.Event{
			Type:    event.Progress,
			Release: job.Record.ReleaseName,
			Mirror:  m,
			Bytes:   snap.Bytes,
			Total:   snap.Total,
			Speed:   snap.Speed,
			ETA:     snap.ETA,
		})
	}
}

// finish runs the post-download bookkeeping. None of it can fail the
// download.
func (o *Orchestrator) finish(ctx context.Context, job *Job, m string) {
	rec := job.Record
	log := o.log.With("release", rec.ReleaseName)

	if err := WriteSidecar(o.opts.Fs, job.Dest, rec); err != nil {
		log.Warn("could not write release metadata", "error", err)
	}
	if o.opts.History != nil {
		err := o.opts.History.RecordDownload(ctx, history.Download{
			Release:  rec.ReleaseName,
			Package:  rec.PackageName,
			Mirror:   m,
			Path:     job.Dest,
			Bytes:    rec.SizeBytes(),
			Attempts: len(job.Attempts) + 1,
		})
		if err != nil {
			log.Warn("could not record download", "error", err)
		}
	}
	if o.opts.Reporter != nil {
		report := api.DownloadReport{ReleaseName: rec.ReleaseName, PackageName: rec.PackageName, HWID: o.opts.HWID}
		o.opts.Tasks.Detach(ctx, "report-download", func(ctx context.Context) error {
			return o.opts.Reporter.ReportDownload(ctx, report)
		})
	}
	if err := o.Prune(rec.ReleaseName); err != nil {
		log.Warn("pruning old versions failed", "error", err)
	}

	log.Info("download complete", "mirror", m, "attempts", len(job.Attempts)+1)
	event.Send(o.opts.Events, event.Event{
		Type:    event.DownloadCompleted,
		Release: rec.ReleaseName,
		Mirror:  m,
		Path:    job.Dest,
		Total:   rec.SizeBytes(),
	})
}

func (o *Orchestrator) fail(job *Job, err error) {
	o.log.Error("download failed", "release", job.Record.ReleaseName, "error", err)
	event.Send(o.opts.Events, event.Event{
		Type:    event.DownloadFailed,
		Release: job.Record.ReleaseName,
		Path:    job.Dest,
		Error:   err,
	})
}

// checkSpace refuses a download whose declared size does not fit.
func (o *Orchestrator) checkSpace(job *Job) error {
	need := job.Record.SizeBytes()
	if o.opts.FreeSpace == nil || need <= 0 {
		return nil
	}
	free, err := o.opts.FreeSpace(job.Dest)
	if err != nil {
		o.log.Debug("free space check skipped", "error", err)
		return nil
	}
	if free < uint64(need) {
		o.log.Warn("not enough free space", "need", stats.FormatBytes(need), "free", stats.FormatBytes(int64(free))) //nolint:gosec // free fits in int64 on every real filesystem
		return &transfer.InsufficientSpaceError{Path: job.Dest}
	}
	return nil
}

func (o *Orchestrator) strike(ctx context.Context, m string) {
	if _, err := o.opts.Pool.Strike(ctx, m); err != nil {
		o.log.Debug("could not strike mirror", "mirror", m, "error", err)
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, release, m string, err error) {
	if o.opts.History == nil {
		return
	}
	if herr := o.opts.History.RecordFailure(context.WithoutCancel(ctx), history.Failure{
		Release: release,
		Mirror:  m,
		Error:   err.Error(),
	}); herr != nil {
		o.log.Warn("could not record failed attempt", "error", herr)
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
