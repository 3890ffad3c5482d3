package download

import (
	"context"
	"path"
	"path/filepath"

	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/transfer"
)

// Size asks the selected mirror for the release's size in bytes. It returns
// nil when the report has no byte count.
func (o *Orchestrator) Size(ctx context.Context, rec catalog.GameRecord) (*int64, error) {
	m, err := o.opts.Pool.EnsureSelected(ctx)
	if err != nil {
		return nil, err
	}
	out, err := o.opts.Runner.Run(ctx, transfer.Request{
		Op:     transfer.OpSize,
		Mirror: m,
		Source: m + ":" + path.Join(o.opts.RemoteRoot, rec.ReleaseName),
		Flags:  []string{"--json"},
	})
	if err != nil {
		return nil, err
	}
	if err := out.Err(); err != nil {
		return nil, err
	}
	return transfer.ParseSize(out.Stdout)
}

// DownloadAddon fetches an optional large asset (the trailers pack) from the
// mirrors into the downloads directory. Unlike Download it does not queue:
// a second call while one is running fails with ErrAddonInProgress.
func (o *Orchestrator) DownloadAddon(ctx context.Context, name string) (string, error) {
	g := o.opts.Guards.Trailers
	if !g.TryAcquire() {
		return "", ErrAddonInProgress
	}
	defer g.Release()

	if err := o.opts.Guards.Config.WaitIdle(ctx); err != nil {
		return "", err
	}
	if _, err := o.opts.Pool.EnsureSelected(ctx); err != nil {
		return "", err
	}
	ws := o.opts.Pool.Snapshot()

	job := &Job{
		Record: catalog.GameRecord{ReleaseName: name},
		Dest:   filepath.Join(o.opts.DownloadsDir, name),
	}
	remote := path.Join(o.opts.RemoteRoot, name)
	err := o.rotate(ctx, ws, job, func(m string) error {
		out, err := o.opts.Runner.Run(ctx, transfer.Request{
			Op:     transfer.OpCopy,
			Mirror: m,
			Source: m + ":" + remote,
			Dest:   job.Dest,
		})
		if err != nil {
			return err
		}
		return out.Err()
	})
	if err != nil {
		return "", err
	}
	o.log.Info("addon downloaded", "name", name, "mirror", ws.Current())
	return job.Dest, nil
}
