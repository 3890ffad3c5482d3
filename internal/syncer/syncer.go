// Package syncer keeps the transfer-tool config and the game catalog in
// sync with the central API and the mirrors.
package syncer

import (
	"context"
	"fmt"
	"path"

	"github.com/spf13/afero"

	"github.com/bamsammich/mirrorgate/internal/mirror"
	"github.com/bamsammich/mirrorgate/internal/platform"
	"github.com/bamsammich/mirrorgate/internal/transfer"
)

// Runner executes transfer-tool requests.
type Runner interface {
	Run(ctx context.Context, req transfer.Request) (transfer.Outcome, error)
}

// remotePath joins a mirror name and a path inside it.
func remotePath(mirrorName string, elem ...string) string {
	return mirrorName + ":" + path.Join(elem...)
}

// fetchWithRotation copies remote (relative to each mirror) to dst, rotating
// through ws on rotatable failures. The temp file is renamed over dst only
// after a successful copy.
func fetchWithRotation(ctx context.Context, fs afero.Fs, run Runner, ws *mirror.WorkingSet, remote, dst string) error {
	for {
		if err := fetchFrom(ctx, fs, run, ws.Current(), remote, dst); err != nil {
			if !transfer.Rotatable(err) {
				return err
			}
			if _, serr := ws.Switch(err); serr != nil {
				return serr
			}
			continue
		}
		return nil
	}
}

// fetchFrom makes one copyto attempt from a single mirror.
func fetchFrom(ctx context.Context, fs afero.Fs, run Runner, mirrorName, remote, dst string) error {
	tmp := platform.TempPath(dst)
	platform.RegisterTmp(fs, tmp)
	defer func() {
		platform.DeregisterTmp(tmp)
		_ = fs.Remove(tmp)
	}()

	out, err := run.Run(ctx, transfer.Request{
		Op:     transfer.OpCopyTo,
		Mirror: mirrorName,
		Source: remotePath(mirrorName, remote),
		Dest:   tmp,
	})
	if err != nil {
		return err
	}
	if err := out.Err(); err != nil {
		return err
	}
	if _, err := fs.Stat(tmp); err != nil {
		return fmt.Errorf("copy of %s reported success but produced no file: %w", remote, err)
	}
	return platform.ReplaceFile(fs, tmp, dst)
}
