package download

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/bamsammich/mirrorgate/internal/event"
)

// releasePattern matches "Name vVERSION+BUILD" release names.
var releasePattern = regexp.MustCompile(`^(.+?) v(\d+)\+(\S+)`)

// BaseName returns the game part of a versioned release name.
func BaseName(release string) (string, bool) {
	m := releasePattern.FindStringSubmatch(release)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Prune removes older downloaded versions of release according to the
// pruning policy. Release names that do not follow the versioned naming
// convention are left alone.
func (o *Orchestrator) Prune(release string) error {
	keep := o.opts.Pruning.KeepCount()
	if keep <= 0 {
		return nil
	}
	base, ok := BaseName(release)
	if !ok {
		o.log.Debug("release name is not versioned, skipping prune", "release", release)
		return nil
	}

	entries, err := afero.ReadDir(o.opts.Fs, o.opts.DownloadsDir)
	if err != nil {
		return fmt.Errorf("list downloads: %w", err)
	}
	var versions []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if b, ok := BaseName(e.Name()); ok && b == base {
			versions = append(versions, e.Name())
		}
	}
	// lexical order stands in for version order
	slices.SortFunc(versions, func(a, b string) int { return strings.Compare(b, a) })

	var errs []error
	for i, name := range versions {
		if i < keep || name == release {
			continue
		}
		dir := filepath.Join(o.opts.DownloadsDir, name)
		if err := o.opts.Fs.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
			continue
		}
		o.log.Info("pruned old version", "release", name)
		event.Send(o.opts.Events, event.Event{Type: event.Pruned, Release: name, Path: dir})
	}
	return errors.Join(errs...)
}
