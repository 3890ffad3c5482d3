package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/guard"
	"github.com/bamsammich/mirrorgate/internal/mirror"
	"github.com/bamsammich/mirrorgate/internal/platform"
)

// DefaultCatalogAttempts bounds how often an empty catalog is fetched
// before it is accepted.
const DefaultCatalogAttempts = 3

// MetadataSource serves popularity stats and the blacklist.
type MetadataSource interface {
	Popularity(ctx context.Context) ([]catalog.PopularityStat, error)
	Blacklist(ctx context.Context) ([]byte, error)
}

// MetadataOptions configures a MetadataSyncer.
type MetadataOptions struct {
	Pool          *mirror.Pool
	Runner        Runner
	Source        MetadataSource
	Guards        *guard.Set
	Fs            afero.Fs
	Cache         *catalog.Cache // optional
	Events        chan<- event.Event
	Logger        *slog.Logger
	RemoteRoot    string
	CatalogFile   string
	BlacklistFile string
	CatalogPath   string // local copy of the catalog file
	BlacklistPath string
	Attempts      int
}

// MetadataSyncer loads the catalog and its enrichments.
type MetadataSyncer struct {
	current atomic.Pointer[catalog.Catalog]
	log     *slog.Logger
	opts    MetadataOptions
}

// NewMetadataSyncer returns a MetadataSyncer with no catalog loaded.
func NewMetadataSyncer(opts MetadataOptions) *MetadataSyncer {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultCatalogAttempts
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MetadataSyncer{opts: opts, log: log.With("component", "metadata-sync")}
}

// Catalog returns the loaded catalog, or nil before the first load.
func (s *MetadataSyncer) Catalog() *catalog.Catalog {
	return s.current.Load()
}

// EnsureCatalog loads the catalog unless one is loaded and force is false.
// Once the catalog guard is held the load runs to completion regardless of
// ctx. Popularity and blacklist failures are logged, not returned.
func (s *MetadataSyncer) EnsureCatalog(ctx context.Context, force bool) error {
	if !force && s.current.Load() != nil {
		return nil
	}

	g := s.opts.Guards.Catalog
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	ctx = context.WithoutCancel(ctx)

	if !force && s.current.Load() != nil {
		return nil
	}
	if err := s.opts.Guards.Config.WaitIdle(ctx); err != nil {
		return err
	}

	records, ws, err := s.loadRecords(ctx)
	if err != nil {
		return err
	}

	if prev := s.current.Load(); prev != nil {
		for i := range records {
			if old, ok := prev.Lookup(records[i].ReleaseName); ok {
				records[i].Popularity = old.Popularity
			}
		}
	}
	s.applyPopularity(ctx, records)
	bl := s.loadBlacklist(ctx, ws)

	fromCache := ws == nil
	if s.opts.Cache != nil && !fromCache && len(records) > 0 {
		if err := s.opts.Cache.Save(records); err != nil {
			s.log.Warn("could not cache catalog", "error", err)
		}
	}

	cat := catalog.New(records, bl)
	s.current.Store(cat)
	s.log.Info("catalog loaded", "records", cat.Len(), "blacklisted", len(bl), "cached", fromCache)
	event.Send(s.opts.Events, event.Event{Type: event.CatalogLoaded, Bytes: int64(cat.Len())})
	return nil
}

// loadRecords fetches from the mirrors, serving the cached catalog when
// every mirror is unavailable. The returned working set is positioned on
// the mirror that served the catalog; it is nil for a cached catalog.
func (s *MetadataSyncer) loadRecords(ctx context.Context) ([]catalog.GameRecord, *mirror.WorkingSet, error) {
	records, ws, err := s.fetchCatalog(ctx)
	if err == nil {
		return records, ws, nil
	}
	if !errors.Is(err, mirror.ErrNoMirrors) || s.opts.Cache == nil {
		return nil, nil, err
	}
	cached, savedAt, cerr := s.opts.Cache.Load()
	if cerr != nil {
		return nil, nil, err
	}
	s.log.Warn("no mirror reachable, serving cached catalog", "saved_at", savedAt, "error", err)
	return cached, nil, nil
}

func (s *MetadataSyncer) fetchCatalog(ctx context.Context) ([]catalog.GameRecord, *mirror.WorkingSet, error) {
	if _, err := s.opts.Pool.EnsureSelected(ctx); err != nil {
		return nil, nil, err
	}
	ws := s.opts.Pool.Snapshot()

	for attempt := 1; ; attempt++ {
		err := fetchWithRotation(ctx, s.opts.Fs, s.opts.Runner, ws,
			path.Join(s.opts.RemoteRoot, s.opts.CatalogFile), s.opts.CatalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch catalog: %w", err)
		}

		data, err := afero.ReadFile(s.opts.Fs, s.opts.CatalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read catalog: %w", err)
		}
		records, skipped, err := catalog.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, nil, err
		}
		if skipped > 0 {
			s.log.Warn("skipped malformed catalog lines", "count", skipped)
		}
		if len(records) > 0 {
			return records, ws, nil
		}
		if attempt >= s.opts.Attempts {
			s.log.Warn("catalog is empty, accepting it", "attempts", attempt, "mirror", ws.Current())
			return records, ws, nil
		}
		s.log.Info("catalog parsed to zero records, retrying", "attempt", attempt, "mirror", ws.Current())
	}
}

func (s *MetadataSyncer) applyPopularity(ctx context.Context, records []catalog.GameRecord) {
	if s.opts.Source == nil {
		return
	}
	stats, err := s.opts.Source.Popularity(ctx)
	if err != nil {
		s.log.Warn("could not load popularity", "error", err)
		return
	}
	n := catalog.ApplyPopularity(records, stats)
	s.log.Debug("popularity applied", "records", n, "stats", len(stats))
}

// loadBlacklist prefers the API, then the mirror that served the catalog
// (rotating within ws), then whatever was saved last time.
func (s *MetadataSyncer) loadBlacklist(ctx context.Context, ws *mirror.WorkingSet) catalog.Blacklist {
	data, err := s.blacklistFromAPI(ctx)
	if err == nil {
		return catalog.ParseBlacklist(data)
	}
	s.log.Warn("blacklist download failed, trying mirror", "error", err)

	if err := s.blacklistFromMirror(ctx, ws); err != nil {
		s.log.Warn("mirror blacklist copy failed", "error", err)
	}
	prev, err := afero.ReadFile(s.opts.Fs, s.opts.BlacklistPath)
	if err != nil {
		return nil
	}
	return catalog.ParseBlacklist(prev)
}

func (s *MetadataSyncer) blacklistFromAPI(ctx context.Context) ([]byte, error) {
	if s.opts.Source == nil {
		return nil, errors.New("no blacklist source")
	}
	data, err := s.opts.Source.Blacklist(ctx)
	if err != nil {
		return nil, err
	}
	if err := platform.WriteFileAtomic(s.opts.Fs, s.opts.BlacklistPath, data, 0o644); err != nil {
		s.log.Warn("could not save blacklist", "error", err)
	}
	return data, nil
}

func (s *MetadataSyncer) blacklistFromMirror(ctx context.Context, ws *mirror.WorkingSet) error {
	if s.opts.BlacklistFile == "" {
		return errors.New("no mirror blacklist configured")
	}
	remote := path.Join(s.opts.RemoteRoot, s.opts.BlacklistFile)
	if ws != nil {
		return fetchWithRotation(ctx, s.opts.Fs, s.opts.Runner, ws, remote, s.opts.BlacklistPath)
	}
	m := s.opts.Pool.Selected()
	if m == "" {
		return &mirror.NoMirrorsError{Scope: mirror.ScopeSession}
	}
	return fetchFrom(ctx, s.opts.Fs, s.opts.Runner, m, remote, s.opts.BlacklistPath)
}
