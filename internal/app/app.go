// Package app assembles the mirror engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/bamsammich/mirrorgate/internal/api"
	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/config"
	"github.com/bamsammich/mirrorgate/internal/download"
	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/guard"
	"github.com/bamsammich/mirrorgate/internal/history"
	"github.com/bamsammich/mirrorgate/internal/mirror"
	"github.com/bamsammich/mirrorgate/internal/platform"
	"github.com/bamsammich/mirrorgate/internal/stats"
	"github.com/bamsammich/mirrorgate/internal/syncer"
	"github.com/bamsammich/mirrorgate/internal/task"
	"github.com/bamsammich/mirrorgate/internal/transfer"
)

var (
	// ErrNoDevice is returned by BeginInstall when no headset is connected.
	ErrNoDevice = errors.New("no device connected")

	// ErrNoCatalog means no catalog has been loaded yet.
	ErrNoCatalog = errors.New("catalog not loaded")

	// ErrUnknownRelease means the catalog has no such release.
	ErrUnknownRelease = errors.New("unknown release")
)

// DeviceState reports whether the target device is connected.
type DeviceState interface {
	Connected() bool
}

// Options configures New.
type Options struct {
	Config     config.Config
	Events     chan<- event.Event
	Logger     *slog.Logger
	Fs         afero.Fs     // defaults to the OS filesystem
	HTTPClient *http.Client // for the central API
	HardwareID string       // defaults to platform.HardwareID()
	FreeSpace  func(path string) (uint64, error)
}

// Engine is the assembled set of components behind every CLI command.
type Engine struct {
	Config    config.Config
	Guards    *guard.Set
	Executor  *transfer.Executor
	Pool      *mirror.Pool
	API       *api.Client
	Configs   *syncer.ConfigSyncer
	Metadata  *syncer.MetadataSyncer
	Downloads *download.Orchestrator
	History   *history.DB
	Tasks     *task.Group

	log       *slog.Logger
	fs        afero.Fs
	cache     *catalog.Cache
	closeOnce sync.Once
	closeErr  error
}

// New wires every component from opts. It creates the data and downloads
// directories and opens the catalog cache and history databases.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	for _, dir := range []string{cfg.Paths.Data, cfg.Paths.Downloads} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	hwid := opts.HardwareID
	if hwid == "" {
		hwid = platform.HardwareID()
	}
	freeSpace := opts.FreeSpace
	if freeSpace == nil {
		freeSpace = platform.FreeBytes
	}

	cache, err := catalog.OpenCache(cfg.CatalogCachePath())
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	guards := guard.NewSet()
	tasks := task.NewGroup(log, 0)
	exec := transfer.NewExecutor(transfer.Options{
		Events:     opts.Events,
		Logger:     log,
		Binary:     cfg.Paths.Rclone,
		ConfigPath: cfg.RcloneConfigPath(),
		BWLimit:    cfg.Transfer.BWLimit,
		Proxy:      cfg.Transfer.Proxy,
		HardwareID: hwid,
		Retries:    cfg.Transfer.Retries,
		RCPort:     cfg.Transfer.RCPort,
		Grace:      cfg.Transfer.Grace,
	})
	client := api.NewClient(api.Options{
		HTTPClient: opts.HTTPClient,
		Logger:     log,
		BaseURL:    cfg.API.BaseURL,
		ConfigURL:  cfg.API.ConfigURL,
		Timeout:    cfg.API.Timeout,
		MaxRPS:     cfg.API.MaxRPS,
	})
	pool := mirror.NewPool(mirror.Options{
		Lister:     exec,
		Dead:       client,
		Guards:     guards,
		Events:     opts.Events,
		Logger:     log,
		MaxStrikes: cfg.Mirrors.MaxStrikes,
	})

	e := &Engine{
		Config:   cfg,
		Guards:   guards,
		Executor: exec,
		Pool:     pool,
		API:      client,
		History:  hist,
		Tasks:    tasks,
		log:      log.With("component", "app"),
		fs:       fs,
		cache:    cache,
	}
	e.Configs = syncer.NewConfigSyncer(syncer.ConfigOptions{
		Pool:       pool,
		Runner:     exec,
		Source:     client,
		Guards:     guards,
		Fs:         fs,
		Events:     opts.Events,
		Logger:     log,
		ConfigPath: cfg.RcloneConfigPath(),
		RemotePath: cfg.Mirrors.ConfigRemotePath,
	})
	e.Metadata = syncer.NewMetadataSyncer(syncer.MetadataOptions{
		Pool:          pool,
		Runner:        exec,
		Source:        client,
		Guards:        guards,
		Fs:            fs,
		Cache:         cache,
		Events:        opts.Events,
		Logger:        log,
		RemoteRoot:    cfg.Mirrors.RemoteRoot,
		CatalogFile:   cfg.Mirrors.CatalogFile,
		BlacklistFile: cfg.Mirrors.BlacklistFile,
		CatalogPath:   cfg.CatalogPath(),
		BlacklistPath: cfg.BlacklistPath(),
	})
	e.Downloads = download.New(download.Options{
		Pool:         pool,
		Runner:       exec,
		Guards:       guards,
		Fs:           fs,
		Reporter:     client,
		History:      hist,
		Progress:     stats.NewPoller(exec.RCAddr(), nil, log),
		Tasks:        tasks,
		Events:       opts.Events,
		Logger:       log,
		FreeSpace:    freeSpace,
		DownloadsDir: cfg.Paths.Downloads,
		RemoteRoot:   cfg.Mirrors.RemoteRoot,
		HWID:         hwid,
		Pruning:      cfg.Downloads.Pruning,
	})
	return e, nil
}

// Start runs the startup sequence: refresh the transfer-tool config, then
// load the catalog. Config failures are logged and the existing config is
// used; the catalog error is returned so callers that need it can stop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Configs.Update(ctx); err != nil {
		if isCancel(err) {
			return err
		}
		e.log.Warn("config update failed, using existing config", "error", err)
	}
	return e.Metadata.EnsureCatalog(ctx, false)
}

// Refresh forces a config update and a catalog reload.
func (e *Engine) Refresh(ctx context.Context) error {
	cerr := e.Configs.Update(ctx)
	if isCancel(cerr) {
		return cerr
	}
	return errors.Join(cerr, e.Metadata.EnsureCatalog(ctx, true))
}

// Catalog returns the loaded catalog.
func (e *Engine) Catalog() (*catalog.Catalog, error) {
	c := e.Metadata.Catalog()
	if c == nil {
		return nil, ErrNoCatalog
	}
	return c, nil
}

// Lookup finds release in the loaded catalog.
func (e *Engine) Lookup(release string) (catalog.GameRecord, error) {
	c, err := e.Catalog()
	if err != nil {
		return catalog.GameRecord{}, err
	}
	rec, ok := c.Lookup(release)
	if !ok {
		return catalog.GameRecord{}, fmt.Errorf("%w: %s", ErrUnknownRelease, release)
	}
	return rec, nil
}

// Download fetches the named release.
func (e *Engine) Download(ctx context.Context, release string) (string, error) {
	rec, err := e.Lookup(release)
	if err != nil {
		return "", err
	}
	return e.Downloads.Download(ctx, rec)
}

// DownloadTrailers fetches the optional trailers addon.
func (e *Engine) DownloadTrailers(ctx context.Context) (string, error) {
	return e.Downloads.DownloadAddon(ctx, e.Config.Mirrors.TrailersFile)
}

// CanSwitchMirror reports whether a manual mirror switch would be accepted
// right now. The check does not take any guard, so a refresh may start
// immediately afterwards; the switch itself still goes through the pool.
func (e *Engine) CanSwitchMirror() bool {
	return !e.Guards.RefreshInProgress() && !e.Guards.Download.Busy()
}

// BeginInstall takes the install slot for an install onto dev. The returned
// release func frees it and is safe to call more than once.
func (e *Engine) BeginInstall(ctx context.Context, dev DeviceState) (func(), error) {
	if dev == nil || !dev.Connected() {
		return nil, ErrNoDevice
	}
	g := e.Guards.Install
	if err := g.Acquire(ctx); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(g.Release) }, nil
}

// CompleteInstall applies the delete-after-install pruning policy to an
// installed release.
func (e *Engine) CompleteInstall(release string) error {
	if e.Config.Downloads.Pruning != config.DeleteAfterInstall {
		return nil
	}
	dir := filepath.Join(e.Config.Paths.Downloads, release)
	if err := e.fs.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	e.log.Info("removed installed download", "release", release)
	return nil
}

// Close waits briefly for background tasks, removes leftover temp files and
// closes the databases.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Tasks.Wait(ctx); err != nil {
			e.log.Warn("background tasks still running at exit", "error", err)
		}
		platform.CleanupTmpFiles()
		e.closeErr = errors.Join(e.cache.Close(), e.History.Close())
	})
	return e.closeErr
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
