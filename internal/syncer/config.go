package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/guard"
	"github.com/bamsammich/mirrorgate/internal/mirror"
	"github.com/bamsammich/mirrorgate/internal/platform"
)

// ConfigSource downloads the transfer-tool config directly.
type ConfigSource interface {
	DownloadConfig(ctx context.Context) (data []byte, filename string, err error)
	HasConfigOverride() bool
}

// ConfigOptions configures a ConfigSyncer.
type ConfigOptions struct {
	Pool       *mirror.Pool
	Runner     Runner
	Source     ConfigSource
	Guards     *guard.Set
	Fs         afero.Fs
	Events     chan<- event.Event
	Logger     *slog.Logger
	ConfigPath string // live rclone config
	RemotePath string // config location inside a mirror
}

// ConfigSyncer refreshes the live rclone config.
type ConfigSyncer struct {
	opts ConfigOptions
	log  *slog.Logger
}

// NewConfigSyncer returns a ConfigSyncer.
func NewConfigSyncer(opts ConfigOptions) *ConfigSyncer {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ConfigSyncer{opts: opts, log: log.With("component", "config-sync")}
}

// Update replaces the live config, preferring the central API and falling
// back to a copy from the mirrors when no override URL is configured. The
// mirror pool is reloaded afterwards since remote names may have changed.
func (s *ConfigSyncer) Update(ctx context.Context) error {
	g := s.opts.Guards.Config
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()

	via, err := s.update(ctx)
	if err != nil {
		return err
	}
	s.log.Info("transfer config updated", "via", via, "path", s.opts.ConfigPath)
	event.Send(s.opts.Events, event.Event{Type: event.ConfigUpdated, Path: s.opts.ConfigPath})

	if err := s.opts.Pool.Reload(ctx, true); err != nil {
		return fmt.Errorf("reload mirrors after config update: %w", err)
	}
	return nil
}

func (s *ConfigSyncer) update(ctx context.Context) (string, error) {
	data, filename, directErr := s.opts.Source.DownloadConfig(ctx)
	if directErr == nil {
		if filename != "" {
			s.log.Debug("config served", "filename", filename)
		}
		if err := platform.WriteFileAtomic(s.opts.Fs, s.opts.ConfigPath, data, 0o600); err != nil {
			return "", fmt.Errorf("write config: %w", err)
		}
		return "api", nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if s.opts.Source.HasConfigOverride() {
		return "", fmt.Errorf("download config from override url: %w", directErr)
	}
	s.log.Warn("direct config download failed, trying mirrors", "error", directErr)

	if _, err := s.opts.Pool.EnsureSelected(ctx); err != nil {
		return "", fmt.Errorf("config mirror fallback: %w", err)
	}
	ws := s.opts.Pool.Snapshot()
	if err := fetchWithRotation(ctx, s.opts.Fs, s.opts.Runner, ws, s.opts.RemotePath, s.opts.ConfigPath); err != nil {
		return "", fmt.Errorf("config mirror fallback: %w", err)
	}
	return "mirror " + ws.Current(), nil
}
