package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/mirrorgate/internal/app"
	"github.com/bamsammich/mirrorgate/internal/config"
	"github.com/bamsammich/mirrorgate/internal/event"
	"github.com/bamsammich/mirrorgate/internal/transfer"
	"github.com/bamsammich/mirrorgate/internal/ui"
	"github.com/bamsammich/mirrorgate/internal/ui/tui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	logFile     string
	downloads   string
	bwLimit     string
	verbose     bool
	quiet       bool
	tui         bool
	showVersion bool
}

func run() int {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "mirrorgate",
		Short:         "Download games from a rotating pool of mirrors",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.showVersion {
				fmt.Fprintf(os.Stdout, "mirrorgate %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "only print errors")
	pf.StringVar(&g.logFile, "log", "", "write structured JSON log to FILE")
	pf.StringVar(&g.downloads, "downloads", "", "downloads directory")
	pf.StringVar(&g.bwLimit, "bwlimit", "", "bandwidth limit for transfers (e.g. 10M)")
	pf.BoolVar(&g.tui, "tui", false, "full-screen progress display")
	rootCmd.Flags().BoolVar(&g.showVersion, "version", false, "print version and exit")

	rootCmd.AddCommand(
		refreshCmd(&g),
		catalogCmd(&g),
		downloadCmd(&g),
		sizeCmd(&g),
		mirrorsCmd(&g),
		historyCmd(&g),
		trailersCmd(&g),
		newDocsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, transfer.ErrHWIDCheckFailed) {
			return 3
		}
		return 2
	}
	return 0
}

// setupLogging installs the default slog logger. The returned func closes
// the log file, if any.
func (g *globalFlags) setupLogging() (func(), error) {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	} else if !g.quiet {
		level = slog.LevelInfo
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	closeLog := func() {}
	if g.logFile != "" {
		lf, err := os.Create(g.logFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		closeLog = func() { _ = lf.Close() }
		handler = ui.NewMultiHandler(handler, slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(slog.New(handler))
	return closeLog, nil
}

// loadConfig reads the config file and applies flag overrides.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		slog.Debug("flag set", "flag", f.Name, "value", f.Value.String())
	})
	if cmd.Flags().Changed("downloads") {
		cfg.Paths.Downloads = g.downloads
	}
	if cmd.Flags().Changed("bwlimit") {
		if _, err := config.ParseSize(g.bwLimit); err != nil {
			return config.Config{}, fmt.Errorf("invalid --bwlimit: %w", err)
		}
		cfg.Transfer.BWLimit = g.bwLimit
	}
	return cfg, nil
}

// withEngine builds the engine and a presenter, runs fn, and tears both
// down. With --tui the presenter owns the foreground and fn runs in the
// background; quitting the TUI cancels fn.
func (g *globalFlags) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) error {
	closeLog, err := g.setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan event.Event, 256)
	e, err := app.New(app.Options{Config: cfg, Events: events})
	if err != nil {
		return err
	}

	presenterEvents := (<-chan event.Event)(events)
	if g.logFile != "" {
		presenterEvents = teeEvents(events)
	}

	useTUI := g.tui && ui.IsTTY(os.Stdout.Fd())
	if g.tui && !useTUI {
		slog.Warn("--tui requires a terminal, falling back to line output")
	}

	var presenter ui.Presenter
	if useTUI {
		presenter = tui.NewPresenter(tui.Config{OnQuit: stop})
	} else {
		presenter = ui.NewPresenter(ui.Config{
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Quiet:     g.quiet,
			Verbose:   g.verbose,
			Width:     ui.Width(os.Stderr.Fd()),
		})
	}

	var runErr error
	work := func() {
		runErr = fn(ctx, e)
		if cerr := e.Close(); cerr != nil {
			slog.Warn("shutdown", "error", cerr)
		}
		close(events)
	}

	if useTUI {
		var wg sync.WaitGroup
		wg.Go(work)
		_ = presenter.Run(presenterEvents) //nolint:errcheck // presenter error is non-fatal
		stop()
		wg.Wait()
	} else {
		var presenterErr error
		var wg sync.WaitGroup
		wg.Go(func() { presenterErr = presenter.Run(presenterEvents) })
		work()
		wg.Wait()
		if presenterErr != nil {
			fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
		}
	}

	if !g.quiet {
		if s := presenter.Summary(); s != "" {
			fmt.Fprintln(os.Stderr, s)
		}
	}
	return runErr
}

// teeEvents logs every event as a structured record before forwarding it.
func teeEvents(in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		for ev := range in {
			attrs := []slog.Attr{slog.String("type", ev.Type.String())}
			for _, kv := range []struct{ k, v string }{
				{"release", ev.Release}, {"mirror", ev.Mirror}, {"path", ev.Path},
			} {
				if kv.v != "" {
					attrs = append(attrs, slog.String(kv.k, kv.v))
				}
			}
			if ev.Bytes > 0 {
				attrs = append(attrs, slog.Int64("bytes", ev.Bytes))
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			slog.LogAttrs(context.Background(), slog.LevelDebug, "mirrorgate.event", attrs...)
			out <- ev
		}
		close(out)
	}()
	return out
}

// exitError carries a process exit code; err, when set, is printed first.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// downloadFailed maps a failed download to its exit code.
func downloadFailed(err error) error {
	if errors.Is(err, context.Canceled) {
		return &exitError{code: 130, err: err}
	}
	if errors.Is(err, transfer.ErrHWIDCheckFailed) {
		return &exitError{code: 3, err: err}
	}
	if errors.Is(err, app.ErrUnknownRelease) || errors.Is(err, app.ErrNoCatalog) {
		return &exitError{code: 2, err: err}
	}
	return &exitError{code: 1, err: err}
}
