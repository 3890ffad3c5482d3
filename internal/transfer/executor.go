package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bamsammich/mirrorgate/internal/event"
)

// DefaultGrace is how long an interrupted rclone gets to exit before it is
// killed.
const DefaultGrace = 3 * time.Second

// HWIDHeader carries the hashed hardware id on every remote invocation.
const HWIDHeader = "X-Hwid"

// Options configures an Executor.
type Options struct {
	Events     chan<- event.Event
	Logger     *slog.Logger
	Binary     string // rclone executable, default "rclone"
	ConfigPath string // passed as --config when set
	BWLimit    string // --bwlimit value for data-moving ops
	Proxy      string // exported as http_proxy and https_proxy
	HardwareID string // hashed id sent in the X-Hwid header
	Retries    int
	RCPort     int
	Grace      time.Duration
}

// Executor runs rclone and classifies its result. It is safe for
// concurrent use.
type Executor struct {
	log  *slog.Logger
	opts Options
}

// NewExecutor returns an Executor with defaults applied.
func NewExecutor(opts Options) *Executor {
	if opts.Binary == "" {
		opts.Binary = "rclone"
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{opts: opts, log: log.With("component", "transfer")}
}

// RCAddr is the address of the rc endpoint enabled by Request.Progress.
func (e *Executor) RCAddr() string {
	return "127.0.0.1:" + strconv.Itoa(e.opts.RCPort)
}

// Args builds the argument vector for req.
func (e *Executor) Args(req Request) []string {
	args := []string{req.Op.String(), "--retries", strconv.Itoa(e.opts.Retries)}
	if e.opts.BWLimit != "" && req.Op.moves() {
		args = append(args, "--bwlimit", e.opts.BWLimit)
	}
	if e.opts.ConfigPath != "" {
		args = append(args, "--config", e.opts.ConfigPath)
	}
	if req.Mirror != "" && e.opts.HardwareID != "" {
		args = append(args, "--header", HWIDHeader+":"+e.opts.HardwareID)
	}
	if req.Progress {
		args = append(args, "--rc", "--rc-addr", e.RCAddr(), "--rc-no-auth")
	}
	args = append(args, req.Source)
	if req.Dest != "" {
		args = append(args, req.Dest)
	}
	return append(args, req.Flags...)
}

// Run executes req and classifies the result. The returned error is
// non-nil only when ctx is done or the binary could not be started; every
// other failure is described by the Outcome.
func (e *Executor) Run(ctx context.Context, req Request) (Outcome, error) {
	args := e.Args(req)
	res, err := e.exec(ctx, args)
	if err != nil {
		return Outcome{}, err
	}

	kind, ruleName := Classify(res.exitCode, res.output)
	out := Outcome{
		Kind:     kind,
		Op:       req.Op,
		Mirror:   req.Mirror,
		Path:     req.Dest,
		ExitCode: res.exitCode,
		Output:   res.output,
		Stdout:   res.stdout,
	}

	log := e.log.With("op", req.Op, "mirror", req.Mirror, "exit", res.exitCode)
	switch kind {
	case Success:
		log.Debug("transfer finished", "source", req.Source)
	case HostUnreachable:
		log.Debug("mirror host unreachable", "rule", ruleName)
	case HWIDCheckFailed:
		log.Error("hardware id rejected by mirror", "rule", ruleName)
		event.Send(e.opts.Events, event.Event{
			Type:   event.HWIDCheckFailed,
			Mirror: req.Mirror,
			Error:  ErrHWIDCheckFailed,
		})
	default:
		log.Warn("transfer failed", "kind", kind, "rule", ruleName, "output", lastLines(res.output, 3))
	}
	return out, nil
}

// ListRemotes returns the remotes defined in the rclone config, without the
// trailing colon.
func (e *Executor) ListRemotes(ctx context.Context) ([]string, error) {
	args := []string{"listremotes"}
	if e.opts.ConfigPath != "" {
		args = append(args, "--config", e.opts.ConfigPath)
	}
	res, err := e.exec(ctx, args)
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, &UnknownFailureError{Op: "listremotes", ExitCode: res.exitCode, Output: res.output}
	}
	return ParseRemotes(res.stdout), nil
}

// ParseRemotes parses listremotes output.
func ParseRemotes(out string) []string {
	var remotes []string
	for line := range strings.Lines(out) {
		name := strings.TrimSuffix(strings.TrimSpace(line), ":")
		if name == "" {
			continue
		}
		remotes = append(remotes, name)
	}
	return remotes
}

type result struct {
	output   string
	stdout   string
	exitCode int
}

func (e *Executor) exec(ctx context.Context, args []string) (result, error) {
	if err := ctx.Err(); err != nil {
		return result{}, err
	}

	var stdout bytes.Buffer
	combined := &lockedBuffer{}

	cmd := exec.CommandContext(ctx, e.opts.Binary, args...)
	cmd.Stdout = io.MultiWriter(&stdout, combined)
	cmd.Stderr = combined
	cmd.Env = e.env()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.opts.Grace

	e.log.Debug("exec", "binary", e.opts.Binary, "args", args)
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result{}, ctxErr
	}

	res := result{output: combined.String(), stdout: stdout.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result{}, fmt.Errorf("run %s: %w", e.opts.Binary, err)
		}
		res.exitCode = exitErr.ExitCode()
	}
	return res, nil
}

func (e *Executor) env() []string {
	env := os.Environ()
	if e.opts.Proxy != "" {
		env = append(env,
			"http_proxy="+e.opts.Proxy,
			"https_proxy="+e.opts.Proxy,
			"HTTP_PROXY="+e.opts.Proxy,
			"HTTPS_PROXY="+e.opts.Proxy,
		)
	}
	return env
}

// lockedBuffer serializes writes from the stdout and stderr copiers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
