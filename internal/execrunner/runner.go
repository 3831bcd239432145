// Package execrunner is the fallback transport: one-shot command
// execution without a PTY, bounded in time and output size.
package execrunner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/model"
)

// Result carries the outcome of one execution. On timeout it holds
// whatever output was captured before the kill.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Options configures a Runner.
type Options struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int
}

// Runner executes commands synchronously. No session state is kept.
type Runner struct {
	opts Options
	log  *zap.Logger
}

// NewRunner creates a runner with the given bounds.
func NewRunner(opts Options, log *zap.Logger) *Runner {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 5 * time.Minute
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	return &Runner{opts: opts, log: log}
}

// Run tokenizes command shell-style and executes it in its own process
// group. Stdout and stderr are captured separately, each capped at
// MaxOutputBytes. A timeout of 0 means the default; timeouts are clamped
// to MaxTimeout. On timeout the whole process group is killed and
// ErrTimeout is returned alongside the partial result.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	start := time.Now()

	words, err := shellquote.Split(command)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrExecutionFailed, err)
	}
	if len(words) == 0 {
		return Result{}, fmt.Errorf("%w: empty command", model.ErrExecutionFailed)
	}

	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	if timeout > r.opts.MaxTimeout {
		timeout = r.opts.MaxTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(words[0], words[1:]...)
	// Own process group, so a timeout kill takes children down too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newLimitWriter(r.opts.MaxOutputBytes)
	stderr := newLimitWriter(r.opts.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrExecutionFailed, err)
	}
	pgid := cmd.Process.Pid

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var timedOut, interrupted bool
	var werr error
	select {
	case werr = <-waitErr:
	case <-ctx.Done():
		syscall.Kill(-pgid, syscall.SIGKILL)
		werr = <-waitErr
		// The caller's context going away mid-run is not a timeout;
		// only the deadline is.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			timedOut = true
		} else {
			interrupted = true
		}
	}

	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode(werr),
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}

	r.log.Debug("exec finished",
		zap.String("command", words[0]),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration))

	if timedOut {
		return res, fmt.Errorf("%w after %s", model.ErrTimeout, timeout)
	}
	if interrupted {
		return res, ctx.Err()
	}
	return res, nil
}

// exitCode maps cmd.Wait's error to a shell-style exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}

// limitWriter captures up to max bytes and discards the rest, recording
// that truncation happened. Safe for the concurrent stdout/stderr copies
// exec.Cmd may spawn.
type limitWriter struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newLimitWriter(max int) *limitWriter {
	return &limitWriter{max: max}
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	room := w.max - len(w.buf)
	if room <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		w.buf = append(w.buf, p[:room]...)
		w.truncated = true
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *limitWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

func (w *limitWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
