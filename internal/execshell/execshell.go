// Package execshell runs external commands as scoped child-process
// acquisitions: stdout and stderr are always fully drained and captured, and
// exit status is always observed before a call is considered complete. A
// non-zero exit surfaces as a CommandError carrying the captured stderr,
// never as a silently ignored failure.
package execshell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultGrace is how long a timed-out command is given to exit after the
// graceful terminate signal before it is forcefully killed.
const DefaultGrace = 5 * time.Second

// CommandError wraps a failed command with its captured stderr so callers
// never see a bare exit code without context.
type CommandError struct {
	Command string
	Err     error
	Stderr  string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Result holds the drained output streams of a completed command.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes child processes with a fixed extra environment overlay.
// The overlay is how computed runtime paths reach every subprocess: the
// runner is the only place they are serialized into environment form.
type Runner struct {
	extraEnv []string
	grace    time.Duration
	logger   *slog.Logger
}

// New creates a Runner that injects extraEnv (KEY=VALUE pairs) into every
// child it spawns, on top of the current process environment.
func New(extraEnv []string) *Runner {
	return &Runner{
		extraEnv: extraEnv,
		grace:    DefaultGrace,
		logger:   slog.With("component", "exec"),
	}
}

func (r *Runner) environ() []string {
	return append(os.Environ(), r.extraEnv...)
}

// Run executes a command and waits for it, returning its drained output.
// If ctx is cancelled the process receives the graceful terminate signal and
// is killed after the grace period if it has not exited.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	display := name + " " + strings.Join(args, " ")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = r.grace

	r.logger.Debug("running command", "command", display)
	err := cmd.Run()

	res := Result{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if err != nil {
		return res, &CommandError{Command: display, Err: err, Stderr: res.Stderr}
	}
	return res, nil
}

// RunTimeout is Run with a command-level deadline.
func (r *Runner) RunTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Run(ctx, name, args...)
}

// Shell runs a script through the shell. Used where the command is a
// pipeline rather than a single argv.
func (r *Runner) Shell(ctx context.Context, script string) (Result, error) {
	return r.Run(ctx, "sh", "-c", script)
}

// StartDetached launches a shell pipeline in its own session so it survives
// the controller's exit, with output appended to logPath. The process is
// released immediately: the controller's only further contact with it is
// through the filesystem artifacts it produces.
func (r *Runner) StartDetached(script, logPath string) error {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening detached process log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command("sh", "-c", script)
	cmd.Env = r.environ()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting detached process: %w", err)
	}

	r.logger.Debug("started detached process", "pid", cmd.Process.Pid, "log", logPath)
	return cmd.Process.Release()
}

// Quote single-quotes a value for interpolation into a shell command string.
// Values that pass through the nested multiplexer sessions cross two shell
// quoting layers, so quoting here is mandatory, not stylistic.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
