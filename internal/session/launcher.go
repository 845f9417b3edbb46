package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/owenthereal/action-upterm/internal/config"
	"github.com/owenthereal/action-upterm/internal/execshell"
	"github.com/owenthereal/action-upterm/internal/platform"
)

const (
	// WrapperSession is the outer tmux session hosting the upterm daemon.
	// Its death is how the monitor detects the daemon quitting without a
	// supervisory process tree.
	WrapperSession = "upterm-wrapper"

	// InnerSession is the nested tmux session a remote client ultimately
	// attaches to, via upterm's forced post-auth command.
	InnerSession = "upterm"

	// Fixed launch geometry. Wide and tall enough that narrow client
	// terminals never truncate output; both sessions switch to tracking the
	// largest attached client right after launch.
	sessionWidth  = "132"
	sessionHeight = "43"

	readyAttempts = 30
	readyDelay    = time.Second
)

// CreationError reports a failed session launch, with the side-channel
// launch log attached when it could be read.
type CreationError struct {
	Err       error
	LaunchLog string
}

func (e *CreationError) Error() string {
	if e.LaunchLog == "" {
		return fmt.Sprintf("creating upterm session: %v", e.Err)
	}
	return fmt.Sprintf("creating upterm session: %v\nlaunch log:\n%s", e.Err, e.LaunchLog)
}

func (e *CreationError) Unwrap() error { return e.Err }

// ReadinessError reports that the daemon's admin socket never appeared. The
// diagnostics blob is a single pasteable report, not a stack trace.
type ReadinessError struct {
	Attempts    int
	Diagnostics string
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("upterm admin socket did not appear after %d attempts\n\n%s", e.Attempts, e.Diagnostics)
}

// Launcher starts the nested-multiplexer session wrapping the sharing daemon
// and polls for its readiness signal.
type Launcher struct {
	cfg    *config.Config
	paths  platform.RuntimePaths
	runner *execshell.Runner
	clk    clock.Clock
	logger *slog.Logger

	readyAttempts int
	readyDelay    time.Duration
}

// NewLauncher creates a Launcher. The clock is injected so readiness polling
// is testable without real sleeps.
func NewLauncher(cfg *config.Config, paths platform.RuntimePaths, runner *execshell.Runner, clk clock.Clock) *Launcher {
	return &Launcher{
		cfg:           cfg,
		paths:         paths,
		runner:        runner,
		clk:           clk,
		logger:        slog.With("component", "launcher"),
		readyAttempts: readyAttempts,
		readyDelay:    readyDelay,
	}
}

// Start launches the outer tmux session running the upterm daemon, switches
// both sessions to client-tracking geometry, and arms the watchdog when a
// wait timeout is configured.
func (l *Launcher) Start(ctx context.Context) error {
	hostCommand := l.hostCommand()
	l.logger.Info("starting upterm session", "server", l.cfg.UptermServer, "command", hostCommand)

	_, err := l.run(ctx, "tmux", "new-session",
		"-d", "-s", WrapperSession,
		"-x", sessionWidth, "-y", sessionHeight,
		hostCommand)
	if err != nil {
		return &CreationError{Err: err, LaunchLog: l.readLaunchLog()}
	}

	// A connecting client should not stay constrained by the launch
	// geometry. The inner session may not exist yet (upterm creates it on
	// first attach), so failures here are expected and only logged.
	for _, session := range []string{WrapperSession, InnerSession} {
		if _, err := l.run(ctx, "tmux", "set", "-t", session, "window-size", "largest"); err != nil {
			l.logger.Debug("could not set window-size policy", "session", session, "error", err)
		}
	}

	if err := l.armWatchdog(); err != nil {
		return fmt.Errorf("arming watchdog: %w", err)
	}
	return nil
}

// hostCommand builds the daemon command line run inside the outer session:
// upterm in accept-all mode bound to the configured relay, forcing attaching
// clients into the inner session.
func (l *Launcher) hostCommand() string {
	parts := []string{
		"upterm", "host",
		"--accept",
		"--server", execshell.Quote(l.cfg.UptermServer),
	}
	parts = append(parts, BuildAuthArgs(l.cfg.AllowedUsers, l.cfg.Actor, l.cfg.LimitAccessToActor)...)
	parts = append(parts,
		"--force-command", execshell.Quote("tmux attach -t "+InnerSession),
		"--",
		"tmux", "new", "-s", InnerSession, "-x", sessionWidth, "-y", sessionHeight,
	)
	return strings.Join(parts, " ")
}

// BuildAuthArgs returns one --github-user flag per unique authorized
// principal (the explicit list plus the triggering actor when requested).
// Each value is single-quoted: it is interpolated through the two shell
// layers introduced by the wrapper and inner sessions.
func BuildAuthArgs(users []string, actor string, includeActor bool) []string {
	all := users
	if includeActor && actor != "" {
		all = append(append([]string{}, users...), actor)
	}

	var args []string
	seen := make(map[string]bool)
	for _, u := range all {
		if seen[u] {
			continue
		}
		seen[u] = true
		args = append(args, "--github-user", execshell.Quote(u))
	}
	return args
}

// armWatchdog schedules the background timeout: a detached shell pipeline,
// outside the controller's process tree, that after the configured wait
// touches the sentinel flag file and tears down the tmux server, but only
// when no client is attached. The attach check and the kill live in one
// pipeline because the controller is not around to arbitrate the window
// between them.
//
// The pipeline needs sh and pgrep. A stock Windows host has neither, so the
// wait timeout is inert there and the session runs until an explicit exit
// condition.
func (l *Launcher) armWatchdog() error {
	minutes := l.cfg.WaitTimeoutMinutes
	if minutes <= 0 {
		return nil
	}

	script := watchdogScript(minutes, l.paths.FlagFile)
	if err := l.runner.StartDetached(script, l.paths.WatchdogLog); err != nil {
		return err
	}
	l.logger.Info("watchdog armed", "timeout_minutes", minutes, "flag_file", l.paths.FlagFile)
	return nil
}

// watchdogScript is the detached timeout pipeline. Sleep, then check-and-kill
// in a single shell pipeline: the gap between "is anyone attached" and the
// kill must stay race-minimal, and the controller is not present to arbitrate.
// The pgrep pattern is anchored: an attach client's command line starts with
// "tmux attach", while this pipeline's own shell and the daemon (which carries
// the same text in its --force-command) do not, and an unanchored match would
// always find them and never fire.
func watchdogScript(minutes int, flagFile string) string {
	return fmt.Sprintf(
		"sleep %d; if ! pgrep -f '^tmux attach' >/dev/null 2>&1; then touch %s && tmux kill-server; fi",
		minutes*60, execshell.Quote(flagFile))
}

// WaitUntilReady polls for the daemon's admin socket with bounded retries
// and returns its path. Exhausting the retries collects diagnostics into a
// ReadinessError.
func (l *Launcher) WaitUntilReady(ctx context.Context) (string, error) {
	var socket string
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			s, err := findSocket(l.paths.SocketDir)
			if err != nil {
				return err
			}
			socket = s
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			l.logger.Debug("waiting for upterm admin socket", "attempt", attempt, "error", err)
		},
		Attempts: l.readyAttempts,
		Delay:    l.readyDelay,
		Clock:    l.clk,
		Stop:     ctx.Done(),
	})
	if err != nil {
		// A cancelled wait is the caller stopping, not the daemon failing
		// to come up; it must not be dressed up as a readiness report.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ReadinessError{
			Attempts:    l.readyAttempts,
			Diagnostics: collectDiagnostics(ctx, l.runner, l.paths),
		}
	}

	l.logger.Info("upterm session is ready", "socket", socket)
	return socket, nil
}

// findSocket looks for the daemon's admin socket. upterm names it after the
// session id, so presence of any *.sock in the directory is the signal.
func findSocket(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sock"))
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no admin socket in %s yet", dir)
	}
	return matches[0], nil
}

// run executes a launch step and mirrors its output into the side-channel
// launch log for later diagnostics. The mirroring itself must never fail the
// step: secondary errors are logged at debug level and swallowed.
func (l *Launcher) run(ctx context.Context, name string, args ...string) (execshell.Result, error) {
	res, runErr := l.runner.Run(ctx, name, args...)

	entry := fmt.Sprintf("$ %s %s\n", name, strings.Join(args, " "))
	if res.Stdout != "" {
		entry += res.Stdout + "\n"
	}
	if res.Stderr != "" {
		entry += res.Stderr + "\n"
	}
	if runErr != nil {
		entry += fmt.Sprintf("error: %v\n", runErr)
	}
	if err := appendLaunchLog(l.paths.LaunchLog, entry); err != nil {
		l.logger.Debug("could not append launch log", "error", err)
	}

	return res, runErr
}

// readLaunchLog is the best-effort read used when launch fails. It never
// returns an error: an unreadable log is reported as absent.
func (l *Launcher) readLaunchLog() string {
	data, err := os.ReadFile(l.paths.LaunchLog)
	if err != nil {
		l.logger.Debug("could not read launch log", "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

func appendLaunchLog(path, entry string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	_, err = f.WriteString(entry)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}
