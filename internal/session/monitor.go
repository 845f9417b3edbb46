package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/owenthereal/action-upterm/internal/execshell"
	"github.com/owenthereal/action-upterm/internal/platform"
)

// DefaultPollInterval is the monitor cadence. Deliberately coarser than the
// readiness poll: once the session is up, there is no hurry.
const DefaultPollInterval = 5 * time.Second

const statusQueryTimeout = 30 * time.Second

// connectionErrorSignatures are the error-text patterns upterm emits when
// its admin socket endpoint is gone. They are specific to upterm: an
// implementation targeting a different daemon must re-derive them rather
// than assume these substrings are portable.
var connectionErrorSignatures = []string{
	"connection refused",
	"no such file or directory",
}

// MonitorError is an unrecognized status-query failure. It aborts monitoring
// rather than retrying: silent infinite retry on an unknown failure mode is
// worse than a loud stop.
type MonitorError struct {
	Err error
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("monitoring session: unrecognized status query failure: %v", e.Err)
}

func (e *MonitorError) Unwrap() error { return e.Err }

// Monitor owns the session state once the launcher hands off. Each tick it
// recomputes the state from four observations in fixed priority order:
// continue signal, watchdog flag, socket presence, status query.
type Monitor struct {
	paths    platform.RuntimePaths
	socket   string
	runner   *execshell.Runner
	clk      clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a Monitor for the session behind the given admin socket.
func NewMonitor(paths platform.RuntimePaths, socket string, runner *execshell.Runner, clk clock.Clock) *Monitor {
	return &Monitor{
		paths:    paths,
		socket:   socket,
		runner:   runner,
		clk:      clk,
		interval: DefaultPollInterval,
		logger:   slog.With("component", "monitor"),
	}
}

// Wait runs the polling loop until a terminal state is reached or an
// unrecognized failure aborts it. Expected terminal conditions are normal
// control flow, not errors.
func (m *Monitor) Wait(ctx context.Context) (State, error) {
	for {
		state, err := m.tick(ctx)
		if err != nil {
			return state, err
		}
		if state.Terminal() {
			m.logger.Info("session monitoring finished", "state", state.String())
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-m.clk.After(m.interval):
		}
	}
}

// tick evaluates the exit conditions in their fixed priority order and
// returns exactly one state. The ordering is load-bearing:
//
//  1. The continue signal always wins, even over a simultaneously-set
//     watchdog flag: a human asking to resume beats everything.
//  2. The watchdog flag is checked before daemon liveness because a timeout
//     deliberately kills the daemon; seeing the daemon dead afterward must
//     not be misreported as a crash.
//  3. A missing socket with no flag means the daemon quit on its own.
//  4. Only then is the status query consulted.
func (m *Monitor) tick(ctx context.Context) (State, error) {
	if path, ok := m.continueRequested(); ok {
		m.logger.Info("continue signal received, resuming workflow", "file", path)
		return ExitRequested, nil
	}

	if m.flagPresent() {
		m.logTimeout()
		return TimedOut, nil
	}

	if _, err := os.Stat(m.socket); err != nil {
		m.logger.Info("upterm session ended (admin socket removed)")
		return DaemonExited, nil
	}

	res, err := m.runner.RunTimeout(ctx, statusQueryTimeout, "upterm", "session", "current", "--admin-socket", m.socket)
	if err == nil {
		// The primary heartbeat: still alive, here is your connection info.
		m.logger.Info("upterm session status", "status", res.Stdout)
		return Ready, nil
	}

	// The watchdog may have fired between the socket check and the status
	// query. Its teardown is deliberate, so re-check the flag before
	// interpreting the failure.
	if m.flagPresent() {
		m.logTimeout()
		return TimedOut, nil
	}

	if isConnectionError(err) {
		m.logger.Error("upterm session ended unexpectedly", "error", err)
		m.logger.Error("the host process may have crashed or been terminated externally")
		return ConnectionLost, nil
	}

	return Starting, &MonitorError{Err: err}
}

// continueRequested checks the accepted continue-file locations. The
// workspace-relative path is checked first because the root-level one may
// not be writable without sudo.
func (m *Monitor) continueRequested() (string, bool) {
	for _, path := range m.paths.ContinueFiles {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// flagPresent reports whether the watchdog sentinel exists. Once observed,
// it is terminal; the monitor never re-checks away from TimedOut.
func (m *Monitor) flagPresent() bool {
	_, err := os.Stat(m.paths.FlagFile)
	return err == nil
}

func (m *Monitor) logTimeout() {
	m.logger.Info("wait timeout reached: no client connected within the configured window")
	m.logger.Info("the session was shut down to reclaim the runner; this is expected cleanup, not a crash")
}

func isConnectionError(err error) bool {
	text := strings.ToLower(err.Error())
	for _, sig := range connectionErrorSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}
