package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variable names under which RuntimePaths are exported to every
// spawned process. Children must read these rather than re-deriving paths,
// so the controller and its subprocesses always agree on locations.
const (
	EnvSocketDir   = "ACTION_UPTERM_SOCKET_DIR"
	EnvFlagFile    = "ACTION_UPTERM_TIMEOUT_FLAG"
	EnvLaunchLog   = "ACTION_UPTERM_LAUNCH_LOG"
	EnvWatchdogLog = "ACTION_UPTERM_WATCHDOG_LOG"
)

// RuntimePaths holds every filesystem location the session lifecycle touches.
// It is computed once, before any process that depends on it is spawned, and
// the same values are serialized into each child's environment via Environ.
//
// All paths are derived from the home and workspace directories rather than
// ambient runtime directories (XDG_RUNTIME_DIR, TMPDIR), which may not exist
// in a constrained CI sandbox.
type RuntimePaths struct {
	// SocketDir is where the upterm daemon creates its admin socket
	// (<session-id>.sock) once it has fully started. Socket presence is the
	// readiness and liveness probe.
	SocketDir string

	// StateDir holds the controller's own scratch state.
	StateDir string

	// FlagFile is the watchdog sentinel. The detached watchdog pipeline
	// touches it just before tearing the multiplexer server down; once
	// observed, it is terminal.
	FlagFile string

	// LaunchLog is the side-channel log the launcher appends tmux/upterm
	// command output to, read back for diagnostics on failure.
	LaunchLog string

	// WatchdogLog captures the detached watchdog pipeline's output.
	WatchdogLog string

	// ContinueFiles are the locations checked for the continue signal, in
	// priority order. The workspace-relative path comes first because it is
	// writable without sudo; the root-level path is kept for compatibility.
	ContinueFiles []string
}

// NewRuntimePaths derives every runtime path from the home and workspace
// directories. Workspace may be empty, in which case only the root-level
// continue file is checked.
func NewRuntimePaths(home, workspace string) RuntimePaths {
	stateDir := filepath.Join(home, ".action-upterm")
	continueFiles := []string{"/continue"}
	if workspace != "" {
		continueFiles = []string{filepath.Join(workspace, "continue"), "/continue"}
	}
	return RuntimePaths{
		SocketDir:     filepath.Join(home, ".upterm"),
		StateDir:      stateDir,
		FlagFile:      filepath.Join(stateDir, "wait-timed-out"),
		LaunchLog:     filepath.Join(stateDir, "launch.log"),
		WatchdogLog:   filepath.Join(stateDir, "watchdog.log"),
		ContinueFiles: continueFiles,
	}
}

// EnsureDirs creates the directories the controller writes into.
func (p RuntimePaths) EnsureDirs() error {
	for _, dir := range []string{p.StateDir, p.SocketDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating runtime dir %s: %w", dir, err)
		}
	}
	return nil
}

// Environ serializes the paths into environment-variable form for child
// processes. This is the only point where the paths cross a process boundary.
func (p RuntimePaths) Environ() []string {
	return []string{
		EnvSocketDir + "=" + p.SocketDir,
		EnvFlagFile + "=" + p.FlagFile,
		EnvLaunchLog + "=" + p.LaunchLog,
		EnvWatchdogLog + "=" + p.WatchdogLog,
	}
}
