// Package session launches the upterm sharing daemon inside nested tmux
// sessions, waits for its readiness socket, and monitors the running session
// until one of its exit conditions occurs.
package session

import "fmt"

// State is the session lifecycle state, recomputed on every monitor tick
// from filesystem observations and one status query. Transitions are never
// driven by signals or callbacks.
type State int

const (
	Starting State = iota
	Ready
	ExitRequested
	TimedOut
	DaemonExited
	ConnectionLost
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case ExitRequested:
		return "exit-requested"
	case TimedOut:
		return "timed-out"
	case DaemonExited:
		return "daemon-exited"
	case ConnectionLost:
		return "connection-lost"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the monitor loop stops at this state. Terminal
// states are never revisited or re-evaluated once reached.
func (s State) Terminal() bool {
	switch s {
	case ExitRequested, TimedOut, DaemonExited, ConnectionLost:
		return true
	default:
		return false
	}
}
