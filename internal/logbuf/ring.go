// Package logbuf keeps a bounded window of recent daemon output in memory,
// so an abnormal session end can be reported with the lines that led up to
// it without re-reading log files that may already be gone.
package logbuf

import (
	"strings"
	"sync"
)

// Ring retains the last N appended lines. Safe for concurrent use: the log
// follower appends from its own goroutine while the lifecycle goroutine reads.
type Ring struct {
	mu    sync.Mutex
	lines []string
	size  int
	pos   int
	full  bool
}

// New creates a Ring retaining the last n lines.
func New(n int) *Ring {
	return &Ring{
		lines: make([]string, n),
		size:  n,
	}
}

// Append records one line, evicting the oldest when the window is full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Tail returns up to n retained lines, oldest first.
func (r *Ring) Tail(n int) []string {
	all := r.snapshot()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// String renders the full retained window as one newline-joined block.
func (r *Ring) String() string {
	return strings.Join(r.snapshot(), "\n")
}

func (r *Ring) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.pos)
		copy(out, r.lines[:r.pos])
		return out
	}

	out := make([]string, r.size)
	copy(out, r.lines[r.pos:])
	copy(out[r.size-r.pos:], r.lines[:r.pos])
	return out
}
