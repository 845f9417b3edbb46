package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/owenthereal/action-upterm/internal/logbuf"
)

// FollowDaemonLogs streams lines appended to the daemon's log files under
// dir while the session runs, retaining a recent window in ring for the
// final report. It is observability only: nothing here feeds the monitor's
// state decisions, which remain pure polling. Blocks until the context is
// cancelled.
func FollowDaemonLogs(ctx context.Context, dir string, ring *logbuf.Ring, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	// Offsets track how far each log has been surfaced, so only appended
	// bytes are emitted. Existing content at start is skipped: the follower
	// reports what happens, not what already happened.
	offsets := make(map[string]int64)
	for _, log := range globLogs(dir) {
		if info, err := os.Stat(log); err == nil {
			offsets[log] = info.Size()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".log") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			offsets[event.Name] = emitNewLines(event.Name, offsets[event.Name], ring, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Debug("daemon log watcher error", "error", err)
		}
	}
}

// emitNewLines surfaces bytes appended past offset at debug level, retains
// them in the ring, and returns the new offset. Read failures leave the
// offset unchanged.
func emitNewLines(path string, offset int64, ring *logbuf.Ring, logger *slog.Logger) int64 {
	f, err := os.Open(path)
	if err != nil {
		return offset
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		return offset
	}

	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line != "" {
			ring.Append(line)
			logger.Debug("upterm log", "file", path, "line", line)
		}
	}
	return offset + int64(len(data))
}
