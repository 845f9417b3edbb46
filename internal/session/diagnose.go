package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/owenthereal/action-upterm/internal/execshell"
	"github.com/owenthereal/action-upterm/internal/platform"
)

const (
	diagnosticTailLines  = 50
	diagnosticCmdTimeout = 10 * time.Second

	bugReportFooter = "If this looks like a bug, please include the report above when filing an issue at\n" +
		"https://github.com/owenthereal/action-upterm/issues"
)

// collectDiagnostics assembles one human-readable report about why the
// daemon never became ready: the socket directory contents, the tails of
// every log that might explain it, and the multiplexer's own session list.
// Every probe is best-effort: a failed read becomes a note in the report,
// never an error.
func collectDiagnostics(ctx context.Context, runner *execshell.Runner, paths platform.RuntimePaths) string {
	var b strings.Builder

	writeSection(&b, fmt.Sprintf("admin socket directory (%s)", paths.SocketDir), listDir(paths.SocketDir))

	for _, log := range globLogs(paths.SocketDir) {
		writeSection(&b, fmt.Sprintf("upterm host log (%s)", log), tailFile(log, diagnosticTailLines))
	}

	writeSection(&b, fmt.Sprintf("launch log (%s)", paths.LaunchLog), tailFile(paths.LaunchLog, diagnosticTailLines))
	writeSection(&b, fmt.Sprintf("watchdog log (%s)", paths.WatchdogLog), tailFile(paths.WatchdogLog, diagnosticTailLines))

	writeSection(&b, "tmux sessions", tmuxSessions(ctx, runner))

	b.WriteString(bugReportFooter)
	return b.String()
}

func writeSection(b *strings.Builder, title, body string) {
	b.WriteString("--- ")
	b.WriteString(title)
	b.WriteString(" ---\n")
	if body == "" {
		body = "(empty)"
	}
	b.WriteString(body)
	b.WriteString("\n\n")
}

func listDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Sprintf("(unreadable: %v)", err)
	}
	if len(entries) == 0 {
		return "(no entries)"
	}

	var lines []string
	for _, e := range entries {
		line := e.Name()
		if info, err := e.Info(); err == nil {
			line = fmt.Sprintf("%s %8d %s", info.Mode(), info.Size(), e.Name())
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func globLogs(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil
	}
	return matches
}

// tailFile returns the last n lines of a file, or a note when it cannot be
// read.
func tailFile(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("(unreadable: %v)", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func tmuxSessions(ctx context.Context, runner *execshell.Runner) string {
	res, err := runner.RunTimeout(ctx, diagnosticCmdTimeout, "tmux", "ls")
	if err != nil {
		return fmt.Sprintf("(tmux ls failed: %v)", err)
	}
	return res.Stdout
}
