package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/owenthereal/action-upterm/internal/config"
	"github.com/owenthereal/action-upterm/internal/execshell"
	"github.com/owenthereal/action-upterm/internal/installer"
	"github.com/owenthereal/action-upterm/internal/logbuf"
	"github.com/owenthereal/action-upterm/internal/platform"
	"github.com/owenthereal/action-upterm/internal/session"
	"github.com/owenthereal/action-upterm/internal/sshcfg"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision and monitor a debug shell session end to end",
	Long: "Validates inputs, installs upterm and tmux, provisions SSH credentials, " +
		"starts the shared session, and blocks until the continue signal, the wait " +
		"timeout, or the session ending.",
	RunE: runSession,
}

func init() {
	addInputFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addInputFlags mirrors the INPUT_* environment knobs as flags for local use.
// A set flag wins over the environment; the defaults file fills what's left.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("upterm-server", "", "upterm relay server address (required)")
	cmd.Flags().String("wait-timeout-minutes", "", "shut the session down after this many unattended minutes (0-1440)")
	cmd.Flags().String("limit-access-to-users", "", "authorized users (comma/space/newline separated)")
	cmd.Flags().String("limit-access-to-actor", "", `"true" to also authorize the triggering actor`)
	cmd.Flags().String("ssh-known-hosts", "", "custom known_hosts content (skips the relay key scan)")
	cmd.Flags().String("defaults", config.DefaultsPath, "YAML file with default input values")
}

// gatherInput resolves the raw session knobs: environment first, set flags
// override, defaults file fills remaining gaps.
func gatherInput(cmd *cobra.Command) (config.Raw, error) {
	raw := config.FromEnvironment(os.Getenv)

	flagValues := map[string]*string{
		"upterm-server":         &raw.UptermServer,
		"wait-timeout-minutes":  &raw.WaitTimeoutMinutes,
		"limit-access-to-users": &raw.LimitAccessToUsers,
		"limit-access-to-actor": &raw.LimitAccessToActor,
		"ssh-known-hosts":       &raw.SSHKnownHosts,
	}
	// Changed, not non-empty: an explicitly set empty flag clears an
	// env-provided value.
	for name, target := range flagValues {
		if cmd.Flags().Changed(name) {
			if v, err := cmd.Flags().GetString(name); err == nil {
				*target = v
			}
		}
	}

	defaultsPath, _ := cmd.Flags().GetString("defaults")
	defaults, err := config.LoadDefaults(defaultsPath)
	if err != nil {
		return config.Raw{}, fmt.Errorf("loading defaults file %s: %w", defaultsPath, err)
	}
	return raw.Merge(defaults), nil
}

// runSession is the single end-to-end entry point. Every failure it returns
// has already been wrapped with its step context; main is the one catch
// boundary that turns it into the terminal failure report.
func runSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	raw, err := gatherInput(cmd)
	if err != nil {
		return err
	}
	cfg, err := raw.Validate()
	if err != nil {
		return err
	}

	profile, err := platform.Detect()
	if err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("finding home dir: %w", err)
	}

	// Runtime paths are fixed here, before anything is spawned; every child
	// sees these exact values through the runner's environment.
	paths := platform.NewRuntimePaths(home, cfg.Workspace)
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	runner := execshell.New(paths.Environ())

	slog.Info("provisioning debug session",
		"server", cfg.UptermServer,
		"os", profile.Family.String(),
		"timeout_minutes", cfg.WaitTimeoutMinutes)

	if err := installer.New(profile, runner).Install(ctx); err != nil {
		return err
	}
	if err := sshcfg.New(home, runner).Provision(ctx, cfg.KnownHosts); err != nil {
		return err
	}

	launcher := session.NewLauncher(cfg, paths, runner, clock.WallClock)
	if err := launcher.Start(ctx); err != nil {
		return err
	}
	socket, err := launcher.WaitUntilReady(ctx)
	if err != nil {
		return err
	}

	// Best-effort log streaming; the monitor never depends on it. The ring
	// keeps a recent window of daemon output for the final report.
	recent := logbuf.New(daemonLogWindow)
	go func() {
		if err := session.FollowDaemonLogs(ctx, paths.SocketDir, recent, slog.With("component", "logwatch")); err != nil {
			slog.Debug("daemon log follower unavailable", "error", err)
		}
	}()

	state, err := session.NewMonitor(paths, socket, runner, clock.WallClock).Wait(ctx)
	if err != nil {
		reportRecentOutput(recent)
		return err
	}

	if state == session.ConnectionLost {
		reportRecentOutput(recent)
	}
	slog.Info("debug session finished", "state", state.String())
	return nil
}

// daemonLogWindow is how many recent daemon log lines are retained for the
// abnormal-exit report.
const daemonLogWindow = 200

// reportRecentOutput surfaces the retained daemon output when the session
// ended in a way worth investigating.
func reportRecentOutput(recent *logbuf.Ring) {
	lines := recent.Tail(daemonLogWindow)
	if len(lines) == 0 {
		return
	}
	slog.Info("recent upterm output before the session ended:")
	for _, line := range lines {
		fmt.Fprintln(os.Stderr, "  "+line)
	}
}
