// Package installer provisions the two external binaries the session needs:
// the upterm sharing daemon (fetched from its release archive) and the tmux
// multiplexer (installed through the platform package manager only when
// absent). Install is idempotent: binaries already on PATH are never
// re-fetched.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/owenthereal/action-upterm/internal/execshell"
	"github.com/owenthereal/action-upterm/internal/platform"
)

// DefaultReleaseURL is the upterm release download root. The archive name
// (upterm_<os>_<arch>.tar.gz, .zip on windows) is appended to it.
const DefaultReleaseURL = "https://github.com/owenthereal/upterm/releases/latest/download"

const downloadTimeout = 5 * time.Minute

// InstallError wraps any failure during dependency installation with the OS
// family it occurred on. Callers never see raw download or package-manager
// errors without that context.
type InstallError struct {
	Platform platform.Family
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing dependencies on %s: %v", e.Platform, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Installer fetches and installs the session's external dependencies.
type Installer struct {
	profile platform.Profile
	runner  *execshell.Runner
	logger  *slog.Logger

	// Seams for tests.
	client      *http.Client
	releaseURL  string
	lookPath    func(string) (string, error)
	prependPath func(string) error
}

// New creates an Installer for the given host profile.
func New(profile platform.Profile, runner *execshell.Runner) *Installer {
	return &Installer{
		profile:     profile,
		runner:      runner,
		logger:      slog.With("component", "installer"),
		client:      &http.Client{Timeout: downloadTimeout},
		releaseURL:  DefaultReleaseURL,
		lookPath:    exec.LookPath,
		prependPath: prependPath,
	}
}

// Install ensures upterm and tmux are available, dispatching on the OS
// family. The architecture is resolved through the total mapping first, so
// an unsupported architecture fails before any download starts.
func (i *Installer) Install(ctx context.Context) error {
	arch, err := platform.NormalizeArch(i.profile.RawArch)
	if err != nil {
		return &InstallError{Platform: i.profile.Family, Err: err}
	}

	switch i.profile.Family {
	case platform.Linux:
		err = i.install(ctx, "linux", arch, archiveTarGz, "sudo apt-get -y install tmux")
	case platform.Darwin:
		err = i.install(ctx, "darwin", arch, archiveTarGz, "brew install tmux")
	case platform.Windows:
		err = i.install(ctx, "windows", arch, archiveZip, "choco install -y tmux")
	default:
		err = fmt.Errorf("no install branch for OS family %s", i.profile.Family)
	}
	if err != nil {
		return &InstallError{Platform: i.profile.Family, Err: err}
	}
	return nil
}

func (i *Installer) install(ctx context.Context, osName, arch string, format archiveFormat, tmuxInstall string) error {
	if err := i.installUpterm(ctx, osName, arch, format); err != nil {
		return fmt.Errorf("upterm: %w", err)
	}
	if err := i.installTmux(ctx, tmuxInstall); err != nil {
		return fmt.Errorf("tmux: %w", err)
	}
	return nil
}

// installUpterm downloads the platform/architecture-specific release archive
// and extracts it into a fresh uniquely-named directory, which is prepended
// to PATH. A shared well-known path is never written, so concurrent or prior
// runs cannot be clobbered.
func (i *Installer) installUpterm(ctx context.Context, osName, arch string, format archiveFormat) error {
	if path, err := i.lookPath(uptermBinary(osName)); err == nil {
		i.logger.Info("upterm already installed", "path", path)
		return nil
	}

	url := fmt.Sprintf("%s/upterm_%s_%s%s", i.releaseURL, osName, arch, format.ext())
	i.logger.Info("downloading upterm", "url", url)

	dir, err := os.MkdirTemp("", "upterm-bin-")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}

	if err := i.fetchArchive(ctx, url, dir, format); err != nil {
		return err
	}

	if err := i.prependPath(dir); err != nil {
		return fmt.Errorf("prepending %s to PATH: %w", dir, err)
	}
	i.logger.Info("upterm installed", "dir", dir)
	return nil
}

// installTmux installs the multiplexer via the platform package manager,
// but only when it is not already present.
func (i *Installer) installTmux(ctx context.Context, installCommand string) error {
	if path, err := i.lookPath("tmux"); err == nil {
		i.logger.Info("tmux already installed", "path", path)
		return nil
	}

	i.logger.Info("installing tmux", "command", installCommand)
	if _, err := i.runner.Shell(ctx, installCommand); err != nil {
		return fmt.Errorf("package manager install: %w", err)
	}
	return nil
}

func uptermBinary(osName string) string {
	if osName == "windows" {
		return "upterm.exe"
	}
	return "upterm"
}

// prependPath puts dir at the front of the process's executable search path
// so both exec.LookPath and every spawned child resolve the fresh binaries.
func prependPath(dir string) error {
	return os.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}
