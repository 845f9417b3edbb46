package platform

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestNormalizeArch(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"x64", "amd64", false},
		{"amd64", "amd64", false},
		{"arm64", "arm64", false},
		{"ppc64le", "", true},
		{"386", "", true},
		{"riscv64", "", true},
		{"", "", true},
		{"AMD64", "", true},
	}

	for _, tc := range tests {
		got, err := NormalizeArch(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.input)
				continue
			}
			var archErr *UnsupportedArchError
			if !errors.As(err, &archErr) {
				t.Errorf("%q: expected UnsupportedArchError, got %T", tc.input, err)
			} else if archErr.Arch != tc.input {
				t.Errorf("%q: error carries arch %q", tc.input, archErr.Arch)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("%q: expected %q, got %q", tc.input, tc.want, got)
		}
	}
}

func TestFamilyString(t *testing.T) {
	for family, want := range map[Family]string{Linux: "linux", Darwin: "darwin", Windows: "windows"} {
		if got := family.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestDetect(t *testing.T) {
	profile, err := Detect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.RawArch == "" {
		t.Error("expected non-empty RawArch")
	}
}

func TestRuntimePathsDerivation(t *testing.T) {
	p := NewRuntimePaths("/home/runner", "/work")

	if p.SocketDir != filepath.Join("/home/runner", ".upterm") {
		t.Errorf("unexpected socket dir %q", p.SocketDir)
	}
	want := []string{filepath.Join("/work", "continue"), "/continue"}
	if !slices.Equal(p.ContinueFiles, want) {
		t.Errorf("expected workspace continue file first, got %v", p.ContinueFiles)
	}

	// Paths are deterministic for the same inputs.
	if q := NewRuntimePaths("/home/runner", "/work"); q.FlagFile != p.FlagFile || q.LaunchLog != p.LaunchLog {
		t.Error("expected identical paths for identical inputs")
	}
}

func TestRuntimePathsNoWorkspace(t *testing.T) {
	p := NewRuntimePaths("/home/runner", "")
	if !slices.Equal(p.ContinueFiles, []string{"/continue"}) {
		t.Errorf("expected only root continue file, got %v", p.ContinueFiles)
	}
}

func TestRuntimePathsEnviron(t *testing.T) {
	p := NewRuntimePaths("/home/runner", "/work")
	env := p.Environ()

	wantEntries := []string{
		EnvSocketDir + "=" + p.SocketDir,
		EnvFlagFile + "=" + p.FlagFile,
		EnvLaunchLog + "=" + p.LaunchLog,
		EnvWatchdogLog + "=" + p.WatchdogLog,
	}
	for _, want := range wantEntries {
		if !slices.Contains(env, want) {
			t.Errorf("missing %q in %v", want, env)
		}
	}
}

func TestEnsureDirs(t *testing.T) {
	home := t.TempDir()
	p := NewRuntimePaths(home, "")

	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, dir := range []string{p.StateDir, p.SocketDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory at %s", dir)
		}
	}

	// Re-running is safe.
	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("second run: unexpected error: %v", err)
	}
}
