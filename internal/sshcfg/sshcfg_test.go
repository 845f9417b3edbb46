package sshcfg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/owenthereal/action-upterm/internal/execshell"
)

// stubCommand installs a fake executable on PATH so provisioning steps can
// run without real ssh tooling.
func stubCommand(t *testing.T, binDir, name, script string) {
	t.Helper()
	path := filepath.Join(binDir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
}

func newTestProvisioner(t *testing.T) (*Provisioner, string, string) {
	t.Helper()

	home := t.TempDir()
	binDir := t.TempDir()
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	p := New(home, execshell.New(nil))
	return p, home, binDir
}

// keygenStub touches whatever file follows the -f flag, like the real tool.
func keygenStub() string {
	return `while [ $# -gt 0 ]; do
  if [ "$1" = "-f" ]; then touch "$2"; fi
  shift
done`
}

func TestProvisionGeneratesBothKeypairs(t *testing.T) {
	p, home, binDir := newTestProvisioner(t)
	stubCommand(t, binDir, "ssh-keygen", keygenStub())
	stubCommand(t, binDir, "ssh-keyscan", `echo "uptermd.upterm.dev ssh-rsa AAAATESTKEY"`)

	if err := p.Provision(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, key := range []string{"id_rsa", "id_ed25519"} {
		if _, err := os.Stat(filepath.Join(home, ".ssh", key)); err != nil {
			t.Errorf("expected %s to be generated: %v", key, err)
		}
	}
}

func TestProvisionSkipsExistingKeys(t *testing.T) {
	p, home, binDir := newTestProvisioner(t)

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sshDir, "id_rsa"), []byte("existing"), 0600); err != nil {
		t.Fatal(err)
	}

	marker := filepath.Join(t.TempDir(), "keygen-ran")
	stubCommand(t, binDir, "ssh-keygen", "touch "+marker)
	stubCommand(t, binDir, "ssh-keyscan", `echo "uptermd.upterm.dev ssh-rsa AAAATESTKEY"`)

	if err := p.Provision(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("ssh-keygen ran despite existing primary key")
	}
}

func TestProvisionAppendsClientConfig(t *testing.T) {
	p, home, binDir := newTestProvisioner(t)
	stubCommand(t, binDir, "ssh-keygen", keygenStub())
	stubCommand(t, binDir, "ssh-keyscan", `echo "uptermd.upterm.dev ssh-rsa AAAATESTKEY"`)

	if err := p.Provision(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Host *", "StrictHostKeyChecking no", "ServerAliveInterval 30"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config missing %q", want)
		}
	}

	// Re-running appends a second identical stanza; accepted debt.
	if err := p.Provision(context.Background(), ""); err != nil {
		t.Fatalf("second run: unexpected error: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(home, ".ssh", "config"))
	if got := strings.Count(string(data), "Host *"); got != 2 {
		t.Errorf("expected 2 stanzas after two runs, got %d", got)
	}
}

func TestKnownHostsFromCustomText(t *testing.T) {
	p, home, binDir := newTestProvisioner(t)
	stubCommand(t, binDir, "ssh-keygen", keygenStub())

	marker := filepath.Join(t.TempDir(), "keyscan-ran")
	stubCommand(t, binDir, "ssh-keyscan", "touch "+marker)

	custom := "myrelay.example ssh-ed25519 AAAACUSTOM"
	if err := p.Provision(context.Background(), custom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != custom+"\n" {
		t.Errorf("expected verbatim custom text, got %q", data)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("relay was scanned despite custom trust text")
	}
}

func TestKnownHostsFromRelayScan(t *testing.T) {
	p, home, binDir := newTestProvisioner(t)
	stubCommand(t, binDir, "ssh-keygen", keygenStub())
	stubCommand(t, binDir, "ssh-keyscan", `echo "# comment line"
echo "uptermd.upterm.dev ssh-rsa AAAARELAY"
echo "evil.example ssh-rsa AAAAEVIL"
echo "uptermd.upterm.dev ssh-ed25519 AAAAED"`)

	if err := p.Provision(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if !strings.Contains(content, "uptermd.upterm.dev ssh-rsa AAAARELAY") {
		t.Error("relay rsa entry missing")
	}
	if !strings.Contains(content, "uptermd.upterm.dev ssh-ed25519 AAAAED") {
		t.Error("relay ed25519 entry missing")
	}
	if strings.Contains(content, "evil.example") {
		t.Error("non-relay host must never be trusted")
	}
	if got := strings.Count(content, "@cert-authority * "); got != 1 {
		t.Errorf("expected exactly one cert-authority line, got %d", got)
	}
	if !strings.Contains(content, "@cert-authority * ssh-rsa AAAARELAY") {
		t.Error("cert-authority line must use the relay's key material")
	}
}

func TestKnownHostsScanWithNoUsableKey(t *testing.T) {
	p, _, binDir := newTestProvisioner(t)
	stubCommand(t, binDir, "ssh-keygen", keygenStub())
	stubCommand(t, binDir, "ssh-keyscan", `echo "other.example ssh-rsa AAAA"`)

	err := p.Provision(context.Background(), "")
	if err == nil {
		t.Fatal("expected error when the scan yields no relay key")
	}
	var provErr *ProvisionError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProvisionError, got %T", err)
	}
	if provErr.Step != "setting up known_hosts" {
		t.Errorf("unexpected step %q", provErr.Step)
	}
}

func TestProvisionWrapsKeygenFailure(t *testing.T) {
	p, _, binDir := newTestProvisioner(t)
	stubCommand(t, binDir, "ssh-keygen", "echo keygen exploded >&2; exit 1")
	stubCommand(t, binDir, "ssh-keyscan", `echo "uptermd.upterm.dev ssh-rsa AAAA"`)

	err := p.Provision(context.Background(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *ProvisionError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProvisionError, got %T", err)
	}
	if provErr.Step != "generating ssh keypairs" {
		t.Errorf("unexpected step %q", provErr.Step)
	}
	if !strings.Contains(err.Error(), "keygen exploded") {
		t.Errorf("error should carry stderr: %v", err)
	}
}

func TestFilterHostLines(t *testing.T) {
	scan := `uptermd.upterm.dev ssh-rsa KEY1
# uptermd.upterm.dev:22 SSH-2.0
other.host ssh-rsa KEY2

uptermd.upterm.dev ssh-ed25519 KEY3`

	got := filterHostLines(scan, "uptermd.upterm.dev")
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(got), got)
	}
	if got[0] != "uptermd.upterm.dev ssh-rsa KEY1" || got[1] != "uptermd.upterm.dev ssh-ed25519 KEY3" {
		t.Errorf("unexpected lines: %v", got)
	}
}

func TestCertAuthorityLine(t *testing.T) {
	got := certAuthorityLine("uptermd.upterm.dev ssh-rsa AAAB3Nza")
	want := "@cert-authority * ssh-rsa AAAB3Nza"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
