// Package sshcfg provisions the SSH credentials and trust anchors the remote
// session depends on: a pair of keypairs, a permissive client config stanza
// for relay hosts, and a known_hosts file seeded either from caller-supplied
// trust text or by probing the well-known relay.
package sshcfg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/owenthereal/action-upterm/internal/execshell"
)

// WellKnownRelay is the public upterm relay whose host key seeds the trust
// anchor when the caller supplies none.
const WellKnownRelay = "uptermd.upterm.dev"

// clientConfigStanza enables keepalives and disables strict host-key checks
// for managed hosts. It is appended on every run; repeated identical stanzas
// are accepted idempotency debt, not a defect to be deduplicated.
const clientConfigStanza = `Host *
  StrictHostKeyChecking no
  CheckHostIP no
  TCPKeepAlive yes
  ServerAliveInterval 30
  ServerAliveCountMax 180
  VerifyHostKeyDNS yes
  UpdateHostKeys yes
`

// ProvisionError wraps a failed provisioning sub-step with its name, so the
// caller sees "generating ssh keypairs" rather than a raw exit code.
type ProvisionError struct {
	Step string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("ssh provisioning: %s: %v", e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Provisioner sets up the .ssh directory for the session.
type Provisioner struct {
	sshDir string
	runner *execshell.Runner
	logger *slog.Logger
	relay  string
}

// New creates a Provisioner rooted at <home>/.ssh. Absolute paths are used
// throughout rather than ~-relative shorthand, so behavior stays correct
// under non-standard home-directory mappings.
func New(home string, runner *execshell.Runner) *Provisioner {
	return &Provisioner{
		sshDir: filepath.Join(home, ".ssh"),
		runner: runner,
		logger: slog.With("component", "sshcfg"),
		relay:  WellKnownRelay,
	}
}

// Provision runs the three provisioning steps in order: keypairs, client
// config, trust anchor. knownHosts, when non-empty, is caller-supplied trust
// text used verbatim instead of probing the relay.
func (p *Provisioner) Provision(ctx context.Context, knownHosts string) error {
	if err := os.MkdirAll(p.sshDir, 0700); err != nil {
		return &ProvisionError{Step: "creating .ssh directory", Err: err}
	}
	if err := p.ensureKeypairs(ctx); err != nil {
		return &ProvisionError{Step: "generating ssh keypairs", Err: err}
	}
	if err := p.appendClientConfig(); err != nil {
		return &ProvisionError{Step: "writing ssh client config", Err: err}
	}
	if err := p.setupKnownHosts(ctx, knownHosts); err != nil {
		return &ProvisionError{Step: "setting up known_hosts", Err: err}
	}
	return nil
}

// ensureKeypairs generates one legacy and one modern keypair, skipping
// entirely when the primary key already exists.
func (p *Provisioner) ensureKeypairs(ctx context.Context) error {
	primary := filepath.Join(p.sshDir, "id_rsa")
	if _, err := os.Stat(primary); err == nil {
		p.logger.Info("ssh keys already exist, skipping generation", "path", primary)
		return nil
	}

	keys := []struct {
		keyType string
		file    string
	}{
		{"rsa", primary},
		{"ed25519", filepath.Join(p.sshDir, "id_ed25519")},
	}
	for _, k := range keys {
		if _, err := p.runner.Run(ctx, "ssh-keygen", "-q", "-t", k.keyType, "-N", "", "-f", k.file); err != nil {
			return fmt.Errorf("generating %s key: %w", k.keyType, err)
		}
		p.logger.Info("generated ssh key", "type", k.keyType, "path", k.file)
	}
	return nil
}

func (p *Provisioner) appendClientConfig() error {
	path := filepath.Join(p.sshDir, "config")
	if err := appendFile(path, clientConfigStanza); err != nil {
		return err
	}
	p.logger.Info("appended ssh client config stanza", "path", path)
	return nil
}

// setupKnownHosts provisions the trust anchor. Two mutually exclusive
// branches on "custom text non-empty": verbatim append (echoed back for
// visibility), or an active key-scan of the well-known relay.
func (p *Provisioner) setupKnownHosts(ctx context.Context, custom string) error {
	path := filepath.Join(p.sshDir, "known_hosts")

	if custom != "" {
		if err := appendFile(path, strings.TrimRight(custom, "\n")+"\n"); err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading back known_hosts: %w", err)
		}
		p.logger.Info("known_hosts provisioned from supplied trust text", "path", path, "content", string(content))
		return nil
	}

	res, err := p.runner.Run(ctx, "ssh-keyscan", p.relay)
	if err != nil {
		return fmt.Errorf("scanning relay host key: %w", err)
	}

	// Only entries whose hostname matches the well-known relay are trusted.
	// A blanket cert-authority line derived from arbitrary scanned hosts
	// would corrupt known_hosts, so anything else the scan emits is dropped.
	entries := filterHostLines(res.Stdout, p.relay)
	if len(entries) == 0 {
		return fmt.Errorf("key scan of %s returned no usable host key", p.relay)
	}

	var b strings.Builder
	for _, line := range entries {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(certAuthorityLine(entries[0]))
	b.WriteString("\n")

	if err := appendFile(path, b.String()); err != nil {
		return err
	}
	p.logger.Info("known_hosts provisioned from relay key scan", "path", path, "relay", p.relay, "entries", len(entries))
	return nil
}

// filterHostLines keeps only scan output lines whose host field is exactly
// the given host.
func filterHostLines(scan, host string) []string {
	var out []string
	for _, line := range strings.Split(scan, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Fields(line); len(fields) >= 3 && fields[0] == host {
			out = append(out, line)
		}
	}
	return out
}

// certAuthorityLine derives a @cert-authority trust line scoped to every
// host, using the scanned relay's key material.
func certAuthorityLine(hostLine string) string {
	fields := strings.Fields(hostLine)
	return "@cert-authority * " + strings.Join(fields[1:], " ")
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	_, err = f.WriteString(content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}
