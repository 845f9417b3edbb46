// Package config parses and bounds-checks the externally supplied session
// knobs before any side effect occurs. Validation is a pure function of the
// input strings: no network or filesystem access happens here.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxWaitTimeoutMinutes caps how long a session may wait for a client.
// 24 hours is a hard policy ceiling, not a suggestion.
const MaxWaitTimeoutMinutes = 1440

// ValidationError reports bad input, caught before any side effect.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

// Raw holds the session knobs exactly as supplied by the caller, before
// validation. In a GitHub Actions run these come from INPUT_* environment
// variables; locally they come from flags or the defaults file.
type Raw struct {
	UptermServer       string `yaml:"upterm-server"`
	WaitTimeoutMinutes string `yaml:"wait-timeout-minutes"`
	LimitAccessToUsers string `yaml:"limit-access-to-users"`
	LimitAccessToActor string `yaml:"limit-access-to-actor"`
	SSHKnownHosts      string `yaml:"ssh-known-hosts"`
	Actor              string `yaml:"-"`
	Workspace          string `yaml:"-"`
}

// FromEnvironment reads the raw knobs from GitHub-Actions-style environment
// variables using the supplied lookup function (os.Getenv in production).
func FromEnvironment(getenv func(string) string) Raw {
	return Raw{
		UptermServer:       getenv("INPUT_UPTERM-SERVER"),
		WaitTimeoutMinutes: getenv("INPUT_WAIT-TIMEOUT-MINUTES"),
		LimitAccessToUsers: getenv("INPUT_LIMIT-ACCESS-TO-USERS"),
		LimitAccessToActor: getenv("INPUT_LIMIT-ACCESS-TO-ACTOR"),
		SSHKnownHosts:      getenv("INPUT_SSH-KNOWN-HOSTS"),
		Actor:              getenv("GITHUB_ACTOR"),
		Workspace:          getenv("GITHUB_WORKSPACE"),
	}
}

// Merge fills empty fields of r from the defaults. Caller-supplied values
// always win over defaults-file values.
func (r Raw) Merge(defaults Raw) Raw {
	if r.UptermServer == "" {
		r.UptermServer = defaults.UptermServer
	}
	if r.WaitTimeoutMinutes == "" {
		r.WaitTimeoutMinutes = defaults.WaitTimeoutMinutes
	}
	if r.LimitAccessToUsers == "" {
		r.LimitAccessToUsers = defaults.LimitAccessToUsers
	}
	if r.LimitAccessToActor == "" {
		r.LimitAccessToActor = defaults.LimitAccessToActor
	}
	if r.SSHKnownHosts == "" {
		r.SSHKnownHosts = defaults.SSHKnownHosts
	}
	return r
}

// Config is the validated, immutable session configuration.
type Config struct {
	// UptermServer is the relay address the daemon connects outward to.
	// Any non-empty string is accepted; the daemon itself rejects bad URIs.
	UptermServer string

	// WaitTimeoutMinutes is how long the session may sit with no client
	// attached before the watchdog tears it down. Zero means no watchdog.
	WaitTimeoutMinutes int

	// AllowedUsers are the principals authorized to attach, deduplicated in
	// first-seen order.
	AllowedUsers []string

	// LimitAccessToActor adds the triggering actor to AllowedUsers.
	LimitAccessToActor bool
	Actor              string

	// KnownHosts is caller-supplied trust-anchor text. When non-empty the
	// provisioner appends it verbatim instead of probing the relay.
	KnownHosts string

	Workspace string
}

// Validate bounds-checks the raw input and builds a Config.
func (r Raw) Validate() (*Config, error) {
	if r.UptermServer == "" {
		return nil, &ValidationError{Field: "upterm-server", Msg: "upterm-server is required"}
	}

	timeout := 0
	if r.WaitTimeoutMinutes != "" {
		// Unparseable and out-of-range values fail identically: the caller
		// supplied the value, they know what it was.
		t, err := strconv.Atoi(r.WaitTimeoutMinutes)
		if err != nil || t < 0 || t > MaxWaitTimeoutMinutes {
			return nil, &ValidationError{
				Field: "wait-timeout-minutes",
				Msg:   fmt.Sprintf("wait-timeout-minutes must be an integer between 0 and %d", MaxWaitTimeoutMinutes),
			}
		}
		timeout = t
	}

	return &Config{
		UptermServer:       r.UptermServer,
		WaitTimeoutMinutes: timeout,
		AllowedUsers:       SplitUsers(r.LimitAccessToUsers),
		LimitAccessToActor: r.LimitAccessToActor == "true",
		Actor:              r.Actor,
		KnownHosts:         r.SSHKnownHosts,
		Workspace:          r.Workspace,
	}, nil
}

// SplitUsers splits a principal list on any mix of commas, whitespace, and
// newlines, dropping empties and duplicates while preserving first-seen order.
func SplitUsers(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	var users []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		users = append(users, f)
	}
	return users
}
