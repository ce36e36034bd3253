package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbctool/sbctool/pkg/sshutil"
	"golang.org/x/crypto/ssh/agent"
)

// identityFiles are the default keys, in order of preference.
var identityFiles = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

func sshDir(home string) (string, error) {
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		home = h
	}
	return filepath.Join(home, ".ssh"), nil
}

// SSHKeyCheck verifies an SSH key exists.
type SSHKeyCheck struct {
	Home string // empty means the user's home directory
}

func (c *SSHKeyCheck) Name() string     { return "ssh_key" }
func (c *SSHKeyCheck) Category() string { return "SSH" }

func (c *SSHKeyCheck) Run(context.Context) CheckResult {
	dir, err := sshDir(c.Home)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "Cannot determine home directory",
			Suggestion: "Check HOME environment variable",
		}
	}

	for _, name := range identityFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return CheckResult{
				Name:    c.Name(),
				Status:  StatusPass,
				Message: fmt.Sprintf("SSH key found: ~/.ssh/%s", name),
			}
		}
	}

	// Keys held only by an agent are fine, so this is a warning.
	return CheckResult{
		Name:       c.Name(),
		Status:     StatusWarn,
		Message:    "No SSH key in ~/.ssh",
		Suggestion: "Generate a key with: ssh-keygen -t ed25519",
	}
}

func (c *SSHKeyCheck) Fix() error { return nil }

// SSHAgentCheck verifies the SSH agent is reachable and holds keys.
type SSHAgentCheck struct {
	Socket string // empty means $SSH_AUTH_SOCK
}

func (c *SSHAgentCheck) Name() string     { return "ssh_agent" }
func (c *SSHAgentCheck) Category() string { return "SSH" }

func (c *SSHAgentCheck) Run(ctx context.Context) CheckResult {
	socket := c.Socket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "SSH agent not running",
			Suggestion: "Key files are used directly; for passphrase keys run: eval $(ssh-agent) && ssh-add",
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "SSH agent socket not accessible",
			Suggestion: "Fix: eval $(ssh-agent) && ssh-add",
		}
	}
	defer conn.Close() //nolint:errcheck // Best-effort close, error not actionable

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Cannot query SSH agent: %v", err),
			Suggestion: "Check SSH agent: ssh-add -l",
		}
	}

	if len(keys) == 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "SSH agent running but no keys loaded",
			Suggestion: "Add a key with: ssh-add",
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("SSH agent running with %d key%s loaded", len(keys), pluralize(len(keys))),
	}
}

func (c *SSHAgentCheck) Fix() error { return nil }

// SSHKeyPermissionsCheck verifies SSH key file permissions.
type SSHKeyPermissionsCheck struct {
	Home string
}

func (c *SSHKeyPermissionsCheck) Name() string     { return "ssh_key_permissions" }
func (c *SSHKeyPermissionsCheck) Category() string { return "SSH" }

// loose returns the private keys readable by group or others.
func (c *SSHKeyPermissionsCheck) loose() (found bool, paths []string) {
	dir, err := sshDir(c.Home)
	if err != nil {
		return false, nil
	}
	for _, name := range identityFiles {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		found = true
		if info.Mode().Perm()&0o077 != 0 {
			paths = append(paths, path)
		}
	}
	return found, paths
}

func (c *SSHKeyPermissionsCheck) Run(context.Context) CheckResult {
	found, bad := c.loose()
	if !found {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass, // SSH key check will catch this
			Message: "No private keys to check",
		}
	}

	if len(bad) > 0 {
		names := make([]string, len(bad))
		for i, p := range bad {
			names[i] = filepath.Base(p)
		}
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "Insecure permissions on: " + strings.Join(names, ", "),
			Suggestion: "Fix: chmod 600 ~/.ssh/<keyfile>",
			Fixable:    true,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "SSH key permissions OK",
	}
}

func (c *SSHKeyPermissionsCheck) Fix() error {
	_, bad := c.loose()
	for _, path := range bad {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix permissions on %s: %w", path, err)
		}
	}
	return nil
}

// SSHConfigCheck lists the host aliases the ssh picker would offer.
type SSHConfigCheck struct {
	Resolver *sshutil.Resolver
}

func (c *SSHConfigCheck) Name() string     { return "ssh_config" }
func (c *SSHConfigCheck) Category() string { return "SSH" }

func (c *SSHConfigCheck) Run(context.Context) CheckResult {
	hosts := c.Resolver.Hosts()
	if len(hosts) == 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No host aliases in SSH config",
			Suggestion: "Pass user@host targets, or add Host entries to ~/.ssh/config",
		}
	}

	aliases := make([]string, 0, len(hosts))
	for _, h := range hosts {
		aliases = append(aliases, h.Alias)
	}
	const shown = 5
	list := strings.Join(aliases, ", ")
	if len(aliases) > shown {
		list = strings.Join(aliases[:shown], ", ") + fmt.Sprintf(", +%d more", len(aliases)-shown)
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%d SSH host%s: %s", len(hosts), pluralize(len(hosts)), list),
	}
}

func (c *SSHConfigCheck) Fix() error { return nil }

// NewSSHChecks creates all SSH-related checks.
func NewSSHChecks(resolver *sshutil.Resolver) []Check {
	return []Check{
		&SSHKeyCheck{},
		&SSHAgentCheck{},
		&SSHKeyPermissionsCheck{},
		&SSHConfigCheck{Resolver: resolver},
	}
}
