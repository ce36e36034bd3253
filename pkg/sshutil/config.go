package sshutil

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SystemConfigPath is the last source consulted during alias resolution.
var SystemConfigPath = "/etc/ssh/ssh_config"

// Settings are resolved SSH connection parameters for one target.
type Settings struct {
	Target       string // what the user typed
	Hostname     string
	Port         string
	User         string
	IdentityFile string
	Source       string // config file that matched, empty for a literal target
}

// Address returns the host:port string for dialing.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Hostname, s.Port)
}

// String renders user@host:port, omitting the default port.
func (s Settings) String() string {
	host := s.Hostname
	if s.Port != "" && s.Port != "22" {
		host = s.Address()
	}
	if s.User == "" {
		return host
	}
	return s.User + "@" + host
}

// Resolver maps aliases to settings using ssh_config files tried in order.
// The first source that defines anything for the host wins; sources are not merged.
type Resolver struct {
	Sources []string
}

// NewResolver builds the standard source order: the explicit path (if any),
// then ~/.ssh/config, then the system config.
func NewResolver(explicit string) *Resolver {
	var sources []string
	if explicit != "" {
		sources = append(sources, expandPath(explicit))
	}
	sources = append(sources, filepath.Join(homeDir(), ".ssh", "config"), SystemConfigPath)
	return &Resolver{Sources: sources}
}

// Resolve parses user@host[:port] and looks the host up in each source.
// Input no source knows about is treated as a literal host.
func (r *Resolver) Resolve(target string) Settings {
	settings := Settings{
		Target: target,
		Port:   "22",
		User:   currentUser(),
	}

	host := target
	explicitUser := ""
	if atIdx := strings.LastIndex(host, "@"); atIdx != -1 {
		explicitUser = host[:atIdx]
		host = host[atIdx+1:]
	}

	explicitPort := ""
	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 && isDigits(host[colonIdx+1:]) {
		explicitPort = host[colonIdx+1:]
		host = host[:colonIdx]
	}

	settings.Hostname = host

	for _, source := range r.Sources {
		cfg, err := decodeConfig(source)
		if err != nil {
			continue
		}
		if applyHost(cfg, host, &settings) {
			settings.Source = source
			break
		}
	}

	if explicitUser != "" {
		settings.User = explicitUser
	}
	if explicitPort != "" {
		settings.Port = explicitPort
	}
	return settings
}

// applyHost copies the host's values into settings and reports whether any were set.
func applyHost(cfg *ssh_config.Config, host string, settings *Settings) bool {
	found := false
	if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
		settings.Hostname = hostname
		found = true
	}
	if port, _ := cfg.Get(host, "Port"); port != "" {
		settings.Port = port
		found = true
	}
	if user, _ := cfg.Get(host, "User"); user != "" {
		settings.User = user
		found = true
	}
	if identity, _ := cfg.Get(host, "IdentityFile"); identity != "" {
		settings.IdentityFile = expandPath(identity)
		found = true
	}
	return found
}

// HostEntry represents a concrete host alias from an SSH config file.
type HostEntry struct {
	Alias    string
	Hostname string
	User     string
	Port     string
	Source   string
}

// Description returns a user-friendly description of the host.
func (h HostEntry) Description() string {
	parts := []string{}

	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}
	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}
	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}

	if len(parts) == 0 {
		return h.Alias
	}
	return strings.Join(parts, ", ")
}

// Hosts lists the concrete (non-wildcard) aliases across all sources.
// An alias defined in more than one source is reported from the first.
func (r *Resolver) Hosts() []HostEntry {
	var hosts []HostEntry
	seen := make(map[string]bool)

	for _, source := range r.Sources {
		cfg, err := decodeConfig(source)
		if err != nil {
			continue
		}
		for _, host := range cfg.Hosts {
			for _, pattern := range host.Patterns {
				alias := pattern.String()
				if strings.ContainsAny(alias, "*?!") || seen[alias] {
					continue
				}
				seen[alias] = true

				entry := HostEntry{Alias: alias, Source: source}
				entry.Hostname, _ = cfg.Get(alias, "HostName")
				entry.User, _ = cfg.Get(alias, "User")
				entry.Port, _ = cfg.Get(alias, "Port")
				hosts = append(hosts, entry)
			}
		}
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Alias < hosts[j].Alias
	})
	return hosts
}

func decodeConfig(path string) (*ssh_config.Config, error) {
	content, matchLine, err := preprocessSSHConfig(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if matchLine > 0 {
		emitWarning(fmt.Sprintf("%s has a Match block at line %d; entries after it are ignored", path, matchLine))
	}
	return cfg, nil
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive,
// which kevinburke/ssh_config can't parse. Also returns the 1-indexed Match line (0 if none).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
