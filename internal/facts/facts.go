// Package facts turns raw command output from a board into display fields.
// Everything here is a pure function of text.
package facts

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Unknown fills fields that could not be determined.
const Unknown = "Unknown"

// Facts are the system fields shown in the dashboard.
type Facts struct {
	Hostname   string `yaml:"hostname"`
	Kernel     string `yaml:"kernel"`
	Arch       string `yaml:"arch"`
	Board      string `yaml:"board"`
	Chip       string `yaml:"chip"`
	CPU        string `yaml:"cpu"`
	Memory     string `yaml:"memory"`
	MemoryUsed string `yaml:"memory_used"`
	Uptime     string `yaml:"uptime"`
	Load       string `yaml:"load"`
	OS         string `yaml:"os"`
	Android    bool   `yaml:"android"`
}

// Extractor builds Facts from the output of its own command.
type Extractor interface {
	Command() string
	Parse(output string) (Facts, error)
}

// Batch is the default Extractor, covering Linux boards and Android.
type Batch struct{}

func (Batch) Command() string { return BatchCommand() }

func (Batch) Parse(output string) (Facts, error) { return Parse(output) }

// Parse extracts Facts from BatchCommand output.
func Parse(output string) (Facts, error) {
	s := splitSections(output)
	if _, ok := s[secKernel]; !ok {
		return Facts{}, fmt.Errorf("batch output has no %q section", secKernel)
	}

	f := Facts{
		Hostname: orUnknown(firstLine(s[secHostname])),
		Kernel:   orUnknown(firstLine(s[secKernel])),
		Arch:     orUnknown(firstLine(s[secArch])),
		CPU:      ParseCPU(s[secCPUInfo]),
		Uptime:   ParseUptime(s[secUptime]),
		Load:     ParseLoad(s[secLoadAvg]),
		Android:  firstLine(s[secRelease]) != "",
	}
	f.Memory, f.MemoryUsed = ParseMemory(s[secMemInfo])

	if f.Android {
		f.OS = androidOS(s[secRelease], s[secDisplayID])
		f.Board = orUnknown(strings.TrimSpace(firstLine(s[secManufacturer]) + " " + firstLine(s[secProduct])))
		f.Chip = androidChip(s)
	} else {
		f.OS = ParseOSRelease(s[secOSRelease])
		f.Board = orUnknown(firstLine(s[secModel]))
		f.Chip = ParseChip(s[secCompatible], s[secCPUInfo])
	}
	return f, nil
}

func androidOS(release, displayID string) string {
	osName := "Android " + firstLine(release)
	if id := firstLine(displayID); id != "" {
		osName += " (" + id + ")"
	}
	return osName
}

func androidChip(s map[string]string) string {
	if soc := strings.TrimSpace(firstLine(s[secSoC])); soc != "" {
		return soc
	}
	if chip := ParseChip(s[secCompatible], s[secCPUInfo]); chip != Unknown {
		return chip
	}
	if platform := firstLine(s[secPlatform]); platform != "" {
		return strings.ToUpper(platform)
	}
	return Unknown
}

// ParseOSRelease returns PRETTY_NAME from /etc/os-release.
func ParseOSRelease(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), "PRETTY_NAME="); ok {
			if value = strings.Trim(value, `"'`); value != "" {
				return value
			}
		}
	}
	return Unknown
}

// ParseMemory returns total memory as "N GB" or "N MB" and, when
// MemAvailable is present, the amount in use.
func ParseMemory(meminfo string) (total, used string) {
	values := make(map[string]uint64)
	for _, line := range strings.Split(meminfo, "\n") {
		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if kb, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
			values[strings.TrimSpace(key)] = kb
		}
	}

	totalKB, ok := values["MemTotal"]
	if !ok || totalKB == 0 {
		return Unknown, Unknown
	}
	total = formatMemory(totalKB)

	used = Unknown
	if avail, ok := values["MemAvailable"]; ok && avail <= totalKB {
		used = humanize.IBytes((totalKB - avail) * 1024)
	}
	return total, used
}

// formatMemory rounds to whole GB, or MB below 1 GB.
func formatMemory(kb uint64) string {
	mb := float64(kb) / 1024
	if gb := mb / 1024; gb >= 1 {
		return fmt.Sprintf("%d GB", int(math.Round(gb)))
	}
	return fmt.Sprintf("%d MB", int(mb))
}

// ParseUptime formats the first field of /proc/uptime as "Xd Yh Zm".
func ParseUptime(content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return Unknown
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || seconds < 0 {
		return Unknown
	}
	return FormatUptime(uint64(seconds))
}

// FormatUptime drops leading zero units: "3d 4h 5m", "4h 5m", "5m".
func FormatUptime(seconds uint64) string {
	days := seconds / 86400
	hours := seconds % 86400 / 3600
	minutes := seconds % 3600 / 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// ParseLoad returns the three load averages from /proc/loadavg.
func ParseLoad(content string) string {
	fields := strings.Fields(content)
	if len(fields) < 3 {
		return Unknown
	}
	return strings.Join(fields[:3], " ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
