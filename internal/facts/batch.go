package facts

import (
	"strings"
)

// sectionPrefix starts every marker line in batch output.
const sectionPrefix = "@@sbctool:"

// Sections of the batch command, in the order they are printed.
const (
	secKernel       = "kernel"
	secArch         = "arch"
	secHostname     = "hostname"
	secModel        = "model"
	secCompatible   = "compatible"
	secCPUInfo      = "cpuinfo"
	secMemInfo      = "meminfo"
	secUptime       = "uptime"
	secLoadAvg      = "loadavg"
	secOSRelease    = "os-release"
	secRelease      = "android-release"
	secDisplayID    = "android-display-id"
	secManufacturer = "android-manufacturer"
	secProduct      = "android-model"
	secPlatform     = "android-platform"
	secSoC          = "android-soc"
)

type section struct {
	name string
	cmd  string
}

// Device tree strings are NUL separated, so they go through tr.
// getprop is absent on plain Linux and prints nothing there.
var sections = []section{
	{secKernel, "uname -sr"},
	{secArch, "uname -m"},
	{secHostname, "hostname 2>/dev/null || cat /proc/sys/kernel/hostname"},
	{secModel, "tr -d '\\000' < /proc/device-tree/model"},
	{secCompatible, "tr '\\000' ' ' < /proc/device-tree/compatible"},
	{secCPUInfo, "cat /proc/cpuinfo"},
	{secMemInfo, "cat /proc/meminfo"},
	{secUptime, "cat /proc/uptime"},
	{secLoadAvg, "cat /proc/loadavg"},
	{secOSRelease, "cat /etc/os-release"},
	{secRelease, "getprop ro.build.version.release"},
	{secDisplayID, "getprop ro.build.display.id"},
	{secManufacturer, "getprop ro.product.manufacturer"},
	{secProduct, "getprop ro.product.model"},
	{secPlatform, "getprop ro.board.platform"},
	{secSoC, "echo \"$(getprop ro.soc.manufacturer) $(getprop ro.soc.model)\""},
}

// BatchCommand collects every section in one shell invocation so a poll
// is a single command. It always exits 0.
func BatchCommand() string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString("echo '" + sectionPrefix + s.name + "'; ")
		b.WriteString("{ " + s.cmd + "; } 2>/dev/null; ")
	}
	b.WriteString("exit 0")
	return b.String()
}

// splitSections maps section name to its trimmed output.
func splitSections(output string) map[string]string {
	out := make(map[string]string)
	output = strings.ReplaceAll(output, "\r\n", "\n")

	current := ""
	var body strings.Builder
	flush := func() {
		if current != "" {
			out[current] = strings.TrimSpace(body.String())
		}
		body.Reset()
	}
	for _, line := range strings.Split(output, "\n") {
		if name, ok := strings.CutPrefix(line, sectionPrefix); ok {
			flush()
			current = strings.TrimSpace(name)
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return out
}
