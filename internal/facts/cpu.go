package facts

import (
	"fmt"
	"sort"
	"strings"
)

// chipRule maps a device tree compatible substring to a chip name.
// Rules are checked in order, so specific SoCs come before families.
type chipRule struct {
	match string
	name  string
}

var compatibleChips = []chipRule{
	{"rk3399", "Rockchip RK3399"},
	{"rk3568", "Rockchip RK3568"},
	{"rk3566", "Rockchip RK3566"},
	{"rk3588", "Rockchip RK3588"},
	{"rk3328", "Rockchip RK3328"},
	{"rockchip", "Rockchip"},
	{"a311d", "Amlogic A311D"},
	{"s922", "Amlogic S922"},
	{"s905", "Amlogic S905"},
	{"g12", "Amlogic G12"},
	{"amlogic", "Amlogic"},
	{"allwinner", "Allwinner"},
	{"bcm2712", "Broadcom BCM2712"},
	{"bcm2711", "Broadcom BCM2711"},
	{"brcm", "Broadcom"},
	{"broadcom", "Broadcom"},
	{"qcom", "Qualcomm"},
	{"qualcomm", "Qualcomm"},
	{"nvidia", "Nvidia Jetson"},
}

var implementers = map[string]string{
	"0x41": "ARM",
	"0x42": "Broadcom",
	"0x51": "Qualcomm",
}

// armParts names common ARM core part numbers.
var armParts = map[string]string{
	"0xd03": "Cortex-A53",
	"0xd04": "Cortex-A35",
	"0xd05": "Cortex-A55",
	"0xd07": "Cortex-A57",
	"0xd08": "Cortex-A72",
	"0xd09": "Cortex-A73",
	"0xd0a": "Cortex-A75",
	"0xd0b": "Cortex-A76",
	"0xd0d": "Cortex-A77",
	"0xd41": "Cortex-A78",
}

// ParseChip names the SoC from the device tree compatible string, falling
// back to the cpuinfo Hardware line and then the CPU implementer.
func ParseChip(compatible, cpuinfo string) string {
	lower := strings.ToLower(compatible)
	for _, rule := range compatibleChips {
		if lower != "" && strings.Contains(lower, rule.match) {
			return rule.name
		}
	}

	info := parseCPUInfo(cpuinfo)
	if hw := info.hardware; hw != "" && hw != "BCM2835" {
		return hw
	}
	if name, ok := implementers[info.implementer]; ok {
		return name
	}
	return Unknown
}

type cpuInfo struct {
	modelName   string
	hardware    string
	implementer string
	arch        string
	cores       int
	parts       []string
}

func parseCPUInfo(content string) cpuInfo {
	var info cpuInfo
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "model name", "Processor":
			if info.modelName == "" {
				info.modelName = value
			}
		case "Hardware":
			info.hardware = value
		case "CPU implementer":
			if info.implementer == "" {
				info.implementer = value
			}
		case "CPU architecture":
			if info.arch == "" {
				info.arch = value
			}
		case "CPU part":
			info.parts = append(info.parts, value)
		case "processor":
			info.cores++
		}
	}
	return info
}

// ParseCPU describes the CPU: the model name when cpuinfo has one,
// otherwise core clusters such as "4x Cortex-A73 + 2x Cortex-A53 (6 cores)".
func ParseCPU(cpuinfo string) string {
	info := parseCPUInfo(cpuinfo)
	if info.modelName != "" {
		if info.cores > 1 {
			return fmt.Sprintf("%s (%d cores)", info.modelName, info.cores)
		}
		return info.modelName
	}

	var desc []string
	if clusters := describeClusters(info.parts); clusters != "" {
		desc = append(desc, clusters)
	} else {
		if name, ok := implementers[info.implementer]; ok {
			desc = append(desc, name)
		} else if info.implementer != "" {
			desc = append(desc, "Unknown")
		}
		if info.arch != "" {
			desc = append(desc, "v"+info.arch)
		}
	}
	if info.cores > 0 {
		desc = append(desc, fmt.Sprintf("(%d cores)", info.cores))
	}
	if len(desc) == 0 {
		return Unknown
	}
	return strings.Join(desc, " ")
}

// describeClusters returns "" unless every part is a known ARM core.
func describeClusters(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	counts := make(map[string]int)
	for _, p := range parts {
		name, ok := armParts[strings.ToLower(p)]
		if !ok {
			return ""
		}
		counts[name]++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	// Newer, bigger cores sort higher by name.
	sort.Slice(names, func(i, j int) bool { return names[i] > names[j] })

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("%dx %s", counts[name], name))
	}
	return strings.Join(out, " + ")
}
