package adb

import (
	"bufio"
	"regexp"
	"strings"
)

// ConnectionType indicates how a device is attached.
type ConnectionType string

const (
	USB     ConnectionType = "usb"
	Network ConnectionType = "network"
)

// DeviceInfo is one row of the adb server's device list.
type DeviceInfo struct {
	Serial      string
	State       string // "device", "offline", "unauthorized", ...
	ConnType    ConnectionType
	Model       string
	Product     string
	Device      string
	TransportID string
}

// IsOnline returns true if the device is ready for commands.
func (d DeviceInfo) IsOnline() bool {
	return d.State == "device"
}

// Label is a short human name for reports.
func (d DeviceInfo) Label() string {
	if d.Model != "" {
		return d.Serial + " (" + strings.ReplaceAll(d.Model, "_", " ") + ")"
	}
	return d.Serial
}

var networkSerial = regexp.MustCompile(`:\d+$|^adb-.*\._adb-tls-connect\._tcp`)

// ParseDeviceList parses `devices -l` output, with or without the
// "List of devices attached" header the command-line client prints.
func ParseDeviceList(output string) []DeviceInfo {
	var devices []DeviceInfo
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := DeviceInfo{
			Serial:   fields[0],
			State:    fields[1],
			ConnType: USB,
		}
		if networkSerial.MatchString(d.Serial) {
			d.ConnType = Network
		}
		for _, f := range fields[2:] {
			key, value, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch key {
			case "model":
				d.Model = value
			case "product":
				d.Product = value
			case "device":
				d.Device = value
			case "transport_id":
				d.TransportID = value
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// Banner is the identity string a device sends in CNXN, e.g.
// "device::ro.product.name=x;ro.product.model=y;features=shell_v2,cmd".
type Banner struct {
	State    string
	Props    map[string]string
	Features map[string]bool
}

// ParseBanner splits a CNXN banner into state, properties and features.
func ParseBanner(raw string) Banner {
	raw = strings.TrimRight(raw, "\x00")
	b := Banner{
		Props:    make(map[string]string),
		Features: make(map[string]bool),
	}

	state, rest, _ := strings.Cut(raw, "::")
	b.State = state

	for _, part := range strings.Split(rest, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if key == "features" {
			b.Features = parseFeatures(value)
			continue
		}
		b.Props[key] = value
	}
	return b
}

func parseFeatures(list string) map[string]bool {
	features := make(map[string]bool)
	for _, f := range strings.Split(list, ",") {
		if f = strings.TrimSpace(f); f != "" {
			features[f] = true
		}
	}
	return features
}

// HasShellV2 reports whether the device speaks the shell v2 packet protocol.
func (b Banner) HasShellV2() bool {
	return b.Features[FeatureShellV2]
}

// FeatureShellV2 is the feature name advertising the shell v2 protocol.
const FeatureShellV2 = "shell_v2"
