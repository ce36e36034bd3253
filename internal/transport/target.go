package transport

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
)

// Backend is the family a target belongs to.
type Backend int

const (
	BackendSSH Backend = iota
	BackendADB
)

func (b Backend) String() string {
	if b == BackendADB {
		return "adb"
	}
	return "ssh"
}

// Target is what the user asked to monitor.
type Target struct {
	Backend Backend
	// Host is an ssh alias or user@host[:port].
	Host string
	// Serial optionally pins an adb device; empty means auto-detect.
	Serial string
}

// SSHTarget targets an ssh alias or user@host.
func SSHTarget(host string) Target {
	return Target{Backend: BackendSSH, Host: host}
}

// ADBTarget targets an adb device; serial may be empty.
func ADBTarget(serial string) Target {
	return Target{Backend: BackendADB, Serial: serial}
}

func (t Target) String() string {
	switch {
	case t.Backend == BackendSSH:
		return "ssh " + t.Host
	case t.Serial != "":
		return "adb -s " + t.Serial
	default:
		return "adb (auto-detect)"
	}
}

// Kind is one of the four ways bytes reach a device.
type Kind int

const (
	KindSSH Kind = iota
	KindADBUSB
	KindADBTCP
	KindADBServer
)

func (k Kind) String() string {
	switch k {
	case KindSSH:
		return "ssh"
	case KindADBUSB:
		return "usb"
	case KindADBTCP:
		return "tcp"
	case KindADBServer:
		return "adb server"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var ipv4Serial = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3}){3})(?::(\d{1,5}))?$`)

// ClassifySerial decides how an explicit serial is reached: ipv4[:port]
// goes straight to adbd over TCP, anything else through the adb server.
// Octets above 255 or ports outside 1-65535 are not addresses.
func ClassifySerial(serial string) Kind {
	m := ipv4Serial.FindStringSubmatch(serial)
	if m == nil || net.ParseIP(m[1]).To4() == nil {
		return KindADBServer
	}
	if m[2] != "" {
		port, err := strconv.Atoi(m[2])
		if err != nil || port < 1 || port > 65535 {
			return KindADBServer
		}
	}
	return KindADBTCP
}
