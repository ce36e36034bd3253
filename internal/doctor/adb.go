package doctor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sbctool/sbctool/internal/adb"
	"github.com/sbctool/sbctool/internal/config"
	"github.com/sbctool/sbctool/pkg/sshutil"
)

// probeTimeout bounds each network or USB probe.
const probeTimeout = 3 * time.Second

// ADBKeyCheck verifies the RSA key used for device auth.
type ADBKeyCheck struct {
	Path string
}

func (c *ADBKeyCheck) Name() string     { return "adb_key" }
func (c *ADBKeyCheck) Category() string { return "ADB" }

func (c *ADBKeyCheck) Run(context.Context) CheckResult {
	if _, err := os.Stat(c.Path); os.IsNotExist(err) {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No adb key at " + c.Path,
			Suggestion: "One is created on first connect, or run: sbctool doctor --fix",
			Fixable:    true,
		}
	}

	// The file exists, so this only reads and parses it.
	if _, err := adb.LoadOrCreateKey(c.Path, adb.KeyComment()); err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("adb key unusable: %v", err),
			Suggestion: "Move it aside and let sbctool or adb create a new one",
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "adb key: " + c.Path,
	}
}

func (c *ADBKeyCheck) Fix() error {
	_, err := adb.LoadOrCreateKey(c.Path, adb.KeyComment())
	return err
}

// DeviceLister is the part of the adb server client this check needs.
type DeviceLister interface {
	Devices(ctx context.Context) ([]adb.DeviceInfo, error)
}

// ADBServerCheck lists the devices the local adb server knows about.
type ADBServerCheck struct {
	Address string
	Server  DeviceLister
}

func (c *ADBServerCheck) Name() string     { return "adb_server" }
func (c *ADBServerCheck) Category() string { return "ADB" }

func (c *ADBServerCheck) Run(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	devices, err := c.Server.Devices(ctx)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("adb server not reachable at %s", c.Address),
			Suggestion: "Only needed for server mode and non-IP serials: adb start-server",
		}
	}

	var online, unauthorized []string
	for _, d := range devices {
		switch {
		case d.IsOnline():
			online = append(online, d.Label())
		case d.State == "unauthorized":
			unauthorized = append(unauthorized, d.Serial)
		}
	}

	if len(unauthorized) > 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "Unauthorized device: " + strings.Join(unauthorized, ", "),
			Suggestion: "Accept the USB debugging prompt on the device",
		}
	}

	if len(online) == 0 {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: fmt.Sprintf("adb server at %s, no devices attached", c.Address),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("adb server at %s: %s", c.Address, strings.Join(online, ", ")),
	}
}

func (c *ADBServerCheck) Fix() error { return nil }

// USBCheck enumerates adb interfaces on the USB bus directly.
type USBCheck struct {
	USB adb.USBEnumerator // nil when direct USB is disabled
}

func (c *USBCheck) Name() string     { return "adb_usb" }
func (c *USBCheck) Category() string { return "ADB" }

func (c *USBCheck) Run(ctx context.Context) CheckResult {
	if c.USB == nil {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Direct USB disabled (adb.usb: false)",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	candidates, err := c.USB.Enumerate(ctx)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("USB enumeration failed: %v", err),
			Suggestion: "Check libusb is installed and udev rules allow access; the adb server is used otherwise",
		}
	}

	if len(candidates) == 0 {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "No adb devices on USB",
		}
	}

	serials := make([]string, len(candidates))
	for i, cand := range candidates {
		serials[i] = cand.String()
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%d USB device%s: %s", len(candidates), pluralize(len(candidates)), strings.Join(serials, ", ")),
	}
}

func (c *USBCheck) Fix() error { return nil }

// NewADBChecks creates all ADB-related checks.
func NewADBChecks(cfg config.ADBConfig) []Check {
	usb := &USBCheck{}
	if cfg.USB {
		usb.USB = adb.LibUSB{}
	}
	return []Check{
		&ADBKeyCheck{Path: cfg.KeyPath},
		&ADBServerCheck{Address: cfg.ServerAddress, Server: adb.NewServerClient(cfg.ServerAddress)},
		usb,
	}
}

// NewChecks assembles every check. cfg may be nil when it failed to
// load; the config checks report why and the rest run on defaults.
func NewChecks(configPath string, cfg *config.Config) []Check {
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.ADB.KeyPath = config.ExpandPath(cfg.ADB.KeyPath)
	}
	var checks []Check
	checks = append(checks, NewConfigChecks(configPath)...)
	checks = append(checks, NewSSHChecks(sshutil.NewResolver(cfg.SSH.ConfigFile))...)
	checks = append(checks, NewADBChecks(cfg.ADB)...)
	return checks
}
