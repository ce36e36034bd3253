package adb

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"
)

// The ADB interface every Android device exposes when USB debugging is on.
const (
	usbClass    = gousb.Class(0xff)
	usbSubClass = gousb.Class(0x42)
	usbProtocol = gousb.Protocol(0x01)
)

// usbReadSize is the largest bulk read requested at once. A short packet
// ends the transfer early, so header and payload still arrive separately.
const usbReadSize = 64 * 1024

// USBCandidate is an attached device exposing an ADB interface.
type USBCandidate struct {
	Serial    string
	VendorID  uint16
	ProductID uint16
	Bus       int
	Address   int
}

func (c USBCandidate) String() string {
	return fmt.Sprintf("%s (%04x:%04x bus %d addr %d)", c.Serial, c.VendorID, c.ProductID, c.Bus, c.Address)
}

// USBEnumerator finds and opens ADB devices on the USB bus.
type USBEnumerator interface {
	Enumerate(ctx context.Context) ([]USBCandidate, error)
	Open(ctx context.Context, serial string) (io.ReadWriteCloser, error)
}

// LibUSB enumerates through libusb via gousb. Devices claimed by a running
// adb server can't be opened; callers fall back to the server then.
type LibUSB struct{}

// adbSetting locates the ADB interface and its bulk endpoints.
type adbSetting struct {
	config, iface, alt int
	in, out            int
}

func findADBSetting(desc *gousb.DeviceDesc) (adbSetting, bool) {
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class != usbClass || alt.SubClass != usbSubClass || alt.Protocol != usbProtocol {
					continue
				}
				s := adbSetting{config: cfg.Number, iface: iface.Number, alt: alt.Alternate, in: -1, out: -1}
				for _, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					if ep.Direction == gousb.EndpointDirectionIn {
						s.in = ep.Number
					} else {
						s.out = ep.Number
					}
				}
				if s.in >= 0 && s.out >= 0 {
					return s, true
				}
			}
		}
	}
	return adbSetting{}, false
}

// openADBDevices opens every device with an ADB interface. libusb may
// report an error for devices it couldn't open while still returning the rest.
func openADBDevices(usb *gousb.Context) ([]*gousb.Device, error) {
	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := findADBSetting(desc)
		return ok
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("enumerate USB devices: %w", err)
	}
	return devs, nil
}

func (LibUSB) Enumerate(ctx context.Context) ([]USBCandidate, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	devs, err := openADBDevices(usb)
	if err != nil {
		return nil, err
	}

	var out []USBCandidate
	for _, dev := range devs {
		serial, err := dev.SerialNumber()
		if err == nil && serial != "" {
			out = append(out, USBCandidate{
				Serial:    serial,
				VendorID:  uint16(dev.Desc.Vendor),
				ProductID: uint16(dev.Desc.Product),
				Bus:       dev.Desc.Bus,
				Address:   dev.Desc.Address,
			})
		}
		dev.Close()
	}
	return out, ctx.Err()
}

func (LibUSB) Open(ctx context.Context, serial string) (io.ReadWriteCloser, error) {
	usb := gousb.NewContext()
	devs, err := openADBDevices(usb)
	if err != nil {
		usb.Close()
		return nil, err
	}

	var dev *gousb.Device
	for _, d := range devs {
		s, _ := d.SerialNumber()
		if dev == nil && s == serial {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		usb.Close()
		return nil, fmt.Errorf("USB device %s not found", serial)
	}

	t, err := claim(usb, dev)
	if err != nil {
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("claim USB device %s: %w", serial, err)
	}
	if err := ctx.Err(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func claim(usb *gousb.Context, dev *gousb.Device) (*USBTransport, error) {
	setting, ok := findADBSetting(dev.Desc)
	if !ok {
		return nil, fmt.Errorf("no ADB interface")
	}
	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(setting.config)
	if err != nil {
		return nil, err
	}
	intf, err := cfg.Interface(setting.iface, setting.alt)
	if err != nil {
		cfg.Close()
		return nil, err
	}
	in, err := intf.InEndpoint(setting.in)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, err
	}
	out, err := intf.OutEndpoint(setting.out)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &USBTransport{
		usb: usb, dev: dev, cfg: cfg, intf: intf,
		in: in, out: out,
		ctx: ctx, cancel: cancel,
		buf: make([]byte, usbReadSize),
	}, nil
}

// USBTransport is a claimed ADB interface. Each Write is one bulk transfer.
type USBTransport struct {
	usb  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	// ctx is cancelled by Close to abort transfers in flight.
	ctx    context.Context
	cancel context.CancelFunc

	buf     []byte
	pending []byte

	closeOnce sync.Once
}

func (t *USBTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		n, err := t.in.ReadContext(t.ctx, t.buf)
		if err != nil {
			return 0, err
		}
		t.pending = t.buf[:n]
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *USBTransport) Write(p []byte) (int, error) {
	return t.out.WriteContext(t.ctx, p)
}

// Close releases the interface and the device.
func (t *USBTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.intf.Close()
		t.cfg.Close()
		t.dev.Close()
		t.usb.Close()
	})
	return nil
}
