package adb

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultServerAddress is where the adb server listens.
const DefaultServerAddress = "127.0.0.1:5037"

// ServerClient speaks the adb server's smart-socket protocol: a request is
// a 4-digit hex length followed by the request, answered by OKAY or FAIL.
type ServerClient struct {
	Addr   string
	Dialer net.Dialer
}

// NewServerClient creates a client for the server at addr.
func NewServerClient(addr string) *ServerClient {
	if addr == "" {
		addr = DefaultServerAddress
	}
	return &ServerClient{Addr: addr}
}

// ServerError is a FAIL reply from the adb server.
type ServerError struct {
	Request string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("adb server rejected %q: %s", e.Request, e.Message)
}

func (c *ServerClient) dial(ctx context.Context) (net.Conn, error) {
	conn, err := c.Dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect to adb server at %s: %w", c.Addr, err)
	}
	return conn, nil
}

// request sends req on a fresh connection and waits for OKAY.
// The returned connection is positioned after the status.
func (c *ServerClient) request(ctx context.Context, req string) (net.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := roundTrip(ctx, conn, req); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// roundTrip writes one request and reads its status within ctx. A ctx
// cancelled without a deadline closes conn so the read gives up.
func roundTrip(ctx context.Context, conn net.Conn, req string) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := fmt.Fprintf(conn, "%04x%s", len(req), req); err != nil {
		return canceledOr(ctx, fmt.Errorf("send %q: %w", req, err), req)
	}
	if err := readStatus(conn, req); err != nil {
		return canceledOr(ctx, err, req)
	}
	return nil
}

// canceledOr prefers ctx's error when ctx ending is what broke the exchange.
func canceledOr(ctx context.Context, err error, req string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%q: %w", req, ctx.Err())
	}
	return err
}

func readStatus(r io.Reader, req string) error {
	var status [4]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return fmt.Errorf("read status for %q: %w", req, err)
	}
	switch string(status[:]) {
	case "OKAY":
		return nil
	case "FAIL":
		msg, err := readHexString(r)
		if err != nil {
			msg = err.Error()
		}
		return &ServerError{Request: req, Message: msg}
	default:
		return fmt.Errorf("unexpected status %q for %q", status[:], req)
	}
}

// readHexString reads a 4-hex-digit length prefixed string.
func readHexString(r io.Reader) (string, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(prefix[:]), 16, 16)
	if err != nil {
		return "", fmt.Errorf("bad length prefix %q", prefix[:])
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// query runs a host request whose reply is a single length-prefixed string.
func (c *ServerClient) query(ctx context.Context, req string) (string, error) {
	conn, err := c.request(ctx, req)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reply, err := readHexString(conn)
	if err != nil {
		return "", canceledOr(ctx, err, req)
	}
	return reply, nil
}

// Devices lists every device the server knows about, USB and network.
func (c *ServerClient) Devices(ctx context.Context) ([]DeviceInfo, error) {
	out, err := c.query(ctx, "host:devices-l")
	if err != nil {
		return nil, err
	}
	return ParseDeviceList(out), nil
}

// Features returns the feature set of the device with serial.
func (c *ServerClient) Features(ctx context.Context, serial string) (map[string]bool, error) {
	out, err := c.query(ctx, "host-serial:"+serial+":features")
	if err != nil {
		return nil, err
	}
	return parseFeatures(out), nil
}

// Open switches a fresh server connection to serial's transport and starts
// service on it. The returned connection is the service stream.
func (c *ServerClient) Open(ctx context.Context, serial, service string) (io.ReadWriteCloser, error) {
	conn, err := c.request(ctx, "host:transport:"+serial)
	if err != nil {
		return nil, err
	}
	if err := roundTrip(ctx, conn, service); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Relay opens services on any device the server knows. ServerClient is
// the production implementation.
type Relay interface {
	Open(ctx context.Context, serial, service string) (io.ReadWriteCloser, error)
}

// DeviceOpener binds a Relay to one serial so it satisfies Opener.
type DeviceOpener struct {
	Relay  Relay
	Serial string
}

func (o DeviceOpener) Open(ctx context.Context, service string) (io.ReadWriteCloser, error) {
	return o.Relay.Open(ctx, o.Serial, service)
}

// IsNoDevice reports whether err means the server doesn't know the serial.
func IsNoDevice(err error) bool {
	se, ok := err.(*ServerError)
	if !ok {
		return false
	}
	return strings.Contains(se.Message, "not found") || strings.Contains(se.Message, "no devices")
}
