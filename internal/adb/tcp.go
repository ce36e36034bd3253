package adb

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// DefaultTCPPort is where adbd listens after `adb tcpip`.
const DefaultTCPPort = 5555

// TCPAddress appends defaultPort to a bare host.
func TCPAddress(serial string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(serial); err == nil {
		return serial
	}
	if defaultPort <= 0 {
		defaultPort = DefaultTCPPort
	}
	return net.JoinHostPort(serial, strconv.Itoa(defaultPort))
}

// DialTCP opens a raw socket to adbd. The caller runs Handshake on it.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial adbd at %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
	}
	return conn, nil
}
