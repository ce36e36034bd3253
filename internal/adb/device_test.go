package adb

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKeyVal  *rsa.PrivateKey
)

// testKey returns one 2048-bit key shared by the package tests.
func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			panic(err)
		}
		testKeyVal = k
	})
	return testKeyVal
}

// reply is what the fake device sends for one opened service.
type reply struct {
	chunks [][]byte
	// hold keeps the stream open until the host closes it.
	hold bool
}

// fakeDevice plays adbd on one end of a pipe.
type fakeDevice struct {
	banner string

	key     *rsa.PublicKey // nil disables auth
	trusted bool           // key already in the device's authorized list
	accept  bool           // user taps "Allow" on the prompt
	stls    bool

	handler func(service string) *reply

	mu        sync.Mutex
	offered   []byte
	opened    []string
	hostClose chan string
}

func newFakeDevice(banner string, handler func(string) *reply) *fakeDevice {
	return &fakeDevice{banner: banner, handler: handler, hostClose: make(chan string, 16)}
}

// start connects a host end to a running device and returns it.
func (d *fakeDevice) start(t *testing.T) net.Conn {
	t.Helper()
	host, dev := net.Pipe()
	go d.serve(dev)
	t.Cleanup(func() { host.Close(); dev.Close() })
	return host
}

func (d *fakeDevice) serve(conn net.Conn) {
	defer conn.Close()

	msg, err := readMessage(conn, MaxPayload)
	if err != nil || msg.Command != CmdCNXN {
		return
	}
	if d.stls {
		_ = writeMessage(conn, Message{Command: CmdSTLS, Arg0: 1})
		return
	}
	if d.key != nil && !d.authenticate(conn) {
		return
	}
	if err := writeMessage(conn, Message{Command: CmdCNXN, Arg0: Version, Arg1: MaxPayload, Data: []byte(d.banner)}); err != nil {
		return
	}

	var nextID uint32 = 100
	for {
		msg, err := readMessage(conn, MaxPayload)
		if err != nil {
			return
		}
		switch msg.Command {
		case CmdOPEN:
			service := strings.TrimRight(string(msg.Data), "\x00")
			d.mu.Lock()
			d.opened = append(d.opened, service)
			d.mu.Unlock()

			r := d.handler(service)
			if r == nil {
				_ = writeMessage(conn, Message{Command: CmdCLSE, Arg0: 0, Arg1: msg.Arg0})
				continue
			}
			nextID++
			if !d.run(conn, nextID, msg.Arg0, service, r) {
				return
			}
		case CmdCLSE:
			// Host closing a stream we already finished.
		}
	}
}

func (d *fakeDevice) authenticate(conn net.Conn) bool {
	token := bytes.Repeat([]byte{0x5a}, 20)
	if writeMessage(conn, Message{Command: CmdAUTH, Arg0: AuthToken, Data: token}) != nil {
		return false
	}
	msg, err := readMessage(conn, MaxPayload)
	if err != nil || msg.Command != CmdAUTH || msg.Arg0 != AuthSignature {
		return false
	}
	if d.trusted && rsa.VerifyPKCS1v15(d.key, crypto.SHA1, token, msg.Data) == nil {
		return true
	}

	if writeMessage(conn, Message{Command: CmdAUTH, Arg0: AuthToken, Data: token}) != nil {
		return false
	}
	msg, err = readMessage(conn, MaxPayload)
	if err != nil || msg.Command != CmdAUTH || msg.Arg0 != AuthRSAPublicKey {
		return false
	}
	d.mu.Lock()
	d.offered = msg.Data
	d.mu.Unlock()

	if d.accept {
		return true
	}
	_ = writeMessage(conn, Message{Command: CmdAUTH, Arg0: AuthToken, Data: token})
	_, _ = readMessage(conn, MaxPayload)
	return false
}

// run serves one stream, waiting for the host's OKAY after every WRTE.
func (d *fakeDevice) run(conn net.Conn, local, remote uint32, service string, r *reply) bool {
	if writeMessage(conn, Message{Command: CmdOKAY, Arg0: local, Arg1: remote}) != nil {
		return false
	}
	for _, chunk := range r.chunks {
		if writeMessage(conn, Message{Command: CmdWRTE, Arg0: local, Arg1: remote, Data: chunk}) != nil {
			return false
		}
		msg, err := readMessage(conn, MaxPayload)
		if err != nil {
			return false
		}
		if msg.Command == CmdCLSE {
			d.hostClose <- service
			return true
		}
	}
	if !r.hold {
		return writeMessage(conn, Message{Command: CmdCLSE, Arg0: local, Arg1: remote}) == nil
	}
	for {
		msg, err := readMessage(conn, MaxPayload)
		if err != nil {
			return false
		}
		if msg.Command == CmdCLSE {
			d.hostClose <- service
			return true
		}
	}
}

func (d *fakeDevice) offeredKey() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offered
}

func (d *fakeDevice) openedServices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

// shellPacket encodes one shell v2 packet.
func shellPacket(id byte, data []byte) []byte {
	p := make([]byte, 5+len(data))
	p[0] = id
	binary.LittleEndian.PutUint32(p[1:], uint32(len(data)))
	copy(p[5:], data)
	return p
}

func exitPacket(code byte) []byte {
	return shellPacket(shellExit, []byte{code})
}

// readAll drains r; used where the stream ends on its own.
func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}
