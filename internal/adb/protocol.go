package adb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message commands. Each is four ASCII bytes read as a little-endian word.
const (
	CmdCNXN uint32 = 0x4e584e43
	CmdAUTH uint32 = 0x48545541
	CmdOPEN uint32 = 0x4e45504f
	CmdOKAY uint32 = 0x59414b4f
	CmdCLSE uint32 = 0x45534c43
	CmdWRTE uint32 = 0x45545257
	CmdSTLS uint32 = 0x534c5453
)

// AUTH message types (arg0).
const (
	AuthToken        uint32 = 1
	AuthSignature    uint32 = 2
	AuthRSAPublicKey uint32 = 3
)

const (
	// Version is the protocol version we announce. Devices at or above it
	// skip payload checksums.
	Version uint32 = 0x01000001

	// MaxPayload is the largest payload we announce and accept.
	MaxPayload = 256 * 1024

	headerSize = 24
)

// Message is one protocol message: header fields plus payload.
type Message struct {
	Command uint32
	Arg0    uint32
	Arg1    uint32
	Data    []byte
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%d, %d, %d bytes)", commandName(m.Command), m.Arg0, m.Arg1, len(m.Data))
}

// header encodes the 24-byte little-endian header.
func (m Message) header() []byte {
	h := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(h[0:], m.Command)
	binary.LittleEndian.PutUint32(h[4:], m.Arg0)
	binary.LittleEndian.PutUint32(h[8:], m.Arg1)
	binary.LittleEndian.PutUint32(h[12:], uint32(len(m.Data)))
	binary.LittleEndian.PutUint32(h[16:], checksum(m.Data))
	binary.LittleEndian.PutUint32(h[20:], m.Command^0xffffffff)
	return h
}

// writeMessage writes header and payload as two writes. Over USB each
// write is one bulk transfer and adbd expects them separately.
func writeMessage(w io.Writer, m Message) error {
	if _, err := w.Write(m.header()); err != nil {
		return fmt.Errorf("write %s header: %w", commandName(m.Command), err)
	}
	if len(m.Data) == 0 {
		return nil
	}
	if _, err := w.Write(m.Data); err != nil {
		return fmt.Errorf("write %s payload: %w", commandName(m.Command), err)
	}
	return nil
}

// readMessage reads one message, rejecting bad magic and oversized payloads.
func readMessage(r io.Reader, maxPayload int) (Message, error) {
	var h [headerSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return Message{}, err
	}

	m := Message{
		Command: binary.LittleEndian.Uint32(h[0:]),
		Arg0:    binary.LittleEndian.Uint32(h[4:]),
		Arg1:    binary.LittleEndian.Uint32(h[8:]),
	}
	length := binary.LittleEndian.Uint32(h[12:])
	magic := binary.LittleEndian.Uint32(h[20:])

	if magic != m.Command^0xffffffff {
		return Message{}, fmt.Errorf("bad message magic %#08x for command %#08x", magic, m.Command)
	}
	if int64(length) > int64(maxPayload) {
		return Message{}, fmt.Errorf("%s payload of %d bytes exceeds limit %d", commandName(m.Command), length, maxPayload)
	}

	if length > 0 {
		m.Data = make([]byte, length)
		if _, err := io.ReadFull(r, m.Data); err != nil {
			return Message{}, fmt.Errorf("read %s payload: %w", commandName(m.Command), err)
		}
	}
	return m, nil
}

// checksum is the legacy byte sum older devices still verify.
func checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

func commandName(cmd uint32) string {
	switch cmd {
	case CmdCNXN:
		return "CNXN"
	case CmdAUTH:
		return "AUTH"
	case CmdOPEN:
		return "OPEN"
	case CmdOKAY:
		return "OKAY"
	case CmdCLSE:
		return "CLSE"
	case CmdWRTE:
		return "WRTE"
	case CmdSTLS:
		return "STLS"
	default:
		return fmt.Sprintf("%#08x", cmd)
	}
}
