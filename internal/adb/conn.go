package adb

import (
	"context"
	"crypto/rsa"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/logger"
)

// ErrConnClosed is returned by streams whose connection has gone away.
var ErrConnClosed = stderrors.New("adb connection closed")

// HandshakeOptions configure the CNXN/AUTH exchange.
type HandshakeOptions struct {
	// Key signs AUTH tokens. Its public half is offered when the device
	// does not yet trust it, which pops the "Allow USB debugging?" prompt.
	Key *rsa.PrivateKey

	// KeyComment is appended to the offered public key.
	KeyComment string

	// Name identifies the endpoint in errors and logs (serial or address).
	Name string

	Logger logger.Logger
}

// Conn is a handshaken ADB transport carrying any number of logical
// streams. Reads are demultiplexed by a single goroutine; writes are
// serialized by writeMu.
type Conn struct {
	rw         io.ReadWriteCloser
	name       string
	log        logger.Logger
	maxPayload int
	banner     Banner

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[uint32]*Stream
	nextID  uint32

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Handshake performs CNXN and, when asked, RSA auth over rw. The context
// bounds the whole exchange including the wait for the user to accept a
// new key on the device. On success the read loop is running.
func Handshake(ctx context.Context, rw io.ReadWriteCloser, opts HandshakeOptions) (*Conn, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}

	// Reads below block without a deadline; closing rw unblocks them.
	stop := context.AfterFunc(ctx, func() { rw.Close() })
	banner, maxPayload, err := handshake(rw, opts, log)
	if !stop() || ctx.Err() != nil {
		rw.Close()
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, errors.WrapWithCode(ctx.Err(), errors.ErrHandshakeTimeout,
			fmt.Sprintf("ADB handshake with %s timed out", opts.Name),
			"If the device shows an \"Allow USB debugging?\" prompt, accept it and retry.")
	}
	if err != nil {
		rw.Close()
		return nil, err
	}

	c := &Conn{
		rw:         rw,
		name:       opts.Name,
		log:        log,
		maxPayload: maxPayload,
		banner:     banner,
		streams:    make(map[uint32]*Stream),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func handshake(rw io.ReadWriter, opts HandshakeOptions, log logger.Logger) (Banner, int, error) {
	hello := Message{Command: CmdCNXN, Arg0: Version, Arg1: MaxPayload, Data: []byte("host::\x00")}
	if err := writeMessage(rw, hello); err != nil {
		return Banner{}, 0, errors.WrapWithCode(err, errors.ErrADB,
			fmt.Sprintf("Couldn't talk to %s", opts.Name), "")
	}

	sentSignature := false
	sentPublicKey := false

	for {
		msg, err := readMessage(rw, MaxPayload)
		if err != nil {
			return Banner{}, 0, errors.WrapWithCode(err, errors.ErrADB,
				fmt.Sprintf("ADB handshake with %s failed", opts.Name),
				"Reconnect the device and check that USB debugging is enabled.")
		}
		log.Debug("handshake %s: received %s", opts.Name, msg)

		switch msg.Command {
		case CmdCNXN:
			maxPayload := int(msg.Arg1)
			if maxPayload <= 0 || maxPayload > MaxPayload {
				maxPayload = MaxPayload
			}
			return ParseBanner(string(msg.Data)), maxPayload, nil

		case CmdAUTH:
			if msg.Arg0 != AuthToken {
				return Banner{}, 0, errors.New(errors.ErrADB,
					fmt.Sprintf("%s sent unexpected AUTH type %d", opts.Name, msg.Arg0), "")
			}
			if opts.Key == nil {
				return Banner{}, 0, errors.New(errors.ErrAuth,
					fmt.Sprintf("%s requires authentication but no adb key is available", opts.Name),
					"Check adb.key_path in your config.")
			}

			switch {
			case !sentSignature:
				sig, err := signToken(opts.Key, msg.Data)
				if err != nil {
					return Banner{}, 0, errors.WrapWithCode(err, errors.ErrAuth,
						"Couldn't sign the ADB auth token", "")
				}
				sentSignature = true
				err = writeMessage(rw, Message{Command: CmdAUTH, Arg0: AuthSignature, Data: sig})
				if err != nil {
					return Banner{}, 0, errors.WrapWithCode(err, errors.ErrADB, "ADB auth write failed", "")
				}
			case !sentPublicKey:
				// Device doesn't know our key yet. Offer it and wait for
				// the user to accept; adbd answers with CNXN.
				pub, err := AndroidPublicKey(&opts.Key.PublicKey, opts.KeyComment)
				if err != nil {
					return Banner{}, 0, errors.WrapWithCode(err, errors.ErrAuth, "Couldn't encode the adb public key", "")
				}
				sentPublicKey = true
				log.Info("offering public key to %s; accept the prompt on the device", opts.Name)
				err = writeMessage(rw, Message{Command: CmdAUTH, Arg0: AuthRSAPublicKey, Data: append(pub, 0)})
				if err != nil {
					return Banner{}, 0, errors.WrapWithCode(err, errors.ErrADB, "ADB auth write failed", "")
				}
			default:
				return Banner{}, 0, errors.New(errors.ErrAuth,
					fmt.Sprintf("%s rejected our adb key", opts.Name),
					"Revoke USB debugging authorizations on the device and try again.")
			}

		case CmdSTLS:
			return Banner{}, 0, errors.New(errors.ErrADB,
				fmt.Sprintf("%s requires TLS (wireless debugging pairing)", opts.Name),
				"Pair it with `adb pair` and connect through the adb server instead.")

		default:
			log.Debug("handshake %s: ignoring %s", opts.Name, msg)
		}
	}
}

// Banner returns what the device reported about itself during CNXN.
func (c *Conn) Banner() Banner {
	return c.banner
}

// Done is closed when the connection dies or is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is alive.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close tears down the transport and fails every open stream.
func (c *Conn) Close() error {
	c.shutdown(ErrConnClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		c.rw.Close()
	})
}

func (c *Conn) send(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return c.err
	default:
	}
	if err := writeMessage(c.rw, m); err != nil {
		c.shutdown(fmt.Errorf("%w: %v", ErrConnClosed, err))
		return c.err
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		msg, err := readMessage(c.rw, c.maxPayload)
		if err != nil {
			c.log.Debug("%s: read loop ended: %v", c.name, err)
			c.shutdown(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg Message) {
	switch msg.Command {
	case CmdOKAY, CmdWRTE, CmdCLSE:
	default:
		c.log.Debug("%s: ignoring %s", c.name, msg)
		return
	}

	// arg0 is the device's id, arg1 is ours.
	c.mu.Lock()
	s := c.streams[msg.Arg1]
	c.mu.Unlock()
	if s == nil {
		if msg.Command == CmdWRTE {
			// Unknown stream; tell the device to stop.
			_ = c.send(Message{Command: CmdCLSE, Arg0: 0, Arg1: msg.Arg0})
		}
		return
	}

	switch msg.Command {
	case CmdOKAY:
		s.onOkay(msg.Arg0)
	case CmdWRTE:
		s.onWrite(msg.Data)
	case CmdCLSE:
		c.removeStream(s.localID)
		s.onRemoteClose()
	}
}

func (c *Conn) removeStream(id uint32) {
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
}

// Open starts a service such as "shell,v2,raw:uname -a" and returns its
// stream once the device accepts it.
func (c *Conn) Open(ctx context.Context, service string) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.err
	default:
	}
	c.nextID++
	s := newStream(c, c.nextID)
	c.streams[s.localID] = s
	c.mu.Unlock()

	if err := c.send(Message{Command: CmdOPEN, Arg0: s.localID, Data: append([]byte(service), 0)}); err != nil {
		c.removeStream(s.localID)
		return nil, err
	}

	select {
	case <-s.opened:
		return s, nil
	case <-s.remoteDone:
		return nil, fmt.Errorf("device refused service %q", serviceName(service))
	case <-c.done:
		return nil, c.err
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// serviceName trims the command off a service string for error messages.
func serviceName(service string) string {
	if i := strings.IndexByte(service, ':'); i >= 0 {
		return service[:i]
	}
	return service
}

// Stream is one logical ADB stream. Read is not safe for concurrent use;
// Write and Close are.
type Stream struct {
	conn     *Conn
	localID  uint32
	remoteID atomic.Uint32

	opened     chan struct{}
	remoteDone chan struct{}
	closed     chan struct{}
	openOnce   sync.Once
	remoteOnce sync.Once
	closeOnce  sync.Once

	// At most one unacknowledged WRTE per stream is in flight, so the read
	// loop never blocks on a slow consumer.
	data    chan []byte
	pending []byte

	writeMu    sync.Mutex
	writeReady chan struct{}
}

func newStream(c *Conn, id uint32) *Stream {
	return &Stream{
		conn:       c,
		localID:    id,
		opened:     make(chan struct{}),
		remoteDone: make(chan struct{}),
		closed:     make(chan struct{}),
		data:       make(chan []byte, 4),
		writeReady: make(chan struct{}, 1),
	}
}

func (s *Stream) onOkay(remoteID uint32) {
	first := false
	s.openOnce.Do(func() {
		s.remoteID.Store(remoteID)
		first = true
		close(s.opened)
	})
	if !first {
		select {
		case s.writeReady <- struct{}{}:
		default:
		}
	}
}

func (s *Stream) onWrite(data []byte) {
	select {
	case s.data <- data:
	case <-s.closed:
	}
}

func (s *Stream) onRemoteClose() {
	s.remoteOnce.Do(func() { close(s.remoteDone) })
}

// Read returns payload bytes in arrival order. Each chunk is acknowledged
// when the consumer takes it, which is the stream's backpressure.
func (s *Stream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		select {
		case chunk := <-s.data:
			s.take(chunk)
			continue
		default:
		}

		select {
		case chunk := <-s.data:
			s.take(chunk)
		case <-s.remoteDone:
			select {
			case chunk := <-s.data:
				s.take(chunk)
			default:
				return 0, io.EOF
			}
		case <-s.closed:
			return 0, io.ErrClosedPipe
		case <-s.conn.done:
			return 0, s.conn.err
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Stream) take(chunk []byte) {
	s.pending = chunk
	_ = s.conn.send(Message{Command: CmdOKAY, Arg0: s.localID, Arg1: s.remoteID.Load()})
}

// Write sends p in chunks no larger than the negotiated payload size,
// waiting for the device's OKAY after each.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := written + s.conn.maxPayload
		if end > len(p) {
			end = len(p)
		}
		chunk := append([]byte(nil), p[written:end]...)
		if err := s.conn.send(Message{Command: CmdWRTE, Arg0: s.localID, Arg1: s.remoteID.Load(), Data: chunk}); err != nil {
			return written, err
		}

		select {
		case <-s.writeReady:
		case <-s.remoteDone:
			return written, io.ErrClosedPipe
		case <-s.closed:
			return written, io.ErrClosedPipe
		case <-s.conn.done:
			return written, s.conn.err
		}
		written = end
	}
	return written, nil
}

// Close releases the stream. The device sees CLSE and tears down the
// service (for a shell, the remote process gets SIGHUP).
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.removeStream(s.localID)
		select {
		case <-s.remoteDone:
		default:
			_ = s.conn.send(Message{Command: CmdCLSE, Arg0: s.localID, Arg1: s.remoteID.Load()})
		}
	})
	return nil
}
