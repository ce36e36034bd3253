package transport

import (
	"context"
	"crypto/rsa"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sbctool/sbctool/internal/adb"
	"github.com/sbctool/sbctool/internal/config"
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/logger"
	"github.com/sbctool/sbctool/internal/session"
	"github.com/sbctool/sbctool/pkg/sshutil"
)

// Strategy is one way to reach one device.
type Strategy struct {
	Kind Kind
	// Device identifies the device across strategies (serial or host).
	Device string
	// Address is what gets dialed: host:port, a USB serial, or a server serial.
	Address string

	dial func(ctx context.Context) (session.Session, error)
}

func (s Strategy) String() string {
	return s.Kind.String() + " " + s.Address
}

// NewStrategy builds a strategy around a custom dial function.
func NewStrategy(kind Kind, device, address string, dial func(ctx context.Context) (session.Session, error)) Strategy {
	return Strategy{Kind: kind, Device: device, Address: address, dial: dial}
}

// Dial connects and returns a live session.
func (s Strategy) Dial(ctx context.Context) (session.Session, error) {
	return s.dial(ctx)
}

// ADBServer is the part of the adb server client the selector uses.
type ADBServer interface {
	Devices(ctx context.Context) ([]adb.DeviceInfo, error)
	Features(ctx context.Context, serial string) (map[string]bool, error)
	adb.Relay
}

// Selector turns targets into ordered strategies and connects them.
type Selector struct {
	Resolver *sshutil.Resolver
	SSHDial  func(ctx context.Context, settings sshutil.Settings) (sshutil.Runner, error)

	// USB is nil when direct USB is disabled.
	USB     adb.USBEnumerator
	Server  ADBServer
	DialTCP func(ctx context.Context, addr string) (io.ReadWriteCloser, error)

	// LoadKey returns the adb RSA key; called at most once.
	LoadKey     func() (*rsa.PrivateKey, error)
	DefaultPort int

	ConnectTimeout time.Duration
	Log            logger.Logger

	eventHandler EventHandler

	keyOnce sync.Once
	key     *rsa.PrivateKey
}

// NewSelector wires the production backends from cfg.
func NewSelector(cfg *config.Config, log logger.Logger) *Selector {
	if log == nil {
		log = logger.Noop()
	}
	strict := cfg.SSH.StrictHostKeyChecking
	s := &Selector{
		Resolver: sshutil.NewResolver(cfg.SSH.ConfigFile),
		SSHDial: func(ctx context.Context, settings sshutil.Settings) (sshutil.Runner, error) {
			return sshutil.DialContext(ctx, settings, sshutil.DialOptions{StrictHostKeyChecking: strict})
		},
		Server: adb.NewServerClient(cfg.ADB.ServerAddress),
		DialTCP: func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
			return adb.DialTCP(ctx, addr)
		},
		LoadKey: func() (*rsa.PrivateKey, error) {
			return adb.LoadOrCreateKey(cfg.ADB.KeyPath, adb.KeyComment())
		},
		DefaultPort:    cfg.ADB.DefaultPort,
		ConnectTimeout: cfg.ConnectTimeout,
		Log:            log,
	}
	if cfg.ADB.USB {
		s.USB = adb.LibUSB{}
	}
	return s
}

// SetEventHandler sets a callback for connection events.
func (s *Selector) SetEventHandler(handler EventHandler) {
	s.eventHandler = handler
}

func (s *Selector) emit(event ConnectionEvent) {
	if s.eventHandler != nil {
		s.eventHandler(event)
	}
}

func (s *Selector) log() logger.Logger {
	if s.Log == nil {
		return logger.Noop()
	}
	return s.Log
}

// Select returns the strategies for target in the order they should be
// tried. An empty list is a NO_DEVICE error.
func (s *Selector) Select(ctx context.Context, target Target) ([]Strategy, error) {
	if target.Backend == BackendSSH {
		return []Strategy{s.sshStrategy(target.Host)}, nil
	}

	if target.Serial != "" {
		if ClassifySerial(target.Serial) == KindADBTCP {
			return []Strategy{s.tcpStrategy(target.Serial)}, nil
		}
		return []Strategy{s.serverStrategy(target.Serial)}, nil
	}

	var strategies []Strategy

	// Direct USB first: it works without a running adb server.
	if s.USB != nil {
		candidates, err := s.USB.Enumerate(ctx)
		if err != nil {
			s.log().Debug("usb enumeration failed: %v", err)
		}
		for _, c := range candidates {
			strategies = append(strategies, s.usbStrategy(c.Serial))
		}
	}

	if s.Server != nil {
		devices, err := s.Server.Devices(ctx)
		if err != nil {
			s.log().Debug("adb server unavailable: %v", err)
		}
		for _, d := range devices {
			strategies = append(strategies, s.serverStrategy(d.Serial))
		}
	}

	if len(strategies) == 0 {
		return nil, errors.New(errors.ErrNoDevice,
			"No adb device found",
			"Plug the device in with USB debugging enabled, start `adb start-server`, or pass -s <serial|ip[:port]>.")
	}
	return strategies, nil
}

func (s *Selector) sshStrategy(host string) Strategy {
	settings := s.Resolver.Resolve(host)
	return Strategy{
		Kind:    KindSSH,
		Device:  host,
		Address: settings.String(),
		dial: func(ctx context.Context) (session.Session, error) {
			runner, err := s.SSHDial(ctx, settings)
			if err != nil {
				return nil, err
			}
			return session.NewSSH(runner, settings.String()), nil
		},
	}
}

func (s *Selector) tcpStrategy(serial string) Strategy {
	addr := adb.TCPAddress(serial, s.DefaultPort)
	return Strategy{
		Kind:    KindADBTCP,
		Device:  serial,
		Address: addr,
		dial: func(ctx context.Context) (session.Session, error) {
			sock, err := s.DialTCP(ctx, addr)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrConnect,
					fmt.Sprintf("Couldn't reach adbd at %s", addr),
					"Check the address and that the device ran `adb tcpip 5555`.")
			}
			conn, err := adb.Handshake(ctx, sock, s.handshakeOptions(addr))
			if err != nil {
				return nil, err
			}
			return session.NewADBTCP(conn, addr), nil
		},
	}
}

func (s *Selector) usbStrategy(serial string) Strategy {
	return Strategy{
		Kind:    KindADBUSB,
		Device:  serial,
		Address: serial,
		dial: func(ctx context.Context) (session.Session, error) {
			rw, err := s.USB.Open(ctx, serial)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrADB,
					fmt.Sprintf("Couldn't open USB device %s", serial),
					"A running adb server holds the device; sbctool will go through it instead.")
			}
			conn, err := adb.Handshake(ctx, rw, s.handshakeOptions(serial))
			if err != nil {
				return nil, err
			}
			return session.NewADBUSB(conn, serial), nil
		},
	}
}

func (s *Selector) serverStrategy(serial string) Strategy {
	return Strategy{
		Kind:    KindADBServer,
		Device:  serial,
		Address: serial,
		dial: func(ctx context.Context) (session.Session, error) {
			features, err := s.Server.Features(ctx, serial)
			if err != nil {
				return nil, classifyServerError(serial, err)
			}
			return session.NewADBServer(s.Server, serial, features[adb.FeatureShellV2]), nil
		},
	}
}

func classifyServerError(serial string, err error) error {
	var se *adb.ServerError
	if !stderrors.As(err, &se) {
		return errors.WrapWithCode(err, errors.ErrConnect,
			"Couldn't reach the adb server",
			"Start it with `adb start-server`, or connect over USB or TCP directly.")
	}
	switch {
	case adb.IsNoDevice(err):
		return errors.WrapWithCode(err, errors.ErrNoDevice,
			fmt.Sprintf("adb server doesn't know device %s", serial),
			"Run `adb devices` to see attached serials.")
	case strings.Contains(se.Message, "unauthorized"):
		return errors.WrapWithCode(err, errors.ErrAuth,
			fmt.Sprintf("%s hasn't authorized this computer", serial),
			"Accept the \"Allow USB debugging?\" prompt on the device.")
	default:
		return errors.WrapWithCode(err, errors.ErrADB,
			fmt.Sprintf("adb server refused %s", serial), "")
	}
}

func (s *Selector) handshakeOptions(name string) adb.HandshakeOptions {
	s.keyOnce.Do(func() {
		if s.LoadKey == nil {
			return
		}
		key, err := s.LoadKey()
		if err != nil {
			s.log().Warn("adb key unavailable, devices requiring auth will fail: %v", err)
			return
		}
		s.key = key
	})
	return adb.HandshakeOptions{
		Key:        s.key,
		KeyComment: adb.KeyComment(),
		Name:       name,
		Logger:     s.log(),
	}
}

// Attempt is the outcome of dialing one strategy.
type Attempt struct {
	Strategy Strategy
	Err      error
	Latency  time.Duration
}

// Connect tries strategies in order and returns the first live session.
// Each attempt is bounded by ConnectTimeout.
func (s *Selector) Connect(ctx context.Context, strategies []Strategy) (session.Session, Strategy, error) {
	var attempts []Attempt
	for i, st := range strategies {
		s.emit(ConnectionEvent{Type: EventTrying, Strategy: st, Message: "trying " + st.String()})

		sess, latency, err := s.dialOne(ctx, st)
		if err == nil {
			msg := "connected via " + st.String()
			if i > 0 {
				msg += " (fallback)"
			}
			s.emit(ConnectionEvent{Type: EventConnected, Strategy: st, Message: msg, Latency: latency})
			return sess, st, nil
		}

		s.emit(ConnectionEvent{Type: EventFailed, Strategy: st, Message: errors.Summary(err), Error: err, Latency: latency})
		attempts = append(attempts, Attempt{Strategy: st, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, Strategy{}, summarizeAttempts(attempts)
}

func (s *Selector) dialOne(ctx context.Context, st Strategy) (session.Session, time.Duration, error) {
	start := time.Now()
	dialCtx := ctx
	if s.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.ConnectTimeout)
		defer cancel()
	}
	sess, err := st.Dial(dialCtx)
	return sess, time.Since(start), err
}

// ConnectEach dials every device once, trying its strategies in order,
// and reports per device instead of failing on the first bad one.
func (s *Selector) ConnectEach(ctx context.Context, strategies []Strategy, fn func(device string, sess session.Session, err error)) {
	for _, group := range GroupByDevice(strategies) {
		sess, _, err := s.Connect(ctx, group)
		fn(group[0].Device, sess, err)
		if ctx.Err() != nil {
			return
		}
	}
}

// GroupByDevice splits strategies per device, keeping first-seen order.
func GroupByDevice(strategies []Strategy) [][]Strategy {
	index := make(map[string]int)
	var groups [][]Strategy
	for _, st := range strategies {
		i, ok := index[st.Device]
		if !ok {
			i = len(groups)
			index[st.Device] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], st)
	}
	return groups
}

// summarizeAttempts keeps the code of a single failure. Mixed failures
// across strategies collapse to CONNECT.
func summarizeAttempts(attempts []Attempt) error {
	if len(attempts) == 0 {
		return errors.New(errors.ErrNoDevice, "Nothing to connect to", "")
	}
	last := attempts[len(attempts)-1].Err
	if len(attempts) == 1 {
		return last
	}

	code := errors.CodeOf(attempts[0].Err)
	tried := make([]string, 0, len(attempts))
	for _, a := range attempts {
		tried = append(tried, a.Strategy.String())
		if errors.CodeOf(a.Err) != code {
			code = errors.ErrConnect
		}
	}
	if code == "" {
		code = errors.ErrConnect
	}
	return errors.WrapWithCode(last, code,
		fmt.Sprintf("Couldn't connect - tried: %s", strings.Join(tried, ", ")),
		"Run with --log-level debug to see why each attempt failed.")
}
