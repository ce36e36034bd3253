// Package connection owns the live session for one target and the
// connect, degrade, reconnect and fail transitions around it.
package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sbctool/sbctool/internal/bus"
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/logger"
	"github.com/sbctool/sbctool/internal/session"
	"github.com/sbctool/sbctool/internal/transport"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = stderrors.New("connection manager closed")

// State is the connection lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Degraded:
		return "Degraded"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is one published state. Seq orders statuses, since they may be
// delivered out of order.
type Status struct {
	Seq   uint64
	State State
	// Retry is the reconnect attempt in progress while Degraded.
	Retry int
	// Err is what caused Degraded or Failed.
	Err error
	// Via describes the strategy in use.
	Via     string
	Changed time.Time
}

func (s Status) String() string {
	switch s.State {
	case Degraded:
		return fmt.Sprintf("Degraded(%d)", s.Retry)
	case Failed:
		if s.Err != nil {
			return "Failed: " + errors.Summary(s.Err)
		}
		return "Failed"
	default:
		return s.State.String()
	}
}

// Connector selects and dials strategies. *transport.Selector implements it.
type Connector interface {
	Select(ctx context.Context, target transport.Target) ([]transport.Strategy, error)
	Connect(ctx context.Context, strategies []transport.Strategy) (session.Session, transport.Strategy, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus publishes every Status on bus.TopicConnectionState.
func WithBus(b bus.MessageBus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithLogger sets the manager's logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// Manager holds at most one live session for its target.
type Manager struct {
	target    transport.Target
	connector Connector
	policy    Policy
	bus       bus.MessageBus
	log       logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	status      Status
	sess        session.Session
	strategy    *transport.Strategy
	changed     chan struct{}
	cancelRetry context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a disconnected manager.
func New(target transport.Target, connector Connector, policy Policy, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		target:    target,
		connector: connector,
		policy:    policy,
		log:       logger.Noop(),
		sleep:     Sleep,
		changed:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.status = Status{State: Disconnected, Changed: time.Now()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Target returns what the manager connects to.
func (m *Manager) Target() transport.Target {
	return m.target
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Session returns the live session, if Connected.
func (m *Manager) Session() (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != Connected {
		return nil, false
	}
	return m.sess, true
}

// Wait blocks until a session is live.
func (m *Manager) Wait(ctx context.Context) (session.Session, error) {
	for {
		m.mu.Lock()
		if m.status.State == Connected {
			s := m.sess
			m.mu.Unlock()
			return s, nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ctx.Done():
			return nil, ErrClosed
		}
	}
}

// setLocked records a transition and wakes waiters. The caller publishes
// the returned status after unlocking.
func (m *Manager) setLocked(st Status) Status {
	st.Seq = m.status.Seq + 1
	st.Changed = time.Now()
	if st.Via == "" && m.strategy != nil && st.State != Disconnected && st.State != Connecting {
		st.Via = m.strategy.String()
	}
	m.status = st
	close(m.changed)
	m.changed = make(chan struct{})
	return st
}

func (m *Manager) publish(st Status) {
	m.log.Info("connection %s: %s", m.target, st)
	if m.bus != nil {
		m.bus.Publish(bus.TopicConnectionState, st)
	}
}

// Connect selects strategies for the target and dials them in order.
// On failure the manager is Failed and the error keeps its exit code.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.status.State {
	case Connected:
		m.mu.Unlock()
		return nil
	case Connecting:
		m.mu.Unlock()
		return fmt.Errorf("connect to %s already in progress", m.target)
	}
	st := m.setLocked(Status{State: Connecting})
	m.mu.Unlock()
	m.publish(st)

	strategies, err := m.connector.Select(ctx, m.target)
	var sess session.Session
	var chosen transport.Strategy
	if err == nil {
		sess, chosen, err = m.connector.Connect(ctx, strategies)
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		return ErrClosed
	}
	if err != nil {
		st = m.setLocked(Status{State: Failed, Err: err})
		m.mu.Unlock()
		m.publish(st)
		return err
	}
	m.sess = sess
	m.strategy = &chosen
	st = m.setLocked(Status{State: Connected})
	m.mu.Unlock()
	m.publish(st)
	return nil
}

// IsTransient reports whether err means the link itself is in trouble.
// A command that ran and exited non-zero is not.
func IsTransient(err error) bool {
	return stderrors.Is(err, session.ErrDisconnected) || stderrors.Is(err, session.ErrCommandTimeout)
}

// ReportError tells the manager that sess failed. Transient errors on the
// current session move Connected to Degraded and start reconnecting with
// the same strategy. Anything else is ignored.
func (m *Manager) ReportError(sess session.Session, err error) {
	if !IsTransient(err) {
		return
	}

	m.mu.Lock()
	if m.ctx.Err() != nil || m.status.State != Connected || sess != m.sess {
		m.mu.Unlock()
		return
	}
	old := m.sess
	m.sess = nil
	strategy := *m.strategy

	retryCtx, cancel := context.WithCancel(m.ctx)
	m.cancelRetry = cancel
	st := m.setLocked(Status{State: Degraded, Retry: 1, Err: err})
	m.wg.Add(1)
	m.mu.Unlock()

	m.publish(st)
	old.Close()
	go m.reconnectLoop(retryCtx, strategy, err)
}

func (m *Manager) reconnectLoop(ctx context.Context, strategy transport.Strategy, cause error) {
	defer m.wg.Done()

	lastErr := cause
	for attempt := 1; attempt <= m.policy.MaxRetries; attempt++ {
		if attempt > 1 {
			if !m.transitionIfCurrent(ctx, Status{State: Degraded, Retry: attempt, Err: lastErr}) {
				return
			}
		}
		if err := m.sleep(ctx, m.policy.Delay(attempt)); err != nil {
			return
		}

		m.log.Debug("reconnect %s: attempt %d/%d via %s", m.target, attempt, m.policy.MaxRetries, strategy)
		sess, _, err := m.connector.Connect(ctx, []transport.Strategy{strategy})
		if err == nil {
			m.mu.Lock()
			if ctx.Err() != nil {
				m.mu.Unlock()
				sess.Close()
				return
			}
			m.sess = sess
			m.cancelRetry = nil
			st := m.setLocked(Status{State: Connected})
			m.mu.Unlock()
			m.publish(st)
			return
		}
		lastErr = err
	}

	m.transitionIfCurrent(ctx, Status{
		State: Failed,
		Err: errors.WrapWithCode(lastErr, errors.ErrConnect,
			fmt.Sprintf("Gave up reconnecting after %d attempts", m.policy.MaxRetries),
			"Press R to reconnect."),
	})
}

// transitionIfCurrent applies st unless ctx (this reconnect run) has been
// superseded.
func (m *Manager) transitionIfCurrent(ctx context.Context, st Status) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	if st.State == Failed {
		m.cancelRetry = nil
	}
	st = m.setLocked(st)
	m.mu.Unlock()
	m.publish(st)
	return true
}

// Reconnect is the explicit user request: drop whatever is live, stop
// automatic retries, and run strategy selection again.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.status.State == Connecting {
		m.mu.Unlock()
		return fmt.Errorf("connect to %s already in progress", m.target)
	}
	if m.cancelRetry != nil {
		m.cancelRetry()
		m.cancelRetry = nil
	}
	old := m.sess
	m.sess = nil
	st := m.setLocked(Status{State: Disconnected})
	m.mu.Unlock()
	m.publish(st)

	if old != nil {
		old.Close()
	}
	return m.Connect(ctx)
}

// Close stops retries and closes the live session. It waits for the
// reconnect goroutine to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	old := m.sess
	m.sess = nil
	st := m.setLocked(Status{State: Disconnected})
	m.mu.Unlock()
	m.publish(st)

	var err error
	if old != nil {
		err = old.Close()
	}
	m.wg.Wait()
	return err
}
