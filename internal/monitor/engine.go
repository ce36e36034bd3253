package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sbctool/sbctool/internal/config"
	"github.com/sbctool/sbctool/internal/connection"
	"github.com/sbctool/sbctool/internal/facts"
	"github.com/sbctool/sbctool/internal/logger"
	"github.com/sbctool/sbctool/internal/session"
)

// DefaultStreamStable is the StreamStable used when none is set.
const DefaultStreamStable = 30 * time.Second

var (
	// ErrPollFailed wraps any reason a poll produced no snapshot.
	ErrPollFailed = stderrors.New("poll failed")

	// ErrNotConnected means there was no live session to poll.
	ErrNotConnected = stderrors.New("not connected")

	// ErrShutdownTimeout means teardown outlived the grace period.
	ErrShutdownTimeout = stderrors.New("shutdown grace period exceeded")
)

// Snapshot is a published set of facts. A stale snapshot keeps the facts
// of the last successful poll unchanged and says why the newer one failed.
type Snapshot struct {
	facts.Facts `yaml:",inline"`

	Seq         uint64    `yaml:"-"`
	CollectedAt time.Time `yaml:"collected_at"`
	Stale       bool      `yaml:"-"`
	Err         error     `yaml:"-"`
}

// HasFacts reports whether any poll has ever succeeded.
func (s *Snapshot) HasFacts() bool {
	return s != nil && !s.CollectedAt.IsZero()
}

// Age is the time since the facts were collected.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if !s.HasFacts() {
		return 0
	}
	return now.Sub(s.CollectedAt)
}

// Source hands out the live session. *connection.Manager is one.
type Source interface {
	Session() (session.Session, bool)
	Wait(ctx context.Context) (session.Session, error)
	ReportError(sess session.Session, err error)
	Close() error
}

// Options tune an Engine. Zero values take the config defaults.
type Options struct {
	Interval       time.Duration
	CommandTimeout time.Duration
	ShutdownGrace  time.Duration
	LogBuffer      int
	Policy         connection.Policy
	Extractor      facts.Extractor
	StreamCommand  string
	// StreamStable is how long a log stream must stay open before its
	// reopen backoff starts over.
	StreamStable time.Duration
	Logger       logger.Logger
	Sleep        func(ctx context.Context, d time.Duration) error
	Now          func() time.Time
}

// OptionsFromConfig maps the loaded config onto engine options.
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	return Options{
		Interval:       cfg.PollInterval,
		CommandTimeout: cfg.CommandTimeout,
		ShutdownGrace:  cfg.ShutdownGrace,
		LogBuffer:      cfg.LogBuffer,
		Policy:         connection.PolicyFromConfig(cfg.Reconnect),
		Logger:         log,
	}
}

func (o *Options) applyDefaults() {
	def := config.DefaultConfig()
	if o.Interval <= 0 {
		o.Interval = def.PollInterval
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = def.CommandTimeout
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = def.ShutdownGrace
	}
	if o.LogBuffer <= 0 {
		o.LogBuffer = def.LogBuffer
	}
	if o.Policy == (connection.Policy{}) {
		o.Policy = connection.PolicyFromConfig(def.Reconnect)
	}
	if o.Extractor == nil {
		o.Extractor = facts.Batch{}
	}
	if o.StreamCommand == "" {
		o.StreamCommand = StreamCommand
	}
	if o.StreamStable <= 0 {
		o.StreamStable = DefaultStreamStable
	}
	if o.Logger == nil {
		o.Logger = logger.Noop()
	}
	if o.Sleep == nil {
		o.Sleep = connection.Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine runs the poll loop and the stream loop for one connection.
// The two loops never wait on each other.
type Engine struct {
	src  Source
	opts Options
	log  logger.Logger

	snap    atomic.Pointer[Snapshot]
	seq     atomic.Uint64
	logs    *Ring[LogEntry]
	refresh chan struct{}
	updates chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewEngine creates a stopped engine.
func NewEngine(src Source, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		src:     src,
		opts:    opts,
		log:     opts.Logger,
		logs:    NewRing[LogEntry](opts.LogBuffer),
		refresh: make(chan struct{}, 1),
		updates: make(chan struct{}, 1),
		cancel:  func() {},
	}
}

// Start launches both loops. They run until Shutdown or ctx ends.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		e.wg.Add(2)
		go func() {
			defer e.wg.Done()
			e.pollLoop(ctx)
		}()
		go func() {
			defer e.wg.Done()
			e.streamLoop(ctx)
		}()
	})
}

// Snapshot returns the latest published snapshot, or nil before the first poll.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Logs returns the log ring.
func (e *Engine) Logs() *Ring[LogEntry] {
	return e.logs
}

// Updates signals after a new snapshot or log line. Signals coalesce.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Refresh makes the poll loop run now instead of at the next tick.
func (e *Engine) Refresh() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

// Shutdown stops both loops and closes the source. It gives up after the
// grace period and returns ErrShutdownTimeout.
func (e *Engine) Shutdown() error {
	var err error
	e.stopOnce.Do(func() {
		e.cancel()

		done := make(chan error, 1)
		go func() {
			closeErr := e.src.Close()
			e.wg.Wait()
			done <- closeErr
		}()

		timer := time.NewTimer(e.opts.ShutdownGrace)
		defer timer.Stop()
		select {
		case err = <-done:
		case <-timer.C:
			e.log.Warn("shutdown still running after %s", e.opts.ShutdownGrace)
			err = ErrShutdownTimeout
		}
	})
	return err
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		e.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.refresh:
			ticker.Reset(e.opts.Interval)
		}
	}
}

// Poll runs one collection and publishes its outcome. Callers must not
// run Poll concurrently with itself.
func (e *Engine) Poll(ctx context.Context) (*Snapshot, error) {
	seq := e.seq.Add(1)

	sess, ok := e.src.Session()
	if !ok {
		return e.markStale(seq, ErrNotConnected), ErrNotConnected
	}

	f, err := Collect(ctx, sess, e.opts.Extractor, e.opts.CommandTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return e.Snapshot(), ctx.Err()
		}
		e.src.ReportError(sess, err)
		e.log.Debug("poll %d on %s: %v", seq, sess, err)
		return e.markStale(seq, err), err
	}

	next := &Snapshot{Facts: f, Seq: seq, CollectedAt: e.opts.Now()}
	e.publish(seq, func(*Snapshot) *Snapshot { return next })
	return next, nil
}

// Collect runs the extractor's command once and parses the output.
// Errors wrap ErrPollFailed and keep the session error in the chain.
func Collect(ctx context.Context, sess session.Session, ex facts.Extractor, timeout time.Duration) (facts.Facts, error) {
	res, err := sess.Execute(ctx, ex.Command(), timeout)
	if err != nil {
		return facts.Facts{}, fmt.Errorf("%w: %w", ErrPollFailed, err)
	}
	f, err := ex.Parse(string(res.Stdout))
	if err != nil {
		return facts.Facts{}, fmt.Errorf("%w: %w", ErrPollFailed, err)
	}
	return f, nil
}

func (e *Engine) markStale(seq uint64, cause error) *Snapshot {
	return e.publish(seq, func(cur *Snapshot) *Snapshot {
		next := &Snapshot{Seq: seq, Stale: true, Err: cause}
		if cur != nil {
			next.Facts = cur.Facts
			next.CollectedAt = cur.CollectedAt
		}
		return next
	})
}

// publish swaps in build(current) unless a snapshot with a newer sequence
// number is already published. It returns whatever ends up published.
func (e *Engine) publish(seq uint64, build func(cur *Snapshot) *Snapshot) *Snapshot {
	for {
		cur := e.snap.Load()
		if cur != nil && cur.Seq >= seq {
			return cur
		}
		next := build(cur)
		if e.snap.CompareAndSwap(cur, next) {
			e.notify()
			return next
		}
	}
}

func (e *Engine) streamLoop(ctx context.Context) {
	failures := 0
	for {
		sess, err := e.src.Wait(ctx)
		if err != nil {
			return
		}

		opened := e.opts.Now()
		lines, err := e.follow(ctx, sess)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !stderrors.Is(err, session.ErrStreamClosed) {
			e.src.ReportError(sess, err)
		}

		// A command that prints an error and exits keeps backing off.
		if lines > 0 && e.opts.Now().Sub(opened) >= e.opts.StreamStable {
			failures = 0
		}
		failures++
		delay := e.opts.Policy.Delay(failures)
		e.log.Info("log stream on %s ended (%v), reopening in %s", sess, err, delay)
		e.pushLocal(fmt.Sprintf("log stream ended, reopening in %s", delay))
		if err := e.opts.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// follow copies one stream into the ring until it ends.
func (e *Engine) follow(ctx context.Context, sess session.Session) (int, error) {
	stream, err := sess.OpenStream(ctx, e.opts.StreamCommand)
	if err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()
	defer stream.Close()

	n := 0
	for {
		line, ok := stream.Next()
		if !ok {
			return n, stream.Err()
		}
		n++
		e.logs.Push(LogEntry{Time: line.Time, Text: line.Text, Level: ClassifyLevel(line.Text)})
		e.notify()
	}
}

func (e *Engine) pushLocal(text string) {
	e.logs.Push(LogEntry{Time: e.opts.Now(), Text: text, Level: LevelWarn, Local: true})
	e.notify()
}
