package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sbctool/sbctool/internal/bus"
	"github.com/sbctool/sbctool/internal/connection"
)

// Reconnector runs an explicit user reconnect. *connection.Manager is one.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	engine  *Engine
	control Reconnector
	target  string
	states  bus.Subscription

	status       connection.Status
	reconnecting bool
	reconnectErr error

	keys     KeyMap
	help     help.Model
	spinner  spinner.Model
	logs     viewport.Model
	follow   bool
	logsSeen uint64

	width    int
	height   int
	ready    bool
	quitting bool
	now      func() time.Time
}

// statusMsg carries a connection state change from the bus.
type statusMsg connection.Status

// engineMsg means the engine published a snapshot or log line.
type engineMsg struct{}

// clockMsg re-renders the "last updated" age.
type clockMsg time.Time

// reconnectDoneMsg reports the end of an explicit reconnect.
type reconnectDoneMsg struct{ err error }

// NewModel creates the dashboard. initial is the connection state at the
// time of subscribing; later states arrive on states.
func NewModel(engine *Engine, control Reconnector, target string, initial connection.Status, states bus.Subscription) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = WarningTextStyle

	return Model{
		engine:  engine,
		control: control,
		target:  target,
		states:  states,
		status:  initial,
		keys:    DefaultKeyMap,
		help:    help.New(),
		spinner: sp,
		logs:    viewport.New(0, 0),
		follow:  true,
		now:     time.Now,
	}
}

// Init starts listening for state changes, engine updates and the clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForStatus(m.states),
		waitForEngine(m.engine.Updates()),
		clockTick(),
		m.spinner.Tick,
	)
}

func waitForStatus(ch bus.Subscription) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		for msg := range ch {
			if st, ok := msg.(connection.Status); ok {
				return statusMsg(st)
			}
		}
		return nil
	}
}

func waitForEngine(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return engineMsg{}
	}
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func (m Model) reconnectCmd() tea.Cmd {
	control := m.control
	return func() tea.Msg {
		return reconnectDoneMsg{err: control.Reconnect(context.Background())}
	}
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		m.resizeLogs()
		m.refreshLogs(true)
		return m, nil

	case statusMsg:
		// The bus may deliver an older state after a newer one was read.
		if msg.Seq >= m.status.Seq {
			m.status = connection.Status(msg)
		}
		return m, waitForStatus(m.states)

	case engineMsg:
		m.refreshLogs(false)
		return m, waitForEngine(m.engine.Updates())

	case clockMsg:
		return m, clockTick()

	case reconnectDoneMsg:
		m.reconnecting = false
		m.reconnectErr = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Refresh):
		m.engine.Refresh()
		return m, nil

	case key.Matches(msg, m.keys.Reconnect):
		if m.reconnecting || m.control == nil {
			return m, nil
		}
		m.reconnecting = true
		m.reconnectErr = nil
		return m, m.reconnectCmd()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resizeLogs()
		return m, nil

	case key.Matches(msg, m.keys.Follow):
		m.follow = !m.follow
		if m.follow {
			m.logs.GotoBottom()
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.logs.LineUp(1)
	case key.Matches(msg, m.keys.Down):
		m.logs.LineDown(1)
	case key.Matches(msg, m.keys.PageUp):
		m.logs.ViewUp()
	case key.Matches(msg, m.keys.PageDown):
		m.logs.ViewDown()
	case key.Matches(msg, m.keys.Top):
		m.logs.GotoTop()
	case key.Matches(msg, m.keys.Bottom):
		m.logs.GotoBottom()
	default:
		return m, nil
	}

	// Scrolling away from the tail pauses follow; reaching it resumes.
	m.follow = m.logs.AtBottom()
	return m, nil
}

// resizeLogs fits the log viewport into the right panel.
func (m *Model) resizeLogs() {
	if !m.ready {
		return
	}
	w := m.width - factsPanelWidth - 4
	if m.width < 80 {
		w = m.width - 4
	}
	h := m.height - lipglossHeight(m.renderHeader()) - lipglossHeight(m.renderFooter()) - 3
	m.logs.Width = max(w, 10)
	m.logs.Height = max(h, 3)
}

// refreshLogs rebuilds the viewport when the ring has changed.
func (m *Model) refreshLogs(force bool) {
	ring := m.engine.Logs()
	version := ring.Version()
	if !force && version == m.logsSeen {
		return
	}
	m.logsSeen = version
	m.logs.SetContent(renderLogLines(ring.Items(), m.logs.Width))
	if m.follow {
		m.logs.GotoBottom()
	}
}

// Status returns the connection state the dashboard is showing.
func (m Model) Status() connection.Status {
	return m.status
}

// Following reports whether the log panel tracks the newest line.
func (m Model) Following() bool {
	return m.follow
}
