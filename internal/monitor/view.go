package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sbctool/sbctool/internal/connection"
	"github.com/sbctool/sbctool/internal/errors"
)

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return m.spinner.View() + " starting"
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	bodyHeight := m.height - lipglossHeight(header) - lipglossHeight(footer)

	var body string
	if m.width < 80 {
		body = m.renderLogPanel(m.width, bodyHeight)
	} else {
		left := m.renderFactsPanel(factsPanelWidth, bodyHeight)
		right := m.renderLogPanel(m.width-factsPanelWidth, bodyHeight)
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func lipglossHeight(s string) int {
	return lipgloss.Height(s)
}

// renderHeader shows the target, the state badge and snapshot freshness.
func (m Model) renderHeader() string {
	title := TitleStyle.Render("sbctool")
	target := ValueStyle.Render(" " + m.target + " ")

	badge := BadgeStyle(m.status.State).Render(m.badgeText())
	if m.status.State == connection.Connecting || m.status.State == connection.Degraded || m.reconnecting {
		badge = m.spinner.View() + " " + badge
	}

	line := title + target + badge + MutedStyle.Render(" | ") + m.freshness()
	if m.status.Via != "" && m.status.State == connection.Connected {
		line += MutedStyle.Render(" | via " + m.status.Via)
	}
	return HeaderStyle.Width(max(m.width, 1)).Render(line)
}

func (m Model) badgeText() string {
	switch m.status.State {
	case connection.Degraded:
		return fmt.Sprintf("Degraded(%d)", m.status.Retry)
	default:
		return m.status.State.String()
	}
}

// freshness is "last updated Ns ago", highlighted when stale.
func (m Model) freshness() string {
	snap := m.engine.Snapshot()
	if !snap.HasFacts() {
		if snap != nil && snap.Stale {
			return WarningTextStyle.Render("no data yet")
		}
		return MutedStyle.Render("collecting")
	}

	text := "last updated " + formatAge(snap.Age(m.now()))
	if snap.Stale {
		return WarningTextStyle.Render("stale, " + text)
	}
	return MutedStyle.Render(text)
}

func formatAge(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	switch {
	case secs <= 0:
		return "just now"
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	default:
		return fmt.Sprintf("%dm%02ds ago", secs/60, secs%60)
	}
}

func (m Model) renderFooter() string {
	var lines []string
	if msg := m.problem(); msg != "" {
		lines = append(lines, ErrorTextStyle.Render(msg))
	}
	lines = append(lines, m.help.View(m.keys))
	return FooterStyle.Render(strings.Join(lines, "\n"))
}

// problem is the one-line reason the dashboard is not healthy, if any.
func (m Model) problem() string {
	switch {
	case m.reconnecting:
		return "Reconnecting..."
	case m.reconnectErr != nil:
		return errors.Summary(m.reconnectErr)
	case m.status.State == connection.Failed && m.status.Err != nil:
		return errors.Summary(m.status.Err) + " (press R to reconnect)"
	case m.status.State == connection.Degraded && m.status.Err != nil:
		return "Link lost: " + firstLine(m.status.Err.Error())
	}
	if snap := m.engine.Snapshot(); snap != nil && snap.Stale && snap.Err != nil {
		return firstLine(snap.Err.Error())
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// renderFactsPanel is the left panel.
func (m Model) renderFactsPanel(width, height int) string {
	snap := m.engine.Snapshot()
	style := PanelStyle
	if snap != nil && snap.Stale {
		style = StalePanelStyle
	}

	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render("System"))
	b.WriteString("\n\n")

	if !snap.HasFacts() {
		b.WriteString(MutedStyle.Render("Waiting for first poll..."))
	} else {
		rows := []struct{ label, value string }{
			{"Host", snap.Hostname},
			{"Board", snap.Board},
			{"Chip", snap.Chip},
			{"CPU", snap.CPU},
			{"Memory", memoryLine(snap.Memory, snap.MemoryUsed)},
			{"Uptime", snap.Uptime},
			{"Load", snap.Load},
			{"OS", snap.OS},
			{"Kernel", snap.Kernel},
			{"Arch", snap.Arch},
		}
		valueWidth := width - 4 - LabelStyle.GetWidth()
		for _, r := range rows {
			b.WriteString(LabelStyle.Render(r.label))
			b.WriteString(ValueStyle.MaxWidth(max(valueWidth, 1)).Render(r.value))
			b.WriteString("\n")
		}
	}

	return style.
		Width(width - 2).
		Height(max(height-2, 1)).
		Render(strings.TrimRight(b.String(), "\n"))
}

func memoryLine(total, used string) string {
	if used == "" || used == "Unknown" {
		return total
	}
	return total + " (" + used + " used)"
}

// renderLogPanel is the right panel: a title and the log viewport.
func (m Model) renderLogPanel(width, height int) string {
	title := "Logs"
	if !m.follow {
		title += MutedStyle.Render(" (paused, f to follow)")
	}
	if dropped := m.engine.Logs().Dropped(); dropped > 0 {
		title += MutedStyle.Render(fmt.Sprintf(" %d older lines dropped", dropped))
	}

	content := PanelTitleStyle.Render(title) + "\n" + m.logs.View()
	return PanelStyle.
		Width(max(width-2, 1)).
		Height(max(height-2, 1)).
		Render(content)
}

// renderLogLines colors each entry by level and cuts it to width.
func renderLogLines(entries []LogEntry, width int) string {
	if len(entries) == 0 {
		return MutedStyle.Render("Waiting for log output...")
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		text := e.Text
		if e.Local {
			text = "-- " + text + " --"
		}
		style := LevelStyle(e.Level)
		if width > 0 {
			style = style.MaxWidth(width)
		}
		lines[i] = style.Render(text)
	}
	return strings.Join(lines, "\n")
}
