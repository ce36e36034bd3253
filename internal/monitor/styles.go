package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sbctool/sbctool/internal/connection"
)

// Dashboard color palette
const (
	ColorSurfaceBg = lipgloss.Color("#12121A")
	ColorBorder    = lipgloss.Color("#2A2A4A")

	ColorHealthy  = lipgloss.Color("#39FF14")
	ColorWarning  = lipgloss.Color("#FFAA00")
	ColorCritical = lipgloss.Color("#FF0055")

	ColorTextPrimary   = lipgloss.Color("#FFFFFF")
	ColorTextSecondary = lipgloss.Color("#B4B4D0")
	ColorTextMuted     = lipgloss.Color("#6B6B8D")

	ColorAccent = lipgloss.Color("#FF2E97")
	ColorGraph  = lipgloss.Color("#00FFFF")
)

// factsPanelWidth is the left panel width including its border.
const factsPanelWidth = 42

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Background(ColorSurfaceBg).
			Bold(true).
			Padding(0, 1)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Padding(0, 1)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	StalePanelStyle = PanelStyle.
			BorderForeground(ColorWarning)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(ColorGraph).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextSecondary).
			Width(10)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	WarningTextStyle = lipgloss.NewStyle().
				Foreground(ColorWarning)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorCritical)

	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(ColorSurfaceBg)
)

// BadgeStyle colors the connection state badge.
func BadgeStyle(state connection.State) lipgloss.Style {
	switch state {
	case connection.Connected:
		return badgeStyle.Background(ColorHealthy)
	case connection.Connecting, connection.Degraded:
		return badgeStyle.Background(ColorWarning)
	case connection.Failed:
		return badgeStyle.Background(ColorCritical)
	default:
		return badgeStyle.Background(ColorTextMuted)
	}
}

// LevelStyle colors a log line by its guessed level.
func LevelStyle(level Level) lipgloss.Style {
	switch level {
	case LevelError:
		return ErrorTextStyle
	case LevelWarn:
		return WarningTextStyle
	case LevelInfo:
		return ValueStyle
	default:
		return lipgloss.NewStyle().Foreground(ColorTextSecondary)
	}
}
