package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inboxdigest/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps the summary and help panels.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// DimmedStyle renders secondary text such as senders and timestamps.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// NoticeStyle returns the style for a notice of the given level.
func NoticeStyle(level string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	if level == "error" {
		return base.Foreground(ColorRed)
	}
	return base.Foreground(ColorGreen)
}

// SyncStatusStyle returns a color-coded style for the orchestrator state.
func SyncStatusStyle(status model.SyncStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case model.SyncIdle:
		return base.Foreground(ColorGreen)
	case model.SyncSyncing:
		return base.Foreground(ColorYellow)
	case model.SyncError:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// LabelStyle returns a color-coded badge style for a message label.
func LabelStyle(label string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch label {
	case model.LabelPossibleDeadline:
		return base.Foreground(ColorOrange)
	case model.LabelActionable:
		return base.Foreground(ColorMagenta)
	case model.LabelTransactional:
		return base.Foreground(ColorBlue)
	case model.LabelNewsletter:
		return base.Foreground(ColorGray)
	default:
		return base.Foreground(ColorGray)
	}
}
