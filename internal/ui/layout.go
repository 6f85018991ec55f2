package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inboxdigest/internal/theme"
)

// Layout manages the terminal frame: a one-line header, the content area
// and a one-line status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentHeight returns the height left for the content area.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the title on the left and the already styled sync
// indicator on the right.
func (l Layout) RenderHeader(title, indicator string) string {
	left := theme.HeaderStyle.Render(title)
	right := theme.HeaderStyle.Render(indicator)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, l.fill(theme.HeaderStyle, left, right), right)
}

// RenderStatusBar renders the bottom bar with a message on the left.
func (l Layout) RenderStatusBar(text string) string {
	rendered := theme.StatusBarStyle.Render(text)
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, l.fill(theme.StatusBarStyle, rendered))
}

// Frame joins header, content and status bar.
func (l Layout) Frame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

// fill pads the gap between rendered parts with the bar background.
func (l Layout) fill(style lipgloss.Style, parts ...string) string {
	gap := l.Width
	for _, p := range parts {
		gap -= lipgloss.Width(p)
	}
	if gap <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
}
