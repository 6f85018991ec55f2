package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/summarizer"
	"github.com/nhle/inboxdigest/internal/theme"
)

// SummaryItem wraps a processed message so it can be used in a bubbles/list.
type SummaryItem struct {
	Record model.ProcessedMessageRecord
}

// FilterValue returns the string used for fuzzy filtering.
func (i SummaryItem) FilterValue() string { return i.Record.Subject }

// Title returns the message subject.
func (i SummaryItem) Title() string { return i.Record.Subject }

// Description returns sender, labels and age on one line.
func (i SummaryItem) Description() string {
	parts := []string{i.Record.From}
	if len(i.Record.Labels) > 0 {
		parts = append(parts, strings.Join(i.Record.Labels, ","))
	}
	if rt := relativeTime(i.Record.ProcessedAt); rt != "" {
		parts = append(parts, rt)
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate renders one summary per line.
type ItemDelegate struct{}

func (d ItemDelegate) Height() int { return 1 }

func (d ItemDelegate) Spacing() int { return 0 }

func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

// Render draws a single list item line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	si, ok := item.(SummaryItem)
	if !ok {
		return
	}
	rec := si.Record

	badges := make([]string, 0, len(rec.Labels))
	for _, l := range rec.Labels {
		badges = append(badges, theme.LabelStyle(l).Render(labelBadge(l)))
	}

	line := fmt.Sprintf("● %s %s", rec.Subject, theme.DimmedStyle.Render(senderName(rec.From)))
	if len(badges) > 0 {
		line += " " + strings.Join(badges, " ")
	}
	if rt := relativeTime(rec.ProcessedAt); rt != "" {
		line += "  " + theme.DimmedStyle.Render(rt)
	}

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}
	fmt.Fprint(w, line)
}

// labelBadge returns the short badge text for a label.
func labelBadge(label string) string {
	switch label {
	case model.LabelPossibleDeadline:
		return "DUE"
	case model.LabelActionable:
		return "ACT"
	case model.LabelTransactional:
		return "TXN"
	case model.LabelNewsletter:
		return "NEWS"
	default:
		return strings.ToUpper(label)
	}
}

// senderName trims "Name <addr>" down to the display name.
func senderName(from string) string {
	if i := strings.Index(from, "<"); i > 0 {
		if name := strings.Trim(strings.TrimSpace(from[:i]), `"`); name != "" {
			return name
		}
	}
	return from
}

// renderDetail renders the full record for the detail panel.
func renderDetail(rec model.ProcessedMessageRecord, width int) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).Render(rec.Subject)
	meta := theme.DimmedStyle.Render(fmt.Sprintf("From: %s\nTo: %s\nDate: %s", rec.From, rec.To, rec.Date))

	var labels []string
	for _, l := range rec.Labels {
		labels = append(labels, theme.LabelStyle(l).Render(l))
	}

	body := rec.Summary
	switch {
	case body == "":
		body = rec.Snippet
	case summarizer.IsPlaceholder(body) && rec.Snippet != "":
		body = theme.DimmedStyle.Render(body) + "\n\n" + rec.Snippet
	}
	body = lipgloss.NewStyle().Width(max(width-6, 10)).Render(body)

	parts := []string{title, meta}
	if len(labels) > 0 {
		parts = append(parts, strings.Join(labels, "  "))
	}
	parts = append(parts, "", body)
	if rec.TokensUsed > 0 {
		parts = append(parts, "", theme.HelpStyle.Render(fmt.Sprintf("%d tokens", rec.TokensUsed)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
