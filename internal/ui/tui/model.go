// Package tui is the terminal front end. It renders coordinator pushes and
// turns key presses into UI requests; it never touches mail, the worker or
// the database directly.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/keys"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/theme"
	"github.com/nhle/inboxdigest/internal/ui"
)

// MaxItems caps the summaries kept on screen.
const MaxItems = 50

// Sender delivers UI requests to the coordinator. *ui.Hub implements it.
type Sender interface {
	Send(ctx context.Context, msg bus.UIToCoordinator) error
}

type viewState int

const (
	viewList viewState = iota
	viewDetail
	viewHelp
	viewConfirm
)

type pushMsg struct {
	msg bus.CoordinatorToUI
}

type pushClosedMsg struct{}

type sendFailedMsg struct {
	err error
}

// Model is the root Bubble Tea model.
type Model struct {
	sender Sender
	pushes <-chan bus.CoordinatorToUI
	keys   *keys.KeyMap

	layout  ui.Layout
	list    list.Model
	spinner spinner.Model
	help    help.Model

	confirm       *huh.Form
	deleteConfirm *bool

	view     viewState
	prevView viewState
	ready    bool

	status   model.SyncStatus
	statusAt time.Time
	privacy  *bus.PrivacyStatusMsg
	notice   *bus.NoticeMsg
}

// New creates the root model. initial seeds the list, newest first.
func New(sender Sender, pushes <-chan bus.CoordinatorToUI, k *keys.KeyMap, initial []model.ProcessedMessageRecord) Model {
	l := list.New(nil, ItemDelegate{}, 80, 22)
	l.Title = "Recent mail"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.KeyMap.Quit.SetEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorYellow)

	m := Model{
		sender:        sender,
		pushes:        pushes,
		keys:          k,
		layout:        ui.NewLayout(80, 24),
		list:          l,
		spinner:       sp,
		help:          help.New(),
		deleteConfirm: new(bool),
		status:        model.SyncIdle,
	}
	m.addRecords(initial)
	return m
}

// Init starts listening for pushes and asks for the privacy status.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForPush(m.pushes),
		m.spinner.Tick,
		m.send(bus.RequestPrivacyStatusMsg{}),
	)
}

// waitForPush blocks on the next coordinator push.
func waitForPush(ch <-chan bus.CoordinatorToUI) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return pushClosedMsg{}
		}
		return pushMsg{msg: msg}
	}
}

func (m Model) send(msg bus.UIToCoordinator) tea.Cmd {
	s := m.sender
	return func() tea.Msg {
		if err := s.Send(context.Background(), msg); err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.list.SetSize(msg.Width, m.layout.ContentHeight())
		m.help.Width = msg.Width - 4
		if m.view == viewConfirm && m.confirm != nil {
			return m.updateConfirm(msg)
		}
		return m, nil

	case pushMsg:
		m.apply(msg.msg)
		return m, waitForPush(m.pushes)

	case pushClosedMsg:
		return m, tea.Quit

	case sendFailedMsg:
		m.notice = &bus.NoticeMsg{Level: "error", Text: fmt.Sprintf("Request failed: %v", msg.err)}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.view == viewConfirm {
			return m.updateConfirm(msg)
		}
		return m.handleKeys(msg)
	}

	if m.view == viewConfirm {
		return m.updateConfirm(msg)
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// apply folds one coordinator push into the model.
func (m *Model) apply(push bus.CoordinatorToUI) {
	switch p := push.(type) {
	case bus.SyncStatusMsg:
		m.status = p.Status
		m.statusAt = p.Timestamp
	case bus.NewEmailsMsg:
		m.addRecords(p.Data)
	case bus.PrivacyStatusMsg:
		m.privacy = &p
	case bus.NoticeMsg:
		m.notice = &p
	}
}

// addRecords prepends batch, drops ids already shown and trims to MaxItems.
func (m *Model) addRecords(batch []model.ProcessedMessageRecord) {
	if len(batch) == 0 {
		return
	}
	seen := make(map[string]bool, len(batch))
	items := make([]list.Item, 0, len(batch)+len(m.list.Items()))
	for _, rec := range batch {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		items = append(items, SummaryItem{Record: rec})
	}
	for _, it := range m.list.Items() {
		si, ok := it.(SummaryItem)
		if !ok || seen[si.Record.ID] {
			continue
		}
		seen[si.Record.ID] = true
		items = append(items, si)
	}
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}
	m.list.SetItems(items)
}

func (m Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		if m.view == viewHelp {
			m.view = m.prevView
		} else {
			m.prevView = m.view
			m.view = viewHelp
		}
		return m, nil

	case key.Matches(msg, m.keys.Back):
		m.view = viewList
		return m, nil

	case key.Matches(msg, m.keys.Select):
		if _, ok := m.list.SelectedItem().(SummaryItem); ok {
			m.view = viewDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.SyncNow):
		return m, m.send(bus.TriggerSyncNowMsg{})

	case key.Matches(msg, m.keys.ClearHistory):
		m.list.SetItems(nil)
		m.view = viewList
		return m, m.send(bus.ClearHistoryMsg{})

	case key.Matches(msg, m.keys.ToggleNLP):
		enabled := true
		if m.privacy != nil {
			enabled = m.privacy.Enabled
		}
		return m, m.send(bus.ToggleNLPStorageMsg{Enabled: !enabled})

	case key.Matches(msg, m.keys.Privacy):
		return m, m.send(bus.RequestPrivacyStatusMsg{})

	case key.Matches(msg, m.keys.DeleteAll):
		*m.deleteConfirm = false
		m.confirm = m.buildDeleteConfirmForm()
		m.prevView = m.view
		m.view = viewConfirm
		return m, m.confirm.Init()
	}

	if m.view != viewList {
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) buildDeleteConfirmForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Delete all local data?").
				Description(
					"This removes every stored summary, the recent list " +
						"and the dedup history. Mail already seen will not be fetched again.",
				).
				Affirmative("Yes, delete").
				Negative("Cancel").
				Value(m.deleteConfirm),
		),
	).WithWidth(max(m.layout.Width-8, 30))
}

func (m Model) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.confirm == nil {
		m.view = m.prevView
		return m, nil
	}

	mdl, cmd := m.confirm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.confirm = f
	}

	switch m.confirm.State {
	case huh.StateCompleted:
		return m.resolveConfirm(*m.deleteConfirm)
	case huh.StateAborted:
		return m.resolveConfirm(false)
	}
	return m, cmd
}

// resolveConfirm leaves the confirm dialog and, when confirmed, clears the
// list and asks the coordinator to delete everything.
func (m Model) resolveConfirm(confirmed bool) (tea.Model, tea.Cmd) {
	m.confirm = nil
	m.view = viewList
	if !confirmed {
		return m, nil
	}
	m.list.SetItems(nil)
	return m, m.send(bus.DeleteAllLocalDataMsg{})
}

// View renders the full terminal UI.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("inboxdigest", m.syncIndicator())
	return m.layout.Frame(header, m.renderContent(), m.layout.RenderStatusBar(m.statusLine()))
}

func (m Model) renderContent() string {
	width, height := m.layout.Width-4, m.layout.ContentHeight()-4
	switch m.view {
	case viewDetail:
		si, ok := m.list.SelectedItem().(SummaryItem)
		if !ok {
			return m.list.View()
		}
		return theme.DetailPanelStyle.Width(width).Height(height).Render(renderDetail(si.Record, width))
	case viewHelp:
		h := m.help
		h.ShowAll = true
		title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1).Render("Keyboard Shortcuts")
		return theme.DetailPanelStyle.Width(width).Height(height).
			Render(lipgloss.JoinVertical(lipgloss.Left, title, h.View(m.keys)))
	case viewConfirm:
		if m.confirm != nil {
			return theme.DetailPanelStyle.Width(width).Render(m.confirm.View())
		}
	}

	if len(m.list.Items()) == 0 {
		return lipgloss.NewStyle().
			Width(m.layout.Width).
			Height(m.layout.ContentHeight()).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No summaries yet.\n\nPress r to sync now.")
	}
	return m.list.View()
}

// syncIndicator shows the orchestrator state and when it last changed.
func (m Model) syncIndicator() string {
	label := string(m.status)
	if m.status == model.SyncSyncing {
		label = m.spinner.View() + " " + label
	}
	out := theme.SyncStatusStyle(m.status).Render(label)
	if !m.statusAt.IsZero() && m.status != model.SyncSyncing {
		out += " " + relativeTime(m.statusAt)
	}
	return out
}

// statusLine prefers the latest notice, then privacy state, then key hints.
func (m Model) statusLine() string {
	if m.notice != nil {
		return theme.NoticeStyle(m.notice.Level).Render(m.notice.Text)
	}
	if m.privacy != nil {
		storage := "local storage off"
		if m.privacy.Enabled {
			storage = "local storage on"
		}
		return fmt.Sprintf("%s | %d stored | worker %s", storage, m.privacy.TotalStored, m.privacy.Health)
	}
	return m.help.ShortHelpView(m.keys.ShortHelp())
}
