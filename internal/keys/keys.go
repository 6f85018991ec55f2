package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the digest UI.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Detail
	Select key.Binding
	Back   key.Binding

	Quit key.Binding
	Help key.Binding

	// Coordinator actions
	SyncNow      key.Binding
	ClearHistory key.Binding
	ToggleNLP    key.Binding
	Privacy      key.Binding
	DeleteAll    key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open summary"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		SyncNow: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "sync now"),
		),
		ClearHistory: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear history"),
		),
		ToggleNLP: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "toggle local storage"),
		),
		Privacy: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "privacy status"),
		),
		DeleteAll: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "delete all local data"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Select, k.SyncNow, k.Quit, k.Help,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Back, k.Quit, k.Help},
		{k.SyncNow, k.ClearHistory},
		{k.Privacy, k.ToggleNLP, k.DeleteAll},
	}
}
