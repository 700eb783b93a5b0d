package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Call   key.Binding
	Hangup key.Binding
	Mute   key.Binding
	Copy   key.Binding
	Quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Call:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "call")),
		Hangup: key.NewBinding(key.WithKeys("esc", "h"), key.WithHelp("esc/h", "hang up")),
		Mute:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
		// ctrl+y is free in the text input keymap, so it works in every phase.
		Copy: key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy my ID")),
		Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// enabledFor switches bindings on for the phase. Disabled bindings neither
// match nor show up in the help line.
func (k *keyMap) enabledFor(p phase) {
	k.Call.SetEnabled(p == idle)
	k.Hangup.SetEnabled(p == calling || p == connected)
	if p == calling {
		k.Hangup.SetHelp("esc/h", "cancel")
	} else {
		k.Hangup.SetHelp("esc/h", "hang up")
	}
	k.Mute.SetEnabled(p == connected)
}

func (k keyMap) short() []key.Binding {
	return []key.Binding{k.Call, k.Hangup, k.Mute, k.Copy, k.Quit}
}
