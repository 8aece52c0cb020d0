package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	PlayPause key.Binding
	SeekBack  key.Binding
	SeekFront key.Binding
	VolUp     key.Binding
	VolDown   key.Binding
	Mute      key.Binding
	Slower    key.Binding
	Faster    key.Binding
	Audio     key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		PlayPause: key.NewBinding(key.WithKeys(" ", "space", "p"), key.WithHelp("space", "play/pause")),
		SeekBack:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "seek back")),
		SeekFront: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "seek front")),
		VolUp:     key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "volume up")),
		VolDown:   key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "volume down")),
		Mute:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
		Slower:    key.NewBinding(key.WithKeys("["), key.WithHelp("[", "slower")),
		Faster:    key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "faster")),
		Audio:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "audio language")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PlayPause, k.SeekBack, k.SeekFront, k.Mute, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PlayPause, k.SeekBack, k.SeekFront},
		{k.VolUp, k.VolDown, k.Mute},
		{k.Slower, k.Faster, k.Audio},
		{k.Help, k.Quit},
	}
}
