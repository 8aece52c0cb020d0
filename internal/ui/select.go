package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrCancelled is returned when the user leaves a picker without choosing.
var ErrCancelled = errors.New("selection cancelled")

var (
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	promptStyle = lipgloss.NewStyle().Bold(true)
)

type selectKeys struct {
	Up, Down, Choose, Cancel key.Binding
}

var pickerKeys = selectKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k", "ctrl+p")),
	Down:   key.NewBinding(key.WithKeys("down", "j", "ctrl+n")),
	Choose: key.NewBinding(key.WithKeys("enter")),
	Cancel: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c")),
}

type selectModel struct {
	prompt string
	items  []string
	cursor int
	chosen int
}

func newSelect(prompt string, items []string) selectModel {
	return selectModel{prompt: prompt, items: items, chosen: -1}
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(k, pickerKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		} else {
			m.cursor = len(m.items) - 1
		}
	case key.Matches(k, pickerKeys.Down):
		m.cursor = (m.cursor + 1) % len(m.items)
	case key.Matches(k, pickerKeys.Choose):
		m.chosen = m.cursor
		return m, tea.Quit
	case key.Matches(k, pickerKeys.Cancel):
		return m, tea.Quit
	}
	return m, nil
}

func (m selectModel) View() string {
	var b strings.Builder
	b.WriteString(promptStyle.Render(m.prompt))
	b.WriteString("\n")
	for i, item := range m.items {
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> " + item))
		} else {
			b.WriteString("  " + item)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Select presents items to the user and returns the selected item's index.
func Select(prompt string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select from")
	}
	if !IsInteractive() {
		return -1, fmt.Errorf("selection needs a terminal")
	}

	final, err := tea.NewProgram(newSelect(prompt, items)).Run()
	if err != nil {
		return -1, fmt.Errorf("running picker: %w", err)
	}
	m := final.(selectModel)
	if m.chosen < 0 {
		return -1, ErrCancelled
	}
	return m.chosen, nil
}
