// Package ui provides the terminal control surface for a loaded player:
// a bubbletea model mapping keys to player commands, and a non-interactive
// wait used when stdin is not a terminal.
package ui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"dashplay/internal/engine"
	"dashplay/internal/history"
	"dashplay/internal/player"
)

// Controller is the player surface the UI drives.
type Controller interface {
	player.Interface
	Status() (player.Status, error)
}

// Options configures the control surface.
type Options struct {
	Title      string
	Autoplay   bool
	VolumeStep float64
	RateStep   float64
	Refresh    time.Duration
	// OnQuit receives the last status before the player is unloaded.
	OnQuit func(player.Status)
}

func (o Options) withDefaults() Options {
	if o.VolumeStep <= 0 {
		o.VolumeStep = 0.1
	}
	if o.RateStep <= 0 {
		o.RateStep = 0.25
	}
	if o.Refresh <= 0 {
		o.Refresh = 500 * time.Millisecond
	}
	return o
}

const maxRate = 4

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type (
	tickMsg   time.Time
	statusMsg struct {
		st  player.Status
		err error
	}
	resultMsg struct {
		action string
		err    error
	}
	quitMsg struct{ err error }
)

// Model is the bubbletea model for the control surface.
type Model struct {
	ctrl Controller
	opts Options
	keys keyMap
	help help.Model

	status   player.Status
	loaded   bool
	paused   bool
	lastErr  string
	quitting bool
	quitErr  error
}

// New returns a model driving ctrl.
func New(ctrl Controller, opts Options) Model {
	opts = opts.withDefaults()
	return Model{
		ctrl:   ctrl,
		opts:   opts,
		keys:   defaultKeys(),
		help:   help.New(),
		paused: !opts.Autoplay,
		status: player.Status{Rate: 1, Volume: 1},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		st, err := m.ctrl.Status()
		return statusMsg{st: st, err: err}
	}
}

func (m Model) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{action: action, err: fn()}
	}
}

func (m Model) quit() tea.Cmd {
	st, loaded := m.status, m.loaded
	return func() tea.Msg {
		if loaded && m.opts.OnQuit != nil {
			m.opts.OnQuit(st)
		}
		return quitMsg{err: m.ctrl.Unload()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.fetchStatus(), m.tick())

	case statusMsg:
		if msg.err != nil {
			m.loaded = false
			if !errors.Is(msg.err, player.ErrNotLoaded) {
				m.lastErr = msg.err.Error()
			}
			return m, nil
		}
		m.loaded = true
		m.status = msg.st
		return m, nil

	case resultMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.lastErr = ""
		}
		return m, m.fetchStatus()

	case quitMsg:
		m.quitErr = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, m.quit()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.PlayPause):
		if m.paused {
			m.paused = false
			return m, m.run("play", m.ctrl.Play)
		}
		m.paused = true
		return m, m.run("pause", m.ctrl.Pause)

	case key.Matches(msg, m.keys.SeekBack):
		return m, m.run("seek back", m.ctrl.SeekBack)

	case key.Matches(msg, m.keys.SeekFront):
		return m, m.run("seek front", m.ctrl.SeekFront)

	case key.Matches(msg, m.keys.VolUp), key.Matches(msg, m.keys.VolDown):
		step := m.opts.VolumeStep
		if key.Matches(msg, m.keys.VolDown) {
			step = -step
		}
		level := clamp(round2(m.status.Volume+step), 0, 1)
		m.status.Volume = level
		return m, m.run("volume", func() error { return m.ctrl.Volume(level) })

	case key.Matches(msg, m.keys.Mute):
		muted := !m.status.Muted
		m.status.Muted = muted
		return m, m.run("mute", func() error { return m.ctrl.Mute(muted) })

	case key.Matches(msg, m.keys.Faster), key.Matches(msg, m.keys.Slower):
		step := m.opts.RateStep
		if key.Matches(msg, m.keys.Slower) {
			step = -step
		}
		rate := clamp(round2(m.status.Rate+step), m.opts.RateStep, maxRate)
		m.status.Rate = rate
		return m, m.run("rate", func() error { return m.ctrl.PlaybackRate(rate) })

	case key.Matches(msg, m.keys.Audio):
		current := currentAudio(m.status)
		return m, m.run("audio", func() error { return cycleAudio(m.ctrl, current) })
	}
	return m, nil
}

// cycleAudio selects the language after current, wrapping around.
func cycleAudio(ctrl Controller, current string) error {
	langs, err := ctrl.AudioLanguages()
	if err != nil {
		return err
	}
	if len(langs) == 0 {
		return errors.New("no audio tracks")
	}
	next := langs[0]
	for i, l := range langs {
		if strings.EqualFold(l, current) {
			next = langs[(i+1)%len(langs)]
			break
		}
	}
	return ctrl.SelectAudioLanguage(next)
}

func currentAudio(st player.Status) string {
	for _, t := range st.AudioTracks {
		if t.Selected {
			if t.Lang == "" {
				return engine.Undetermined
			}
			return t.Lang
		}
	}
	return ""
}

func (m Model) View() string {
	var b strings.Builder

	title := m.opts.Title
	if title == "" {
		title = m.status.URI
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if !m.loaded {
		b.WriteString(dimStyle.Render("nothing loaded"))
	} else {
		b.WriteString(statusStyle.Render(m.statusLine()))
	}
	b.WriteString("\n")

	if m.lastErr != "" {
		b.WriteString(errStyle.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

func (m Model) statusLine() string {
	icon := "▶"
	if m.paused {
		icon = "⏸"
	}
	pos := history.FormatPosition(m.status.Position)
	if m.status.Duration > 0 {
		pos += " / " + history.FormatPosition(m.status.Duration)
	}
	parts := []string{
		icon + " " + pos,
		fmt.Sprintf("rate %.2fx", m.status.Rate),
		fmt.Sprintf("vol %.0f%%", m.status.Volume*100),
	}
	if m.status.Muted {
		parts = append(parts, "muted")
	}
	if lang := currentAudio(m.status); lang != "" {
		parts = append(parts, "audio "+lang)
	}
	return strings.Join(parts, " │ ")
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// IsInteractive reports whether stdin and stdout are terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Run drives ctrl from the terminal until the user quits or ctx is done.
// Without a terminal it waits for ctx instead. The player is unloaded
// either way.
func Run(ctx context.Context, ctrl Controller, opts Options) error {
	if !IsInteractive() {
		return Wait(ctx, ctrl, opts)
	}

	p := tea.NewProgram(New(ctrl, opts), tea.WithContext(ctx))
	final, err := p.Run()
	if m, ok := final.(Model); ok && m.quitting {
		if m.quitErr != nil {
			return fmt.Errorf("unloading: %w", m.quitErr)
		}
		return nil
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return shutdown(ctrl, opts)
}

// Wait blocks until ctx is done, then unloads ctrl.
func Wait(ctx context.Context, ctrl Controller, opts Options) error {
	<-ctx.Done()
	return shutdown(ctrl, opts)
}

func shutdown(ctrl Controller, opts Options) error {
	if opts.OnQuit != nil {
		if st, err := ctrl.Status(); err == nil {
			opts.OnQuit(st)
		}
	}
	if err := ctrl.Unload(); err != nil {
		return fmt.Errorf("unloading: %w", err)
	}
	return nil
}
