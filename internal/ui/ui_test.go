package ui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"dashplay/internal/content"
	"dashplay/internal/engine"
	"dashplay/internal/player"
)

type fakeCtrl struct {
	mu     sync.Mutex
	calls  []string
	status player.Status
	stErr  error
	langs  []string
}

func (f *fakeCtrl) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeCtrl) Load(c content.Descriptor, autoplay bool) error { return f.record("Load") }
func (f *fakeCtrl) Play() error { return f.record("Play") }
func (f *fakeCtrl) Pause() error { return f.record("Pause") }
func (f *fakeCtrl) SeekBack() error { return f.record("SeekBack") }
func (f *fakeCtrl) SeekFront() error { return f.record("SeekFront") }
func (f *fakeCtrl) Unload() error { return f.record("Unload") }
func (f *fakeCtrl) PlaybackRate(r float64) error { return f.record("PlaybackRate(%.2f)", r) }
func (f *fakeCtrl) Volume(v float64) error { return f.record("Volume(%.2f)", v) }
func (f *fakeCtrl) Mute(m bool) error { return f.record("Mute(%v)", m) }
func (f *fakeCtrl) AudioLanguages() ([]string, error) { return f.langs, nil }
func (f *fakeCtrl) SelectAudioLanguage(l string) error {
	return f.record("SelectAudioLanguage(%s)", l)
}
func (f *fakeCtrl) Status() (player.Status, error) { return f.status, f.stErr }

func (f *fakeCtrl) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends msg to m and runs the resulting command once.
func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func loadedModel(ctrl *fakeCtrl, st player.Status) Model {
	m := New(ctrl, Options{Autoplay: true})
	next, _ := m.Update(statusMsg{st: st})
	return next.(Model)
}

func TestKeysDriveCommands(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want string
	}{
		{"pause", runes("p"), "Pause"},
		{"seek back", tea.KeyMsg{Type: tea.KeyLeft}, "SeekBack"},
		{"seek front", tea.KeyMsg{Type: tea.KeyRight}, "SeekFront"},
		{"volume up", runes("+"), "Volume(0.60)"},
		{"volume down", runes("-"), "Volume(0.40)"},
		{"mute", runes("m"), "Mute(true)"},
		{"faster", runes("]"), "PlaybackRate(1.25)"},
		{"slower", runes("["), "PlaybackRate(0.75)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeCtrl{}
			m := loadedModel(ctrl, player.Status{Rate: 1, Volume: 0.5})
			_, msg := press(t, m, tt.msg)
			if _, ok := msg.(resultMsg); !ok {
				t.Fatalf("expected resultMsg, got %T", msg)
			}
			calls := ctrl.Calls()
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", calls, tt.want)
			}
		})
	}
}

func TestPlayPauseToggles(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := loadedModel(ctrl, player.Status{Rate: 1, Volume: 1})

	m, _ = press(t, m, runes("p"))
	m, _ = press(t, m, runes("p"))
	m, _ = press(t, m, runes("p"))

	want := []string{"Pause", "Play", "Pause"}
	got := ctrl.Calls()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestPausedWithoutAutoplay(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := New(ctrl, Options{Autoplay: false})
	press(t, m, runes("p"))
	if got := ctrl.Calls(); len(got) != 1 || got[0] != "Play" {
		t.Errorf("calls = %v, want [Play]", got)
	}
}

func TestLimits(t *testing.T) {
	tests := []struct {
		name string
		st   player.Status
		msg  tea.KeyMsg
		want string
	}{
		{"volume max", player.Status{Rate: 1, Volume: 0.95}, runes("+"), "Volume(1.00)"},
		{"volume min", player.Status{Rate: 1, Volume: 0.05}, runes("-"), "Volume(0.00)"},
		{"rate min", player.Status{Rate: 0.25, Volume: 1}, runes("["), "PlaybackRate(0.25)"},
		{"rate max", player.Status{Rate: 4, Volume: 1}, runes("]"), "PlaybackRate(4.00)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeCtrl{}
			press(t, loadedModel(ctrl, tt.st), tt.msg)
			if got := ctrl.Calls(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestRepeatedVolumeUsesLatestLevel(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := loadedModel(ctrl, player.Status{Rate: 1, Volume: 0.5})
	m, _ = press(t, m, runes("+"))
	press(t, m, runes("+"))

	got := ctrl.Calls()
	if len(got) != 2 || got[1] != "Volume(0.70)" {
		t.Errorf("calls = %v, want second Volume(0.70)", got)
	}
}

func TestCycleAudio(t *testing.T) {
	tests := []struct {
		selected string
		want     string
	}{
		{"en", "SelectAudioLanguage(de)"},
		{"de", "SelectAudioLanguage(en)"},
		{"", "SelectAudioLanguage(en)"},
	}
	for _, tt := range tests {
		t.Run("from "+tt.selected, func(t *testing.T) {
			ctrl := &fakeCtrl{langs: []string{"en", "de"}}
			st := player.Status{Rate: 1, Volume: 1}
			if tt.selected != "" {
				st.AudioTracks = []engine.Track{{Type: engine.Audio, Lang: tt.selected, Selected: true}}
			}
			press(t, loadedModel(ctrl, st), runes("a"))
			if got := ctrl.Calls(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestQuitSavesAndUnloads(t *testing.T) {
	ctrl := &fakeCtrl{}
	var saved player.Status
	m := New(ctrl, Options{OnQuit: func(st player.Status) { saved = st }})
	next, _ := m.Update(statusMsg{st: player.Status{URI: "https://x/a.mpd", Position: 33, Duration: 120}})
	m = next.(Model)

	m, msg := press(t, m, runes("q"))
	if !m.quitting {
		t.Error("model should be quitting")
	}
	if _, ok := msg.(quitMsg); !ok {
		t.Fatalf("expected quitMsg, got %T", msg)
	}
	if saved.Position != 33 || saved.Duration != 120 {
		t.Errorf("OnQuit status = %+v, want position 33 of 120", saved)
	}
	if got := ctrl.Calls(); len(got) != 1 || got[0] != "Unload" {
		t.Errorf("calls = %v, want [Unload]", got)
	}

	_, final := press(t, m, msg)
	if _, ok := final.(tea.QuitMsg); !ok {
		t.Errorf("expected tea.QuitMsg, got %T", final)
	}
}

func TestKeysIgnoredWhileQuitting(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := loadedModel(ctrl, player.Status{Rate: 1, Volume: 1})
	m, _ = press(t, m, runes("q"))
	press(t, m, runes("p"))

	if got := ctrl.Calls(); len(got) != 1 {
		t.Errorf("calls = %v, want only Unload", got)
	}
}

func TestViewStates(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := New(ctrl, Options{Title: "Show"})

	next, _ := m.Update(statusMsg{err: player.ErrNotLoaded})
	m = next.(Model)
	if v := m.View(); !strings.Contains(v, "nothing loaded") {
		t.Errorf("unloaded view = %q", v)
	}

	next, _ = m.Update(statusMsg{st: player.Status{
		Position: 65, Duration: 600, Rate: 1.5, Volume: 0.8, Muted: true,
		AudioTracks: []engine.Track{{Lang: "fr", Selected: true}},
	}})
	m = next.(Model)
	v := m.View()
	for _, want := range []string{"Show", "1:05 / 10:00", "rate 1.50x", "vol 80%", "muted", "audio fr"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}

	next, _ = m.Update(resultMsg{action: "seek front", err: errors.New("boom")})
	m = next.(Model)
	if v := m.View(); !strings.Contains(v, "seek front: boom") {
		t.Errorf("error not shown: %q", v)
	}
}

func TestShutdown(t *testing.T) {
	ctrl := &fakeCtrl{status: player.Status{URI: "u", Position: 7}}
	var saved player.Status
	if err := shutdown(ctrl, Options{OnQuit: func(st player.Status) { saved = st }}); err != nil {
		t.Fatal(err)
	}
	if saved.Position != 7 {
		t.Errorf("saved = %+v", saved)
	}
	if got := ctrl.Calls(); len(got) != 1 || got[0] != "Unload" {
		t.Errorf("calls = %v", got)
	}
}

func TestShutdownNotLoadedSkipsSave(t *testing.T) {
	ctrl := &fakeCtrl{stErr: player.ErrNotLoaded}
	called := false
	shutdown(ctrl, Options{OnQuit: func(player.Status) { called = true }})
	if called {
		t.Error("OnQuit should not run without a status")
	}
}

func TestSelectModel(t *testing.T) {
	m := newSelect("pick", []string{"a", "b", "c"})

	step := func(msg tea.Msg) {
		next, _ := m.Update(msg)
		m = next.(selectModel)
	}

	step(tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 2 {
		t.Errorf("up from top should wrap to 2, got %d", m.cursor)
	}
	step(tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 0 {
		t.Errorf("down from bottom should wrap to 0, got %d", m.cursor)
	}
	step(runes("j"))
	if !strings.Contains(m.View(), "> b") {
		t.Errorf("view should mark b:\n%s", m.View())
	}
	step(tea.KeyMsg{Type: tea.KeyEnter})
	if m.chosen != 1 {
		t.Errorf("chosen = %d, want 1", m.chosen)
	}
}

func TestSelectModelCancel(t *testing.T) {
	m := newSelect("pick", []string{"a"})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if next.(selectModel).chosen != -1 {
		t.Error("cancel should not choose")
	}
	if cmd == nil {
		t.Error("cancel should quit")
	}
}
