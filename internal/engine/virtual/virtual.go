// Package virtual provides an in-memory engine. It keeps playback state,
// records every call it receives and emits the same lifecycle events a real
// engine would, without fetching any media.
package virtual

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"dashplay/internal/engine"
	"dashplay/internal/protection"
)

var _ engine.Engine = (*Engine)(nil)

// Call is one recorded engine invocation.
type Call struct {
	Method string
	Args   []any
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Method
	}
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = fmt.Sprint(a)
	}
	return c.Method + "(" + strings.Join(parts, ", ") + ")"
}

// DefaultTracks is the track set a new engine exposes once a source is attached.
var DefaultTracks = []engine.Track{
	{ID: 1, Type: engine.Video, Label: "1080p", Codec: "avc1.640028", Selected: true},
	{ID: 2, Type: engine.Audio, Lang: "en", Codec: "mp4a.40.2", Selected: true},
	{ID: 3, Type: engine.Audio, Lang: "de", Codec: "mp4a.40.2"},
	{ID: 4, Type: engine.Text, Lang: "en"},
}

// Engine is an in-memory engine.Engine.
type Engine struct {
	log zerolog.Logger

	mu         sync.Mutex
	calls      []Call
	handlers   map[engine.EventType]engine.Handler
	tracks     []engine.Track
	source     string
	position   float64
	duration   float64
	rate       float64
	volume     float64
	muted      bool
	paused     bool
	protection protection.Data
	settings   engine.Settings
	closed     bool
}

// New returns a virtual engine exposing the given tracks once a source is attached.
// A nil track list selects DefaultTracks.
func New(logger zerolog.Logger, tracks []engine.Track) *Engine {
	if tracks == nil {
		tracks = DefaultTracks
	}
	cp := make([]engine.Track, len(tracks))
	copy(cp, tracks)

	return &Engine{
		log:      logger.With().Str("engine", "virtual").Logger(),
		handlers: make(map[engine.EventType]engine.Handler),
		tracks:   cp,
		rate:     1,
		volume:   1,
		paused:   true,
	}
}

// Factory returns an engine.Factory producing virtual engines. Every engine
// created is passed to created, if non-nil.
func Factory(logger zerolog.Logger, tracks []engine.Track, created func(*Engine)) engine.Factory {
	return func() (engine.Engine, error) {
		e := New(logger, tracks)
		if created != nil {
			created(e)
		}
		return e, nil
	}
}

// record appends a call; it fails once the engine is closed. Callers hold mu.
func (e *Engine) record(method string, args ...any) error {
	e.calls = append(e.calls, Call{Method: method, Args: args})
	if e.closed {
		return engine.ErrClosed
	}
	return nil
}

func (e *Engine) Initialize(sink *engine.Sink, autoplay bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Initialize", sink != nil, autoplay); err != nil {
		return err
	}
	e.paused = !autoplay
	return nil
}

func (e *Engine) On(t engine.EventType, h engine.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Method: "On", Args: []any{string(t)}})
	e.handlers[t] = h
}

func (e *Engine) Off(t engine.EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Method: "Off", Args: []any{string(t)}})
	delete(e.handlers, t)
}

func (e *Engine) SetProtectionData(data protection.Data) error {
	e.mu.Lock()
	if err := e.record("SetProtectionData", len(data)); err != nil {
		e.mu.Unlock()
		return err
	}
	e.protection = data
	schemes := make([]string, 0, len(data))
	for scheme := range data {
		schemes = append(schemes, scheme)
	}
	e.mu.Unlock()

	e.Emit(engine.Event{
		Type: engine.EventProtectionCreated,
		Data: map[string]any{"keySystems": schemes},
	})
	return nil
}

func (e *Engine) UpdateSettings(s engine.Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("UpdateSettings", s.Debug.LogLevel.String()); err != nil {
		return err
	}
	e.settings = s
	return nil
}

func (e *Engine) AttachSource(uri string) error {
	e.mu.Lock()
	if err := e.record("AttachSource", uri); err != nil {
		e.mu.Unlock()
		return err
	}
	e.source = uri
	e.position = 0
	e.mu.Unlock()

	e.log.Debug().Str("uri", uri).Msg("source attached")

	e.Emit(engine.Event{
		Type: engine.EventManifestLoaded,
		Data: map[string]any{"url": uri},
	})
	e.Emit(engine.Event{
		Type: engine.EventStreamInitialized,
		Data: map[string]any{"streamInfo": map[string]any{"index": 0}},
	})
	return nil
}

func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Play"); err != nil {
		return err
	}
	e.paused = false
	return nil
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Pause"); err != nil {
		return err
	}
	e.paused = true
	return nil
}

func (e *Engine) Time() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Time"); err != nil {
		return 0, err
	}
	return e.position, nil
}

func (e *Engine) Duration() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Duration"); err != nil {
		return 0, err
	}
	return e.duration, nil
}

// Seek records the requested target and moves to it, clamped at the start.
func (e *Engine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Seek", seconds); err != nil {
		return err
	}
	if seconds < 0 {
		seconds = 0
	}
	e.position = seconds
	return nil
}

func (e *Engine) PlaybackRate() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("PlaybackRate"); err != nil {
		return 0, err
	}
	return e.rate, nil
}

func (e *Engine) SetPlaybackRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("SetPlaybackRate", rate); err != nil {
		return err
	}
	e.rate = rate
	return nil
}

func (e *Engine) Volume() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Volume"); err != nil {
		return 0, err
	}
	return e.volume, nil
}

func (e *Engine) SetVolume(level float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("SetVolume", level); err != nil {
		return err
	}
	e.volume = level
	return nil
}

func (e *Engine) IsMuted() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("IsMuted"); err != nil {
		return false, err
	}
	return e.muted, nil
}

func (e *Engine) SetMute(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("SetMute", muted); err != nil {
		return err
	}
	e.muted = muted
	return nil
}

func (e *Engine) TracksFor(t engine.MediaType) ([]engine.Track, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("TracksFor", string(t)); err != nil {
		return nil, err
	}
	if e.source == "" {
		return nil, nil
	}
	var out []engine.Track
	for _, tr := range e.tracks {
		if tr.Type == t {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (e *Engine) SelectAudioLanguage(lang string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("SelectAudioLanguage", lang); err != nil {
		return err
	}

	found := false
	for _, tr := range e.tracks {
		if tr.Type == engine.Audio && tr.HasLanguage(lang) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no audio track for language %q", lang)
	}

	selected := false
	for i := range e.tracks {
		if e.tracks[i].Type != engine.Audio {
			continue
		}
		match := !selected && e.tracks[i].HasLanguage(lang)
		e.tracks[i].Selected = match
		if match {
			selected = true
		}
	}
	return nil
}

func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("Reset"); err != nil {
		return err
	}
	e.source = ""
	e.position = 0
	e.paused = true
	e.protection = nil
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Method: "Close"})
	e.closed = true
	e.handlers = make(map[engine.EventType]engine.Handler)
	return nil
}

// Emit delivers an event to the registered handler, if any.
func (e *Engine) Emit(ev engine.Event) {
	e.mu.Lock()
	h := e.handlers[ev.Type]
	e.mu.Unlock()

	if h != nil {
		h(ev)
	}
}

// SetPosition moves the playback position without recording a call.
func (e *Engine) SetPosition(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = seconds
}

// SetDuration sets the media length reported by Duration without recording a call.
func (e *Engine) SetDuration(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.duration = seconds
}

// Calls returns a copy of the recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Methods returns the names of the recorded calls in order.
func (e *Engine) Methods() []string {
	calls := e.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// Handlers reports how many event handlers are registered.
func (e *Engine) Handlers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

// Protection returns the protection data last applied.
func (e *Engine) Protection() protection.Data {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protection
}

// Settings returns the settings last applied.
func (e *Engine) Settings() engine.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Paused reports whether playback is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
