// Package player adapts a streaming engine to the generic player command
// surface used by the host. It translates load/play/pause/seek/volume/track
// calls into engine calls and re-emits engine events as log lines.
package player

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"dashplay/internal/content"
	"dashplay/internal/engine"
	"dashplay/internal/httputil"
	"dashplay/internal/protection"
)

// DefaultSeekStep is how far SeekBack and SeekFront move, in seconds.
const DefaultSeekStep = 10

// ErrNotLoaded is returned by commands issued while no engine is held.
var ErrNotLoaded = errors.New("player: no content loaded")

// Interface is the generic command surface the host drives.
type Interface interface {
	Load(c content.Descriptor, autoplay bool) error
	Play() error
	Pause() error
	SeekBack() error
	SeekFront() error
	Unload() error
	PlaybackRate(rate float64) error
	Volume(level float64) error
	Mute(mute bool) error
	AudioLanguages() ([]string, error)
	SelectAudioLanguage(lang string) error
}

// Options configures an Adapter.
type Options struct {
	// Sink is the media output handed to every engine on initialize.
	Sink *engine.Sink
	// SeekStep overrides DefaultSeekStep when positive.
	SeekStep float64
}

// Status is a snapshot of the loaded engine's playback state.
type Status struct {
	URI         string
	Position    float64
	Duration    float64
	Rate        float64
	Volume      float64
	Muted       bool
	AudioTracks []engine.Track
}

// Adapter owns at most one engine instance at a time.
type Adapter struct {
	newEngine engine.Factory
	sink      *engine.Sink
	seekStep  float64
	log       zerolog.Logger
	handlers  map[engine.EventType]engine.Handler

	mu      sync.Mutex
	eng     engine.Engine
	content content.Descriptor
}

var _ Interface = (*Adapter)(nil)

// New returns an unloaded adapter creating engines from factory.
func New(factory engine.Factory, opts Options, logger zerolog.Logger) *Adapter {
	a := &Adapter{
		newEngine: factory,
		sink:      opts.Sink,
		seekStep:  opts.SeekStep,
		log:       logger.With().Str("component", "player").Logger(),
	}
	if a.seekStep <= 0 {
		a.seekStep = DefaultSeekStep
	}
	a.handlers = map[engine.EventType]engine.Handler{
		engine.EventError:             a.onError,
		engine.EventLog:               a.onLog,
		engine.EventManifestLoaded:    a.onManifestLoaded,
		engine.EventStreamInitialized: a.onStreamInitialized,
		engine.EventProtectionCreated: a.onProtectionCreated,
	}
	return a
}

// Load creates a fresh engine, configures it for c and attaches c's URI as
// the playback source. Any previously loaded engine is unloaded first.
func (a *Adapter) Load(c content.Descriptor, autoplay bool) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid content: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.eng != nil {
		a.log.Info().Str("uri", a.content.URI).Msg("replacing loaded content")
		if err := a.unloadLocked(); err != nil {
			a.log.Warn().Err(err).Msg("unloading previous content")
		}
	}

	a.log.Debug().Msg("creating engine")
	eng, err := a.newEngine()
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	for _, t := range engine.Events {
		eng.On(t, a.handlers[t])
	}

	if err := eng.Initialize(a.sink, autoplay); err != nil {
		a.discard(eng)
		return fmt.Errorf("initializing engine: %w", err)
	}
	a.log.Debug().Bool("autoplay", autoplay).Msg("engine initialized")

	if data, ok := protection.Build(c); ok {
		a.log.Info().
			Str("scheme", c.DRMScheme).
			Str("license_uri", c.DRMLicenseURI).
			Bool("secure", c.IsSecure()).
			Msg("loading protected content")
		if err := eng.SetProtectionData(data); err != nil {
			a.discard(eng)
			return fmt.Errorf("setting protection data: %w", err)
		}
	}

	settings := engine.Settings{Debug: engine.DebugSettings{LogLevel: engine.LogLevelInfo}}
	if err := eng.UpdateSettings(settings); err != nil {
		a.discard(eng)
		return fmt.Errorf("updating engine settings: %w", err)
	}

	if err := eng.AttachSource(c.URI); err != nil {
		a.discard(eng)
		return fmt.Errorf("attaching source: %w", err)
	}
	a.log.Info().Str("uri", c.URI).Msg("source attached")

	a.eng = eng
	a.content = c
	return nil
}

// discard releases an engine that never became the loaded one.
func (a *Adapter) discard(eng engine.Engine) {
	for _, t := range engine.Events {
		eng.Off(t)
	}
	if err := eng.Close(); err != nil {
		a.log.Debug().Err(err).Msg("closing failed engine")
	}
}

// Unload detaches event handlers, releases the engine and returns the adapter
// to its unloaded state. Unloading an unloaded adapter is a no-op.
func (a *Adapter) Unload() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.log.Info().Msg("unload")
	if a.eng == nil {
		return nil
	}
	return a.unloadLocked()
}

func (a *Adapter) unloadLocked() error {
	eng := a.eng
	a.eng = nil
	a.content = content.Descriptor{}

	for _, t := range engine.Events {
		eng.Off(t)
	}
	if err := eng.Reset(); err != nil {
		a.log.Debug().Err(err).Msg("engine reset failed")
	}
	if err := eng.Close(); err != nil {
		return fmt.Errorf("closing engine: %w", err)
	}
	return nil
}

// with runs fn against the loaded engine.
func (a *Adapter) with(fn func(engine.Engine) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return ErrNotLoaded
	}
	return fn(a.eng)
}

// Loaded reports whether an engine is held.
func (a *Adapter) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng != nil
}

// Content returns the descriptor of the loaded content.
func (a *Adapter) Content() (content.Descriptor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content, a.eng != nil
}

func (a *Adapter) Play() error {
	return a.with(func(eng engine.Engine) error {
		return eng.Play()
	})
}

func (a *Adapter) Pause() error {
	return a.with(func(eng engine.Engine) error {
		return eng.Pause()
	})
}

// SeekBack moves the position back by the seek step.
func (a *Adapter) SeekBack() error {
	return a.seekBy(-a.seekStep, "seek back")
}

// SeekFront moves the position forward by the seek step.
func (a *Adapter) SeekFront() error {
	return a.seekBy(a.seekStep, "seek front")
}

// seekBy seeks relative to the current position. A zero or unknown position
// is indistinguishable from "no position yet" and never seeks.
func (a *Adapter) seekBy(delta float64, what string) error {
	return a.with(func(eng engine.Engine) error {
		pos, err := eng.Time()
		if err != nil {
			return fmt.Errorf("reading position: %w", err)
		}
		if pos == 0 || math.IsNaN(pos) {
			a.log.Debug().Msg(what + ": position unknown, not seeking")
			return nil
		}

		target := pos + delta
		a.log.Info().Float64("from", pos).Float64("to", target).Msg(what)
		return eng.Seek(target)
	})
}

// SeekTo seeks to an absolute position, used when resuming.
func (a *Adapter) SeekTo(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		return fmt.Errorf("invalid position %v", seconds)
	}
	return a.with(func(eng engine.Engine) error {
		a.log.Info().Float64("to", seconds).Msg("seek")
		return eng.Seek(seconds)
	})
}

func (a *Adapter) PlaybackRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("invalid playback rate %v", rate)
	}
	return a.with(func(eng engine.Engine) error {
		current, err := eng.PlaybackRate()
		if err != nil {
			a.log.Debug().Err(err).Msg("reading playback rate")
		}
		a.log.Info().Float64("from", current).Float64("to", rate).Msg("set playback rate")
		return eng.SetPlaybackRate(rate)
	})
}

// Volume sets the output volume in the range 0.0 to 1.0.
func (a *Adapter) Volume(level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return fmt.Errorf("volume %v out of range [0, 1]", level)
	}
	return a.with(func(eng engine.Engine) error {
		current, err := eng.Volume()
		if err != nil {
			a.log.Debug().Err(err).Msg("reading volume")
		}
		a.log.Info().Float64("from", current).Float64("to", level).Msg("set volume")
		return eng.SetVolume(level)
	})
}

func (a *Adapter) Mute(mute bool) error {
	return a.with(func(eng engine.Engine) error {
		current, err := eng.IsMuted()
		if err != nil {
			a.log.Debug().Err(err).Msg("reading mute state")
		}
		a.log.Info().Bool("from", current).Bool("to", mute).Msg("set mute")
		return eng.SetMute(mute)
	})
}

// AudioLanguages returns the languages of the available audio tracks.
func (a *Adapter) AudioLanguages() ([]string, error) {
	var langs []string
	err := a.with(func(eng engine.Engine) error {
		tracks, err := eng.TracksFor(engine.Audio)
		if err != nil {
			return fmt.Errorf("listing audio tracks: %w", err)
		}
		langs = engine.Languages(tracks)
		return nil
	})
	return langs, err
}

func (a *Adapter) SelectAudioLanguage(lang string) error {
	if err := httputil.ValidateLanguage(lang); err != nil {
		return err
	}
	return a.with(func(eng engine.Engine) error {
		a.log.Info().Str("language", lang).Msg("select audio language")
		return eng.SelectAudioLanguage(lang)
	})
}

// Status reads a snapshot of the playback state from the engine.
func (a *Adapter) Status() (Status, error) {
	var st Status
	err := a.with(func(eng engine.Engine) error {
		var err error
		st.URI = a.content.URI
		if st.Position, err = eng.Time(); err != nil {
			return fmt.Errorf("reading position: %w", err)
		}
		if st.Duration, err = eng.Duration(); err != nil {
			return fmt.Errorf("reading duration: %w", err)
		}
		if st.Rate, err = eng.PlaybackRate(); err != nil {
			return fmt.Errorf("reading playback rate: %w", err)
		}
		if st.Volume, err = eng.Volume(); err != nil {
			return fmt.Errorf("reading volume: %w", err)
		}
		if st.Muted, err = eng.IsMuted(); err != nil {
			return fmt.Errorf("reading mute state: %w", err)
		}
		if st.AudioTracks, err = eng.TracksFor(engine.Audio); err != nil {
			return fmt.Errorf("listing audio tracks: %w", err)
		}
		return nil
	})
	return st, err
}

func (a *Adapter) onError(ev engine.Event) {
	a.log.Error().Str("event", string(ev.Type)).Interface("error", ev.Error).Msg("engine error")
}

func (a *Adapter) onLog(ev engine.Event) {
	a.log.Info().Str("event", string(ev.Type)).Str("message", ev.Message).Interface("data", ev.Data).Msg("engine log")
}

func (a *Adapter) onManifestLoaded(ev engine.Event) {
	a.log.Info().Str("event", string(ev.Type)).Interface("data", ev.Data).Msg("manifest loaded")
}

func (a *Adapter) onStreamInitialized(ev engine.Event) {
	a.log.Info().Str("event", string(ev.Type)).Interface("data", ev.Data).Msg("stream initialized")
}

func (a *Adapter) onProtectionCreated(ev engine.Event) {
	a.log.Info().Str("event", string(ev.Type)).Interface("data", ev.Data).Msg("protection created")
}
