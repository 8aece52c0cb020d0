// Package engine defines the contract of an adaptive-streaming engine as seen
// by the playback adapter. Manifest parsing, segment scheduling, bitrate
// adaptation and license acquisition all happen behind this interface.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"dashplay/internal/protection"
)

// ErrClosed is returned by engine calls made after Close.
var ErrClosed = errors.New("engine closed")

// ErrUnknownBackend is returned when no engine backend matches a name.
var ErrUnknownBackend = errors.New("unknown engine backend")

// EventType names an engine-emitted event.
type EventType string

const (
	EventError             EventType = "error"
	EventLog               EventType = "log"
	EventManifestLoaded    EventType = "manifestLoaded"
	EventStreamInitialized EventType = "streamInitialized"
	EventProtectionCreated EventType = "public_protectioncreated"
)

// Events lists every event type the adapter subscribes to.
var Events = []EventType{
	EventError,
	EventLog,
	EventManifestLoaded,
	EventStreamInitialized,
	EventProtectionCreated,
}

// Error is the payload of an error event.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
	}
	return "engine error: " + e.Message
}

// Event is a single engine notification.
type Event struct {
	Type    EventType      `json:"type"`
	Message string         `json:"message,omitempty"`
	Error   *Error         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Handler receives engine events. Handlers run on an engine-owned goroutine
// and must not block.
type Handler func(Event)

// LogLevel is the engine's debug verbosity.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelFatal
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelNone:
		return "none"
	case LogLevelFatal:
		return "fatal"
	case LogLevelError:
		return "error"
	case LogLevelWarning:
		return "warning"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLogLevel parses a level name as produced by String.
func ParseLogLevel(s string) (LogLevel, error) {
	for l := LogLevelNone; l <= LogLevelDebug; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return LogLevelNone, fmt.Errorf("unknown log level %q", s)
}

// DebugSettings groups the engine's debug options.
type DebugSettings struct {
	LogLevel LogLevel
}

// Settings is the subset of engine settings the adapter updates.
type Settings struct {
	Debug DebugSettings
}

// MediaType selects a class of tracks.
type MediaType string

const (
	Audio MediaType = "audio"
	Video MediaType = "video"
	Text  MediaType = "text"
)

// Track is a selectable media stream exposed by the engine.
type Track struct {
	ID       int       `json:"id"`
	Type     MediaType `json:"type"`
	Lang     string    `json:"lang,omitempty"`
	Label    string    `json:"label,omitempty"`
	Codec    string    `json:"codec,omitempty"`
	Selected bool      `json:"selected"`
}

// Sink is the host-provided media output an engine renders into.
type Sink struct {
	// Output names the video output driver; empty selects the engine default.
	Output string
	// Window embeds video into an existing host window when non-zero.
	Window int64
	// AudioOnly disables video output entirely.
	AudioOnly bool
}

// Engine is the public API of a streaming engine instance.
type Engine interface {
	// Initialize binds the engine to a sink. A nil sink selects defaults.
	Initialize(sink *Sink, autoplay bool) error

	// On registers the handler for an event type, replacing any previous one.
	On(t EventType, h Handler)
	// Off removes the handler for an event type.
	Off(t EventType)

	SetProtectionData(data protection.Data) error
	UpdateSettings(s Settings) error
	AttachSource(uri string) error

	Play() error
	Pause() error

	// Time returns the current position in seconds, or 0 when unknown.
	Time() (float64, error)
	// Duration returns the media length in seconds, or 0 for live or
	// not yet known content.
	Duration() (float64, error)
	Seek(seconds float64) error

	PlaybackRate() (float64, error)
	SetPlaybackRate(rate float64) error

	// Volume is in the range 0.0 to 1.0.
	Volume() (float64, error)
	SetVolume(level float64) error

	IsMuted() (bool, error)
	SetMute(muted bool) error

	TracksFor(t MediaType) ([]Track, error)
	SelectAudioLanguage(lang string) error

	// Reset detaches the current source.
	Reset() error
	// Close releases every resource held by the engine.
	Close() error
}

// Factory creates a fresh engine instance for each load.
type Factory func() (Engine, error)

// Undetermined labels a track that carries no language tag.
const Undetermined = "und"

// HasLanguage reports whether t is tagged lang, ignoring case. Undetermined
// matches an untagged track.
func (t Track) HasLanguage(lang string) bool {
	if t.Lang == "" {
		return strings.EqualFold(lang, Undetermined)
	}
	return strings.EqualFold(t.Lang, lang)
}

// Languages returns the distinct languages of a track list in order.
// Untagged tracks are listed as Undetermined.
func Languages(tracks []Track) []string {
	seen := make(map[string]bool, len(tracks))
	var langs []string
	for _, t := range tracks {
		lang := t.Lang
		if lang == "" {
			lang = Undetermined
		}
		if seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
	}
	return langs
}
