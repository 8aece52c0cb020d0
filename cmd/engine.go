package cmd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"dashplay/internal/config"
	"dashplay/internal/engine"
	"dashplay/internal/engine/mpv"
	"dashplay/internal/engine/virtual"
	"dashplay/internal/player"
)

// newFactory returns the engine factory for the configured backend.
func newFactory(c *config.Config, log zerolog.Logger) (engine.Factory, error) {
	switch strings.ToLower(c.Engine) {
	case "mpv":
		return mpv.Factory(mpv.Options{Path: c.MPVPath}, log), nil
	case "virtual":
		return virtual.Factory(log, virtual.DefaultTracks, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownBackend, c.Engine)
	}
}

// newAdapter builds a player adapter for the configured backend.
func newAdapter(c *config.Config, log zerolog.Logger) (*player.Adapter, error) {
	factory, err := newFactory(c, log)
	if err != nil {
		return nil, err
	}
	opts := player.Options{
		Sink: &engine.Sink{
			Output:    c.VideoOut,
			AudioOnly: c.AudioOnly,
		},
		SeekStep: c.SeekStep,
	}
	return player.New(factory, opts, log), nil
}
