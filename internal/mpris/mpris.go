// Package mpris exposes the player on the D-Bus session bus as an
// org.mpris.MediaPlayer2 instance so desktop media keys and tools like
// playerctl can drive it.
package mpris

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dashplay/internal/content"
	"dashplay/internal/player"
)

const (
	BusName     = "org.mpris.MediaPlayer2.dashplay"
	ObjectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	RootIface   = "org.mpris.MediaPlayer2"
	PlayerIface = "org.mpris.MediaPlayer2.Player"

	trackPrefix = "/org/dashplay/track/"
	noTrack     = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")
)

// Playback status values.
const (
	Playing = "Playing"
	Paused  = "Paused"
	Stopped = "Stopped"
)

const (
	minRate = 0.25
	maxRate = 4.0
)

// Controller is the player surface exported on the bus.
type Controller interface {
	player.Interface
	SeekTo(seconds float64) error
	Status() (player.Status, error)
}

// Server serves one player over MPRIS.
type Server struct {
	ctrl Controller
	log  zerolog.Logger

	mu       sync.Mutex
	playback string
	metadata MediaMetadata

	conn  *dbus.Conn
	props *prop.Properties
}

// New returns a server for ctrl. Nothing is exported until Start or Export.
func New(ctrl Controller, logger zerolog.Logger) *Server {
	return &Server{
		ctrl:     ctrl,
		log:      logger.With().Str("component", "mpris").Logger(),
		playback: Stopped,
		metadata: MediaMetadata{"mpris:trackid": dbus.MakeVariant(noTrack)},
	}
}

// Loaded records content loaded outside the bus so metadata and status match.
func (s *Server) Loaded(uri, title string, playing bool) {
	status := Paused
	if playing {
		status = Playing
	}
	s.setTrack(uri, title)
	s.setPlayback(status)
}

// Start connects to the session bus, exports the player and claims BusName.
func (s *Server) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connecting to session bus: %w", err)
	}
	if err := s.Export(conn); err != nil {
		conn.Close()
		return err
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("requesting bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already taken", BusName)
	}
	s.log.Info().Str("name", BusName).Msg("mpris exported")
	return nil
}

// Export publishes the MPRIS objects on conn.
func (s *Server) Export(conn *dbus.Conn) error {
	s.mu.Lock()
	playback, md := s.playback, s.metadata
	s.mu.Unlock()

	root := &rootObject{}
	pl := &playerObject{s: s}

	if err := conn.Export(root, ObjectPath, RootIface); err != nil {
		return fmt.Errorf("exporting %s: %w", RootIface, err)
	}
	if err := conn.Export(pl, ObjectPath, PlayerIface); err != nil {
		return fmt.Errorf("exporting %s: %w", PlayerIface, err)
	}

	props, err := prop.Export(conn, ObjectPath, prop.Map{
		RootIface: {
			"CanQuit":             {Value: false, Emit: prop.EmitTrue},
			"CanRaise":            {Value: false, Emit: prop.EmitTrue},
			"HasTrackList":        {Value: false, Emit: prop.EmitTrue},
			"Identity":            {Value: "dashplay", Emit: prop.EmitTrue},
			"SupportedUriSchemes": {Value: []string{"http", "https", "file"}, Emit: prop.EmitTrue},
			"SupportedMimeTypes":  {Value: []string{"application/dash+xml"}, Emit: prop.EmitTrue},
		},
		PlayerIface: {
			"PlaybackStatus": {Value: playback, Emit: prop.EmitTrue},
			"Metadata":       {Value: map[string]dbus.Variant(md), Emit: prop.EmitTrue},
			"Position":       {Value: int64(0), Emit: prop.EmitFalse},
			"Rate":           {Value: 1.0, Writable: true, Emit: prop.EmitTrue, Callback: s.setRate},
			"Volume":         {Value: 1.0, Writable: true, Emit: prop.EmitTrue, Callback: s.setVolume},
			"MinimumRate":    {Value: minRate, Emit: prop.EmitTrue},
			"MaximumRate":    {Value: maxRate, Emit: prop.EmitTrue},
			"CanGoNext":      {Value: false, Emit: prop.EmitTrue},
			"CanGoPrevious":  {Value: false, Emit: prop.EmitTrue},
			"CanPlay":        {Value: true, Emit: prop.EmitTrue},
			"CanPause":       {Value: true, Emit: prop.EmitTrue},
			"CanSeek":        {Value: true, Emit: prop.EmitTrue},
			"CanControl":     {Value: true, Emit: prop.EmitFalse},
		},
	})
	if err != nil {
		return fmt.Errorf("exporting properties: %w", err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       RootIface,
				Methods:    introspect.Methods(root),
				Properties: props.Introspection(RootIface),
			},
			{
				Name:       PlayerIface,
				Methods:    introspect.Methods(pl),
				Properties: props.Introspection(PlayerIface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("exporting introspection: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.props = props
	s.mu.Unlock()
	return nil
}

// Run refreshes Position, Rate and Volume from the player until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh()
		}
	}
}

// Refresh copies the player's current state into the exported properties.
func (s *Server) Refresh() {
	st, err := s.ctrl.Status()
	if errors.Is(err, player.ErrNotLoaded) {
		s.setPlayback(Stopped)
		return
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("reading status")
		return
	}
	s.setProp(PlayerIface, "Position", int64(st.Position*1e6))
	s.setProp(PlayerIface, "Rate", st.Rate)
	s.setProp(PlayerIface, "Volume", st.Volume)
}

// Close releases the bus connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn, s.props = nil, nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Playback returns the current PlaybackStatus.
func (s *Server) Playback() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

// Metadata returns the current track metadata.
func (s *Server) Metadata() MediaMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

func (s *Server) setPlayback(status string) {
	s.mu.Lock()
	s.playback = status
	s.mu.Unlock()
	s.setProp(PlayerIface, "PlaybackStatus", status)
}

func (s *Server) setTrack(uri, title string) {
	id := dbus.ObjectPath(trackPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
	md := newMetadata(id, uri, title)
	s.mu.Lock()
	s.metadata = md
	s.mu.Unlock()
	s.setProp(PlayerIface, "Metadata", map[string]dbus.Variant(md))
}

func (s *Server) clearTrack() {
	md := MediaMetadata{"mpris:trackid": dbus.MakeVariant(noTrack)}
	s.mu.Lock()
	s.metadata = md
	s.mu.Unlock()
	s.setProp(PlayerIface, "Metadata", map[string]dbus.Variant(md))
}

func (s *Server) setProp(iface, name string, v interface{}) {
	s.mu.Lock()
	props := s.props
	s.mu.Unlock()
	if props != nil {
		props.SetMust(iface, name, v)
	}
}

// do runs a player command and moves to status on success.
func (s *Server) do(action string, fn func() error, status string) *dbus.Error {
	if err := fn(); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("mpris command failed")
		return dbus.MakeFailedError(err)
	}
	s.log.Debug().Str("action", action).Msg("mpris command")
	if status != "" {
		s.setPlayback(status)
	}
	return nil
}

func (s *Server) setRate(c *prop.Change) *dbus.Error {
	rate, ok := c.Value.(float64)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("rate must be a double"))
	}
	if rate < minRate {
		rate = minRate
	}
	if rate > maxRate {
		rate = maxRate
	}
	return s.do("rate", func() error { return s.ctrl.PlaybackRate(rate) }, "")
}

func (s *Server) setVolume(c *prop.Change) *dbus.Error {
	level, ok := c.Value.(float64)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("volume must be a double"))
	}
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return s.do("volume", func() error { return s.ctrl.Volume(level) }, "")
}

type rootObject struct{}

func (rootObject) Raise() *dbus.Error { return nil }
func (rootObject) Quit() *dbus.Error { return nil }

// playerObject carries only the exported org.mpris.MediaPlayer2.Player methods.
type playerObject struct {
	s *Server
}

func (p *playerObject) Next() *dbus.Error     { return nil }
func (p *playerObject) Previous() *dbus.Error { return nil }

func (p *playerObject) Play() *dbus.Error {
	return p.s.do("play", p.s.ctrl.Play, Playing)
}

func (p *playerObject) Pause() *dbus.Error {
	return p.s.do("pause", p.s.ctrl.Pause, Paused)
}

func (p *playerObject) PlayPause() *dbus.Error {
	if p.s.Playback() == Playing {
		return p.Pause()
	}
	return p.Play()
}

// Stop unloads the content.
func (p *playerObject) Stop() *dbus.Error {
	if err := p.s.do("stop", p.s.ctrl.Unload, Stopped); err != nil {
		return err
	}
	p.s.clearTrack()
	p.s.setProp(PlayerIface, "Position", int64(0))
	return nil
}

// Seek moves offset microseconds relative to the current position,
// stopping at the start.
func (p *playerObject) Seek(offset int64) *dbus.Error {
	if offset == 0 {
		return nil
	}
	return p.s.do("seek", func() error {
		st, err := p.s.ctrl.Status()
		if err != nil {
			return err
		}
		target := st.Position + float64(offset)/1e6
		if target < 0 {
			target = 0
		}
		return p.s.ctrl.SeekTo(target)
	}, "")
}

// SetPosition seeks to position microseconds if track is the current track.
func (p *playerObject) SetPosition(track dbus.ObjectPath, position int64) *dbus.Error {
	if track != p.s.Metadata().TrackID() || position < 0 {
		return nil
	}
	return p.s.do("set position", func() error {
		return p.s.ctrl.SeekTo(float64(position) / 1e6)
	}, "")
}

// OpenUri loads uri as clear content and starts playback.
func (p *playerObject) OpenUri(uri string) *dbus.Error {
	err := p.s.do("open", func() error {
		return p.s.ctrl.Load(content.Descriptor{URI: uri}, true)
	}, Playing)
	if err != nil {
		return err
	}
	p.s.setTrack(uri, "")
	return nil
}
