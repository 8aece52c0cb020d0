// Package mpv implements the engine contract on top of an mpv process
// controlled through its JSON IPC socket. mpv is started with explicit
// argument slices (no shell interpretation) and an IPC socket at a
// randomized temp path.
package mpv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dashplay/internal/engine"
	"dashplay/internal/protection"
)

var _ engine.Engine = (*Engine)(nil)

// Options configures how mpv is launched.
type Options struct {
	// Path is the mpv binary; empty means "mpv" from PATH.
	Path string
	// ExtraArgs are appended to the mpv command line.
	ExtraArgs []string
	// StartTimeout bounds how long to wait for the IPC socket.
	StartTimeout time.Duration
	// CallTimeout bounds how long to wait for a command reply.
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = "mpv"
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 5 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
	return o
}

// Available checks if the mpv binary exists.
func Available(path string) bool {
	if path == "" {
		path = "mpv"
	}
	_, err := exec.LookPath(path)
	return err == nil
}

// Engine drives one mpv instance.
type Engine struct {
	opts Options
	log  zerolog.Logger

	mu          sync.Mutex
	client      *ipc
	cmd         *exec.Cmd
	exited      chan struct{}
	socketDir   string
	handlers    map[engine.EventType]engine.Handler
	source      string
	initialized bool

	evMu       sync.RWMutex
	evClosed   bool
	events     chan engine.Event
	dispatched chan struct{}
	closeOnce  sync.Once
}

// New returns an engine; mpv itself is started by Initialize.
func New(opts Options, logger zerolog.Logger) *Engine {
	e := &Engine{
		opts:       opts.withDefaults(),
		log:        logger.With().Str("engine", "mpv").Logger(),
		handlers:   make(map[engine.EventType]engine.Handler),
		events:     make(chan engine.Event, 64),
		dispatched: make(chan struct{}),
	}
	go e.dispatchLoop()
	return e
}

// Factory returns an engine.Factory producing mpv engines.
func Factory(opts Options, logger zerolog.Logger) engine.Factory {
	return func() (engine.Engine, error) {
		if !Available(opts.Path) {
			return nil, fmt.Errorf("mpv binary %q not found in PATH", opts.withDefaults().Path)
		}
		return New(opts, logger), nil
	}
}

// attach connects the engine to an already running IPC endpoint.
func (e *Engine) attach(conn net.Conn) {
	e.client = newIPC(conn, e.opts.CallTimeout, e.handleMessage)
}

// sinkArgs translates a sink into mpv options.
func sinkArgs(sink *engine.Sink) []string {
	if sink == nil {
		return nil
	}
	var args []string
	if sink.AudioOnly {
		args = append(args, "--video=no")
	} else if sink.Output != "" {
		args = append(args, "--vo="+sink.Output)
	}
	if sink.Window != 0 {
		args = append(args, "--wid="+strconv.FormatInt(sink.Window, 10))
	}
	return args
}

// launch starts mpv idle with an IPC server and connects to it.
func (e *Engine) launch(sink *engine.Sink) error {
	// Randomized socket dir prevents symlink attacks
	socketDir, err := os.MkdirTemp("", "dashplay-mpv-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for mpv socket: %w", err)
	}
	socketPath := filepath.Join(socketDir, "socket")

	args := []string{
		"--idle=yes",
		"--no-terminal",
		"--force-window=no",
		"--input-ipc-server=" + socketPath,
	}
	args = append(args, sinkArgs(sink)...)
	args = append(args, e.opts.ExtraArgs...)

	cmd := exec.Command(e.opts.Path, args...)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(socketDir)
		return fmt.Errorf("starting mpv: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		// mpv exits non-zero on user quit, which is normal
		_ = cmd.Wait()
		close(exited)
	}()

	conn, err := dialSocket(socketPath, e.opts.StartTimeout, exited)
	if err != nil {
		cmd.Process.Kill()
		<-exited
		os.RemoveAll(socketDir)
		return err
	}

	e.cmd = cmd
	e.exited = exited
	e.socketDir = socketDir
	e.attach(conn)

	e.log.Debug().Int("pid", cmd.Process.Pid).Str("socket", socketPath).Msg("mpv started")
	return nil
}

// dialSocket waits for the IPC socket to appear and connects to it.
func dialSocket(path string, timeout time.Duration, exited <-chan struct{}) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		select {
		case <-exited:
			return nil, errors.New("mpv exited before opening its IPC socket")
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connecting to mpv socket: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// conn returns the IPC client once mpv is running.
func (e *Engine) conn() (*ipc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, errors.New("mpv engine not initialized")
	}
	return e.client, nil
}

func (e *Engine) command(args ...interface{}) (json.RawMessage, error) {
	c, err := e.conn()
	if err != nil {
		return nil, err
	}
	return c.call(args...)
}

func (e *Engine) setProperty(name string, value interface{}) error {
	if _, err := e.command("set_property", name, value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

func (e *Engine) getProperty(name string, v interface{}) error {
	data, err := e.command("get_property", name)
	if err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

func (e *Engine) Initialize(sink *engine.Sink, autoplay bool) error {
	e.mu.Lock()
	needsLaunch := e.client == nil
	var err error
	if needsLaunch {
		err = e.launch(sink)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	return e.setProperty("pause", !autoplay)
}

func (e *Engine) On(t engine.EventType, h engine.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = h
}

func (e *Engine) Off(t engine.EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, t)
}

// SetProtectionData forwards license request headers as HTTP header fields.
// mpv has no key system support, so robustness levels are only reported.
func (e *Engine) SetProtectionData(data protection.Data) error {
	headers := data.Headers()
	if len(headers) > 0 {
		fields := make([]string, 0, len(headers))
		for k, v := range headers {
			fields = append(fields, k+": "+v)
		}
		sort.Strings(fields)
		if err := e.setProperty("http-header-fields", fields); err != nil {
			return err
		}
	}

	schemes := make([]string, 0, len(data))
	for scheme, ks := range data {
		schemes = append(schemes, scheme)
		e.log.Info().
			Str("scheme", scheme).
			Str("video_robustness", ks.VideoRobustness).
			Str("audio_robustness", ks.AudioRobustness).
			Msg("mpv has no key system support; license headers forwarded only")
	}
	sort.Strings(schemes)

	e.emit(engine.Event{
		Type: engine.EventProtectionCreated,
		Data: map[string]any{"keySystems": schemes},
	})
	return nil
}

// mpvLogLevel maps engine log levels onto mpv's request_log_messages levels.
func mpvLogLevel(l engine.LogLevel) string {
	switch l {
	case engine.LogLevelNone:
		return "no"
	case engine.LogLevelFatal:
		return "fatal"
	case engine.LogLevelError:
		return "error"
	case engine.LogLevelWarning:
		return "warn"
	case engine.LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

func (e *Engine) UpdateSettings(s engine.Settings) error {
	if _, err := e.command("request_log_messages", mpvLogLevel(s.Debug.LogLevel)); err != nil {
		return fmt.Errorf("request log messages: %w", err)
	}
	return nil
}

func (e *Engine) AttachSource(uri string) error {
	e.mu.Lock()
	e.source = uri
	e.initialized = false
	e.mu.Unlock()

	if _, err := e.command("loadfile", uri, "replace"); err != nil {
		return fmt.Errorf("load %q: %w", uri, err)
	}
	return nil
}

func (e *Engine) Play() error {
	return e.setProperty("pause", false)
}

func (e *Engine) Pause() error {
	return e.setProperty("pause", true)
}

// readFloat reads a numeric property, treating an unavailable value as zero.
func (e *Engine) readFloat(name string) (float64, error) {
	var v float64
	if err := e.getProperty(name, &v); err != nil {
		if errors.Is(err, errPropertyUnavailable) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func (e *Engine) Time() (float64, error) {
	return e.readFloat("time-pos")
}

func (e *Engine) Duration() (float64, error) {
	return e.readFloat("duration")
}

// Seek jumps to an absolute position. mpv reads a negative absolute target
// as an offset from the end, so targets before the start clamp to zero.
func (e *Engine) Seek(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	if _, err := e.command("seek", seconds, "absolute"); err != nil {
		return fmt.Errorf("seek to %.3f: %w", seconds, err)
	}
	return nil
}

func (e *Engine) PlaybackRate() (float64, error) {
	return e.readFloat("speed")
}

func (e *Engine) SetPlaybackRate(rate float64) error {
	return e.setProperty("speed", rate)
}

func (e *Engine) Volume() (float64, error) {
	v, err := e.readFloat("volume")
	return v / 100, err
}

func (e *Engine) SetVolume(level float64) error {
	return e.setProperty("volume", level*100)
}

func (e *Engine) IsMuted() (bool, error) {
	var muted bool
	if err := e.getProperty("mute", &muted); err != nil {
		return false, err
	}
	return muted, nil
}

func (e *Engine) SetMute(muted bool) error {
	return e.setProperty("mute", muted)
}

// mpvTrack is an entry of mpv's track-list property.
type mpvTrack struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	Lang     string `json:"lang"`
	Title    string `json:"title"`
	Codec    string `json:"codec"`
	Selected bool   `json:"selected"`
}

func mpvTrackType(t engine.MediaType) string {
	if t == engine.Text {
		return "sub"
	}
	return string(t)
}

func (e *Engine) TracksFor(t engine.MediaType) ([]engine.Track, error) {
	var list []mpvTrack
	if err := e.getProperty("track-list", &list); err != nil {
		if errors.Is(err, errPropertyUnavailable) {
			return nil, nil
		}
		return nil, err
	}

	want := mpvTrackType(t)
	var tracks []engine.Track
	for _, mt := range list {
		if mt.Type != want {
			continue
		}
		tracks = append(tracks, engine.Track{
			ID:       mt.ID,
			Type:     t,
			Lang:     mt.Lang,
			Label:    mt.Title,
			Codec:    mt.Codec,
			Selected: mt.Selected,
		})
	}
	return tracks, nil
}

func (e *Engine) SelectAudioLanguage(lang string) error {
	tracks, err := e.TracksFor(engine.Audio)
	if err != nil {
		return err
	}
	for _, t := range tracks {
		if t.HasLanguage(lang) {
			return e.setProperty("aid", t.ID)
		}
	}
	return fmt.Errorf("no audio track for language %q", lang)
}

func (e *Engine) Reset() error {
	e.mu.Lock()
	e.source = ""
	e.initialized = false
	e.mu.Unlock()

	if _, err := e.command("stop"); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// Close quits mpv and releases the socket. It is safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		client := e.client
		cmd := e.cmd
		exited := e.exited
		socketDir := e.socketDir
		e.handlers = make(map[engine.EventType]engine.Handler)
		e.mu.Unlock()

		if client != nil {
			if _, qerr := client.call("quit"); qerr != nil && !errors.Is(qerr, engine.ErrClosed) {
				e.log.Debug().Err(qerr).Msg("quit command failed")
			}
			err = client.close()
		}

		if cmd != nil {
			select {
			case <-exited:
			case <-time.After(e.opts.StartTimeout):
				e.log.Warn().Int("pid", cmd.Process.Pid).Msg("mpv did not exit, killing")
				cmd.Process.Kill()
				<-exited
			}
		}
		if socketDir != "" {
			os.RemoveAll(socketDir)
		}

		e.evMu.Lock()
		e.evClosed = true
		close(e.events)
		e.evMu.Unlock()
		<-e.dispatched
	})
	return err
}

// handleMessage translates mpv events into engine events. It runs on the IPC
// reader goroutine.
func (e *Engine) handleMessage(m message) {
	switch m.Event {
	case "log-message":
		e.emit(engine.Event{
			Type:    engine.EventLog,
			Message: strings.TrimSpace(m.Text),
			Data:    map[string]any{"prefix": m.Prefix, "level": m.Level},
		})
	case "file-loaded":
		e.mu.Lock()
		source := e.source
		e.mu.Unlock()
		e.emit(engine.Event{
			Type: engine.EventManifestLoaded,
			Data: map[string]any{"url": source},
		})
	case "playback-restart":
		e.mu.Lock()
		first := !e.initialized
		e.initialized = true
		source := e.source
		e.mu.Unlock()
		if first {
			e.emit(engine.Event{
				Type: engine.EventStreamInitialized,
				Data: map[string]any{"url": source},
			})
		}
	case "end-file":
		if m.Reason != "error" {
			return
		}
		e.emit(engine.Event{
			Type:  engine.EventError,
			Error: &engine.Error{Message: m.FileError},
		})
	}
}

// emit queues an event for dispatch without blocking the IPC reader.
func (e *Engine) emit(ev engine.Event) {
	e.evMu.RLock()
	defer e.evMu.RUnlock()
	if e.evClosed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.log.Warn().Str("event", string(ev.Type)).Msg("event queue full, dropping event")
	}
}

func (e *Engine) dispatchLoop() {
	defer close(e.dispatched)
	for ev := range e.events {
		e.mu.Lock()
		h := e.handlers[ev.Type]
		e.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}
