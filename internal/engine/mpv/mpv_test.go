package mpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dashplay/internal/engine"
	"dashplay/internal/protection"
)

// fakeMPV answers IPC commands the way mpv does, backed by a property map.
type fakeMPV struct {
	conn net.Conn

	mu       sync.Mutex
	props    map[string]interface{}
	commands [][]interface{}

	writeMu sync.Mutex
}

func newFakeMPV(t *testing.T) (*fakeMPV, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	f := &fakeMPV{
		conn:  server,
		props: make(map[string]interface{}),
	}
	go f.serve()
	t.Cleanup(func() { server.Close() })
	return f, client
}

func (f *fakeMPV) serve() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		var req struct {
			Command   []interface{} `json:"command"`
			RequestID int64         `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || len(req.Command) == 0 {
			continue
		}

		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		resp := map[string]interface{}{"request_id": req.RequestID, "error": "success"}
		switch req.Command[0] {
		case "get_property":
			if v, ok := f.props[req.Command[1].(string)]; ok {
				resp["data"] = v
			} else {
				resp["error"] = "property unavailable"
			}
		case "set_property":
			f.props[req.Command[1].(string)] = req.Command[2]
		}
		f.mu.Unlock()

		f.send(resp)
		if req.Command[0] == "quit" {
			f.conn.Close()
			return
		}
	}
}

func (f *fakeMPV) send(v interface{}) {
	data, _ := json.Marshal(v)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.conn.Write(append(data, '\n'))
}

func (f *fakeMPV) set(name string, v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[name] = v
}

func (f *fakeMPV) prop(name string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[name]
}

func (f *fakeMPV) sent(name string) [][]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]interface{}
	for _, c := range f.commands {
		if c[0] == name {
			out = append(out, c)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeMPV) {
	t.Helper()
	e := New(Options{CallTimeout: 2 * time.Second, StartTimeout: time.Second}, zerolog.Nop())
	f, conn := newFakeMPV(t)
	e.attach(conn)
	t.Cleanup(func() { e.Close() })
	return e, f
}

func waitEvent(t *testing.T, ch <-chan engine.Event) engine.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return engine.Event{}
	}
}

func TestInitializeSetsPause(t *testing.T) {
	e, f := newTestEngine(t)

	if err := e.Initialize(nil, false); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if f.prop("pause") != true {
		t.Errorf("pause = %v, want true without autoplay", f.prop("pause"))
	}

	if err := e.Initialize(nil, true); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if f.prop("pause") != false {
		t.Errorf("pause = %v, want false with autoplay", f.prop("pause"))
	}
}

func TestPlayPause(t *testing.T) {
	e, f := newTestEngine(t)

	e.Play()
	if f.prop("pause") != false {
		t.Errorf("pause after Play = %v", f.prop("pause"))
	}
	e.Pause()
	if f.prop("pause") != true {
		t.Errorf("pause after Pause = %v", f.prop("pause"))
	}
}

func TestTime(t *testing.T) {
	e, f := newTestEngine(t)

	pos, err := e.Time()
	if err != nil {
		t.Fatalf("Time() with no file error: %v", err)
	}
	if pos != 0 {
		t.Errorf("Time() with no file = %v, want 0", pos)
	}

	f.set("time-pos", 42.5)
	pos, err = e.Time()
	if err != nil {
		t.Fatal(err)
	}
	if pos != 42.5 {
		t.Errorf("Time() = %v, want 42.5", pos)
	}
}

func TestDuration(t *testing.T) {
	e, f := newTestEngine(t)

	d, err := e.Duration()
	if err != nil {
		t.Fatalf("Duration() with no file error: %v", err)
	}
	if d != 0 {
		t.Errorf("Duration() with no file = %v, want 0", d)
	}

	f.set("duration", 3600.0)
	if d, _ = e.Duration(); d != 3600 {
		t.Errorf("Duration() = %v, want 3600", d)
	}
}

func TestSeek(t *testing.T) {
	e, f := newTestEngine(t)

	if err := e.Seek(52.5); err != nil {
		t.Fatal(err)
	}

	seeks := f.sent("seek")
	if len(seeks) != 1 {
		t.Fatalf("got %d seek commands, want 1", len(seeks))
	}
	want := []interface{}{"seek", 52.5, "absolute"}
	if !reflect.DeepEqual(seeks[0], want) {
		t.Errorf("seek command = %v, want %v", seeks[0], want)
	}
}

func TestSeekBeforeStartClampsToZero(t *testing.T) {
	e, f := newTestEngine(t)

	if err := e.Seek(-7); err != nil {
		t.Fatal(err)
	}

	seeks := f.sent("seek")
	if len(seeks) != 1 {
		t.Fatalf("got %d seek commands, want 1", len(seeks))
	}
	want := []interface{}{"seek", 0.0, "absolute"}
	if !reflect.DeepEqual(seeks[0], want) {
		t.Errorf("seek command = %v, want %v", seeks[0], want)
	}
}

func TestVolumeScaling(t *testing.T) {
	e, f := newTestEngine(t)

	f.set("volume", 80.0)
	v, err := e.Volume()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0.8 {
		t.Errorf("Volume() = %v, want 0.8", v)
	}

	e.SetVolume(0.5)
	if f.prop("volume") != 50.0 {
		t.Errorf("volume property = %v, want 50", f.prop("volume"))
	}
}

func TestRateAndMute(t *testing.T) {
	e, f := newTestEngine(t)

	f.set("speed", 1.0)
	f.set("mute", false)

	if r, _ := e.PlaybackRate(); r != 1 {
		t.Errorf("PlaybackRate() = %v, want 1", r)
	}
	e.SetPlaybackRate(1.5)
	if f.prop("speed") != 1.5 {
		t.Errorf("speed = %v, want 1.5", f.prop("speed"))
	}

	if m, _ := e.IsMuted(); m {
		t.Error("IsMuted() = true, want false")
	}
	e.SetMute(true)
	if f.prop("mute") != true {
		t.Errorf("mute = %v, want true", f.prop("mute"))
	}
}

func TestTracks(t *testing.T) {
	e, f := newTestEngine(t)

	f.set("track-list", []interface{}{
		map[string]interface{}{"id": 1, "type": "video", "codec": "h264", "selected": true},
		map[string]interface{}{"id": 1, "type": "audio", "lang": "en", "codec": "aac", "selected": true},
		map[string]interface{}{"id": 2, "type": "audio", "lang": "de", "title": "Deutsch", "codec": "aac"},
		map[string]interface{}{"id": 1, "type": "sub", "lang": "en"},
	})

	audio, err := e.TracksFor(engine.Audio)
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) != 2 {
		t.Fatalf("got %d audio tracks, want 2", len(audio))
	}
	if audio[1].Lang != "de" || audio[1].Label != "Deutsch" || audio[1].ID != 2 {
		t.Errorf("audio[1] = %+v", audio[1])
	}

	subs, _ := e.TracksFor(engine.Text)
	if len(subs) != 1 || subs[0].Type != engine.Text {
		t.Errorf("text tracks = %+v", subs)
	}

	if err := e.SelectAudioLanguage("DE"); err != nil {
		t.Fatalf("SelectAudioLanguage(DE) error: %v", err)
	}
	if f.prop("aid") != 2.0 {
		t.Errorf("aid = %v, want 2", f.prop("aid"))
	}

	if err := e.SelectAudioLanguage("fr"); err == nil {
		t.Error("SelectAudioLanguage(fr) should fail")
	}
}

func TestSelectUntaggedAudio(t *testing.T) {
	e, f := newTestEngine(t)

	f.set("track-list", []interface{}{
		map[string]interface{}{"id": 1, "type": "audio", "lang": "en", "selected": true},
		map[string]interface{}{"id": 2, "type": "audio"},
	})

	audio, err := e.TracksFor(engine.Audio)
	if err != nil {
		t.Fatal(err)
	}
	langs := engine.Languages(audio)
	if len(langs) != 2 || langs[1] != engine.Undetermined {
		t.Fatalf("Languages() = %v", langs)
	}

	if err := e.SelectAudioLanguage(langs[1]); err != nil {
		t.Fatalf("SelectAudioLanguage(%s) error: %v", langs[1], err)
	}
	if f.prop("aid") != 2.0 {
		t.Errorf("aid = %v, want 2", f.prop("aid"))
	}
}

func TestTracksUnavailable(t *testing.T) {
	e, _ := newTestEngine(t)

	tracks, err := e.TracksFor(engine.Audio)
	if err != nil {
		t.Fatalf("TracksFor() error: %v", err)
	}
	if tracks != nil {
		t.Errorf("TracksFor() = %v, want nil", tracks)
	}
}

func TestSetProtectionData(t *testing.T) {
	e, f := newTestEngine(t)

	created := make(chan engine.Event, 1)
	e.On(engine.EventProtectionCreated, func(ev engine.Event) { created <- ev })

	data := protection.Data{
		"com.widevine.alpha": {
			ServerURL:          "https://license.example.com",
			VideoRobustness:    protection.HardwareAll,
			AudioRobustness:    protection.SoftwareCrypto,
			HTTPRequestHeaders: map[string]string{"X-B": "2", "X-A": "1"},
		},
	}
	if err := e.SetProtectionData(data); err != nil {
		t.Fatal(err)
	}

	want := []interface{}{"X-A: 1", "X-B: 2"}
	if got := f.prop("http-header-fields"); !reflect.DeepEqual(got, want) {
		t.Errorf("http-header-fields = %v, want %v", got, want)
	}

	ev := waitEvent(t, created)
	if !reflect.DeepEqual(ev.Data["keySystems"], []string{"com.widevine.alpha"}) {
		t.Errorf("keySystems = %v", ev.Data["keySystems"])
	}
}

func TestUpdateSettings(t *testing.T) {
	e, f := newTestEngine(t)

	if err := e.UpdateSettings(engine.Settings{Debug: engine.DebugSettings{LogLevel: engine.LogLevelInfo}}); err != nil {
		t.Fatal(err)
	}

	got := f.sent("request_log_messages")
	if len(got) != 1 || got[0][1] != "info" {
		t.Errorf("request_log_messages = %v", got)
	}
}

func TestEventMapping(t *testing.T) {
	e, f := newTestEngine(t)

	events := make(chan engine.Event, 16)
	for _, et := range engine.Events {
		e.On(et, func(ev engine.Event) { events <- ev })
	}

	if err := e.AttachSource("https://cdn.example.com/a.mpd"); err != nil {
		t.Fatal(err)
	}

	f.send(map[string]interface{}{"event": "file-loaded"})
	ev := waitEvent(t, events)
	if ev.Type != engine.EventManifestLoaded || ev.Data["url"] != "https://cdn.example.com/a.mpd" {
		t.Errorf("file-loaded mapped to %+v", ev)
	}

	f.send(map[string]interface{}{"event": "playback-restart"})
	f.send(map[string]interface{}{"event": "playback-restart"})
	f.send(map[string]interface{}{"event": "log-message", "prefix": "cplayer", "level": "info", "text": "Playing: a.mpd\n"})

	ev = waitEvent(t, events)
	if ev.Type != engine.EventStreamInitialized {
		t.Errorf("first playback-restart mapped to %s", ev.Type)
	}
	ev = waitEvent(t, events)
	if ev.Type != engine.EventLog || ev.Message != "Playing: a.mpd" || ev.Data["prefix"] != "cplayer" {
		t.Errorf("log-message mapped to %+v (second playback-restart must not re-emit)", ev)
	}

	f.send(map[string]interface{}{"event": "end-file", "reason": "eof"})
	f.send(map[string]interface{}{"event": "end-file", "reason": "error", "file_error": "loading failed"})
	ev = waitEvent(t, events)
	if ev.Type != engine.EventError || ev.Error == nil || ev.Error.Message != "loading failed" {
		t.Errorf("end-file error mapped to %+v", ev)
	}

	seen := f.sent("loadfile")
	if len(seen) != 1 || seen[0][1] != "https://cdn.example.com/a.mpd" || seen[0][2] != "replace" {
		t.Errorf("loadfile = %v", seen)
	}
}

func TestOffRemovesHandler(t *testing.T) {
	e, f := newTestEngine(t)

	events := make(chan engine.Event, 4)
	e.On(engine.EventLog, func(ev engine.Event) { events <- ev })
	e.Off(engine.EventLog)
	e.On(engine.EventManifestLoaded, func(ev engine.Event) { events <- ev })

	f.send(map[string]interface{}{"event": "log-message", "text": "ignored"})
	f.send(map[string]interface{}{"event": "file-loaded"})

	if ev := waitEvent(t, events); ev.Type != engine.EventManifestLoaded {
		t.Errorf("got %s, want only manifestLoaded", ev.Type)
	}
}

func TestResetStops(t *testing.T) {
	e, f := newTestEngine(t)

	if err := e.Reset(); err != nil {
		t.Fatal(err)
	}
	if len(f.sent("stop")) != 1 {
		t.Error("Reset() did not send stop")
	}
}

func TestClose(t *testing.T) {
	e, f := newTestEngine(t)

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if len(f.sent("quit")) != 1 {
		t.Error("Close() did not send quit")
	}

	if err := e.Play(); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("Play() after Close = %v, want ErrClosed", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestNotInitialized(t *testing.T) {
	e := New(Options{}, zerolog.Nop())
	defer e.Close()

	if err := e.Play(); err == nil {
		t.Error("Play() before Initialize should fail")
	}
}

func TestSinkArgs(t *testing.T) {
	tests := []struct {
		name string
		sink *engine.Sink
		want []string
	}{
		{"nil", nil, nil},
		{"default", &engine.Sink{}, nil},
		{"audio only", &engine.Sink{AudioOnly: true, Output: "gpu"}, []string{"--video=no"}},
		{"output", &engine.Sink{Output: "gpu"}, []string{"--vo=gpu"}},
		{"window", &engine.Sink{Window: 4242}, []string{"--wid=4242"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sinkArgs(tt.sink); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sinkArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMPVLogLevel(t *testing.T) {
	tests := map[engine.LogLevel]string{
		engine.LogLevelNone:    "no",
		engine.LogLevelFatal:   "fatal",
		engine.LogLevelError:   "error",
		engine.LogLevelWarning: "warn",
		engine.LogLevelInfo:    "info",
		engine.LogLevelDebug:   "debug",
	}
	for level, want := range tests {
		if got := mpvLogLevel(level); got != want {
			t.Errorf("mpvLogLevel(%s) = %q, want %q", level, got, want)
		}
	}
}
