package mpris

import (
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// MediaMetadata is a mapping from metadata attribute names to values.
//
// https://www.freedesktop.org/wiki/Specifications/mpris-spec/metadata/
type MediaMetadata map[string]dbus.Variant

func newMetadata(trackID dbus.ObjectPath, uri, title string) MediaMetadata {
	m := MediaMetadata{
		"mpris:trackid": dbus.MakeVariant(trackID),
		"xesam:url":     dbus.MakeVariant(uri),
	}
	if title != "" {
		m["xesam:title"] = dbus.MakeVariant(title)
	}
	return m
}

// TrackID returns the mpris:trackid object path, or "" when absent.
func (m MediaMetadata) TrackID() dbus.ObjectPath {
	v, ok := m["mpris:trackid"]
	if !ok {
		return ""
	}
	p, _ := v.Value().(dbus.ObjectPath)
	return p
}

// Title returns the descriptive title of the content.
func (m MediaMetadata) Title() string {
	return m.str("xesam:title")
}

// URL returns the content URI.
func (m MediaMetadata) URL() string {
	return m.str("xesam:url")
}

// MediaDuration returns the duration of the media.
func (m MediaMetadata) MediaDuration() time.Duration {
	v, ok := m["mpris:length"]
	if !ok {
		return 0
	}
	us, _ := v.Value().(int64)
	return time.Duration(us) * time.Microsecond
}

func (m MediaMetadata) str(name string) string {
	v, ok := m[name]
	if !ok {
		return ""
	}
	s, ok := v.Value().(string)
	if !ok {
		return strings.Trim(v.String(), `"`)
	}
	return s
}
