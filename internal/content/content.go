// Package content defines the content descriptor handed to the player at load time.
package content

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"dashplay/internal/httputil"
)

// Well-known key system names.
const (
	PlayReady = "com.microsoft.playready"
	Widevine  = "com.widevine.alpha"
	ClearKey  = "org.w3.clearkey"
)

// Header is a single custom license-request header.
type Header struct {
	Key   string
	Value string
}

// Descriptor identifies a playable asset. It is supplied by the caller
// at load time and never persisted.
type Descriptor struct {
	URI               string
	DRMScheme         string
	DRMLicenseURI     string
	Secure            string
	DRMLicenseHeaders []Header
}

// file is the on-disk shape of a descriptor, using the snake_case keys
// of the host contract.
type file struct {
	URI              string     `toml:"uri"`
	DRMScheme        string     `toml:"drm_scheme"`
	DRMLicenseURI    string     `toml:"drm_license_uri"`
	Secure           string     `toml:"secure"`
	DRMLicenseHeader [][]string `toml:"drm_license_header"`
}

// HasDRM reports whether the descriptor names a DRM scheme.
func (d Descriptor) HasDRM() bool {
	return d.DRMScheme != ""
}

// IsSecure reports whether hardware-backed decryption was requested.
// Only the string "true" counts.
func (d Descriptor) IsSecure() bool {
	return d.Secure == "true"
}

// Validate checks the descriptor before it reaches an engine.
func (d Descriptor) Validate() error {
	if err := httputil.ValidateMediaURI(d.URI); err != nil {
		return fmt.Errorf("content uri: %w", err)
	}
	if !d.HasDRM() {
		return nil
	}
	if d.DRMLicenseURI != "" {
		if err := httputil.ValidateLicenseURL(d.DRMLicenseURI); err != nil {
			return fmt.Errorf("license uri for %s: %w", d.DRMScheme, err)
		}
	}
	for _, h := range d.DRMLicenseHeaders {
		if err := httputil.ValidateHeader(h.Key, h.Value); err != nil {
			return fmt.Errorf("license header: %w", err)
		}
	}
	return nil
}

// LoadFile reads a descriptor from a TOML file.
func LoadFile(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading content file: %w", err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return Descriptor{}, fmt.Errorf("parsing content file %s: %w", path, err)
	}

	d := Descriptor{
		URI:           f.URI,
		DRMScheme:     f.DRMScheme,
		DRMLicenseURI: f.DRMLicenseURI,
		Secure:        f.Secure,
	}
	for i, pair := range f.DRMLicenseHeader {
		if len(pair) != 2 {
			return Descriptor{}, fmt.Errorf("drm_license_header[%d]: want [key, value], got %d elements", i, len(pair))
		}
		d.DRMLicenseHeaders = append(d.DRMLicenseHeaders, Header{Key: pair[0], Value: pair[1]})
	}

	return d, nil
}

// ParseHeader parses a "Key=Value" or "Key: Value" flag value.
func ParseHeader(s string) (Header, error) {
	sep := strings.IndexAny(s, "=:")
	if sep <= 0 {
		return Header{}, fmt.Errorf("header %q must be Key=Value", s)
	}
	return Header{
		Key:   strings.TrimSpace(s[:sep]),
		Value: strings.TrimSpace(s[sep+1:]),
	}, nil
}
