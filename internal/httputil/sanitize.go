// Package httputil provides input sanitization for URIs, headers and language tags
// handed to a playback engine.
package httputil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// headerNamePattern matches RFC 7230 header field names.
	headerNamePattern = regexp.MustCompile("^[!#$%&'*+.^_`|~0-9A-Za-z-]+$")

	// languagePattern matches BCP 47 style language tags and plain track labels.
	languagePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateLicenseURL checks that a license server URL is well-formed http(s)
// with a host. Plain http is allowed for local and test license servers.
func ValidateLicenseURL(rawURL string) error {
	if strings.ContainsAny(rawURL, "\r\n\x00") {
		return fmt.Errorf("URL contains control characters")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("only HTTP(S) URLs are allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// ValidateMediaURI checks that a content URI is something an engine can fetch:
// http(s) with a host, or a local file URI.
func ValidateMediaURI(rawURI string) error {
	if rawURI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if strings.ContainsAny(rawURI, "\r\n\x00") {
		return fmt.Errorf("URI contains control characters")
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return fmt.Errorf("malformed URI: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("URI has no host")
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("file URI has no path")
		}
	default:
		return fmt.Errorf("unsupported URI scheme %q (valid: http, https, file)", u.Scheme)
	}
	return nil
}

// ValidateHeader checks a custom request header before it is forwarded.
func ValidateHeader(key, value string) error {
	if key == "" {
		return fmt.Errorf("header name cannot be empty")
	}
	if !headerNamePattern.MatchString(key) {
		return fmt.Errorf("header name contains invalid characters: %q", key)
	}
	if strings.ContainsAny(value, "\r\n\x00") {
		return fmt.Errorf("header %s value contains control characters", key)
	}
	return nil
}

// ValidateLanguage checks that an audio track language is a plain tag.
func ValidateLanguage(lang string) error {
	if lang == "" {
		return fmt.Errorf("language cannot be empty")
	}
	if len(lang) > 64 {
		return fmt.Errorf("language too long: %d characters", len(lang))
	}
	if !languagePattern.MatchString(lang) {
		return fmt.Errorf("language contains invalid characters: %q", lang)
	}
	return nil
}

// FileURI converts a local path into a file URI, leaving URIs untouched.
func FileURI(pathOrURI string) string {
	if strings.Contains(pathOrURI, "://") {
		return pathOrURI
	}
	u := url.URL{Scheme: "file", Path: pathOrURI}
	return u.String()
}
