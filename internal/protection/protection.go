// Package protection builds the per-load DRM protection data handed to a
// streaming engine. It only shapes configuration; key exchange and license
// acquisition happen inside the engine.
package protection

import (
	"dashplay/internal/content"
)

// Robustness levels requested from the content decryption module.
const (
	SoftwareCrypto = "SW_SECURE_CRYPTO"
	HardwareAll    = "HW_SECURE_ALL"

	// PlayReady expresses robustness as numeric security levels.
	PlayReadySoftware = "150"
	PlayReadySecure   = "3000"
)

// DefaultPriority is the key system priority used for every load.
const DefaultPriority = 1

// KeySystem is the protection configuration for one DRM scheme.
type KeySystem struct {
	ServerURL          string            `json:"serverURL,omitempty"`
	AudioRobustness    string            `json:"audioRobustness"`
	VideoRobustness    string            `json:"videoRobustness"`
	Priority           int               `json:"priority"`
	HTTPRequestHeaders map[string]string `json:"httpRequestHeaders,omitempty"`
}

// Data maps a DRM scheme name to its key system configuration.
type Data map[string]KeySystem

// Build derives protection data from a content descriptor. It returns false
// when the descriptor carries no DRM scheme.
func Build(d content.Descriptor) (Data, bool) {
	if !d.HasDRM() {
		return nil, false
	}

	ks := KeySystem{
		ServerURL:       d.DRMLicenseURI,
		AudioRobustness: SoftwareCrypto,
		VideoRobustness: VideoRobustness(d.DRMScheme, d.IsSecure()),
		Priority:        DefaultPriority,
	}

	if len(d.DRMLicenseHeaders) > 0 {
		ks.HTTPRequestHeaders = make(map[string]string, len(d.DRMLicenseHeaders))
		for _, h := range d.DRMLicenseHeaders {
			ks.HTTPRequestHeaders[h.Key] = h.Value
		}
	}

	return Data{d.DRMScheme: ks}, true
}

// VideoRobustness returns the video robustness level for a scheme.
// Audio always stays at the software baseline.
func VideoRobustness(scheme string, secure bool) string {
	if scheme == content.PlayReady {
		if secure {
			return PlayReadySecure
		}
		return PlayReadySoftware
	}
	if secure {
		return HardwareAll
	}
	return SoftwareCrypto
}

// Headers returns the custom license request headers across all schemes.
func (d Data) Headers() map[string]string {
	var out map[string]string
	for _, ks := range d {
		for k, v := range ks.HTTPRequestHeaders {
			if out == nil {
				out = make(map[string]string)
			}
			out[k] = v
		}
	}
	return out
}
