// Package config defines the in-process, validated configuration structs
// for each VACS subsystem. Unlike the reference server's config package,
// nothing here reads a file or an environment variable — sourcing config is
// a GUI-shell concern out of scope for this module. Only shape validation
// (via validator tags) is an ambient concern that still belongs here.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// AudioConfig selects the input/output devices and starting gain state for
// the audio engine.
type AudioConfig struct {
	InputHost     string  `validate:"-"`
	InputDevice   string  `validate:"-"`
	OutputHost    string  `validate:"-"`
	OutputDevice  string  `validate:"-"`
	InputVolume   float32 `validate:"gte=0,lte=1"`
	OutputVolume  float32 `validate:"gte=0,lte=1"`
	InputAmpDB    float32 `validate:"gte=-60,lte=24"`
}

// DefaultAudioConfig returns an AudioConfig with unity gain and host/device
// auto-selection (empty strings mean "use the host/device default").
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		InputVolume:  1.0,
		OutputVolume: 1.0,
		InputAmpDB:   0,
	}
}

// ICEServerConfig mirrors a single entry of the wire ICE config's
// iceServers array.
type ICEServerConfig struct {
	URLs       []string `validate:"required,min=1"`
	Username   string
	Credential string
}

// ICEConfig is the ICE configuration injected at Peer construction.
// ExpiresAt is the zero time when the configuration never expires.
type ICEConfig struct {
	Servers   []ICEServerConfig `validate:"required,min=1,dive"`
	ExpiresAt time.Time
}

// RefreshLeeway is subtracted from ExpiresAt before considering the
// configuration due for refresh, per §5's "~30s leeway" timeout.
const RefreshLeeway = 30 * time.Second

// NeedsRefresh reports whether this ICE configuration should be refreshed
// from the backend given the current time.
func (c ICEConfig) NeedsRefresh(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-RefreshLeeway))
}

// SignalingConfig configures the reconnecting websocket client.
type SignalingConfig struct {
	URL                string        `validate:"required,url"`
	Token              string        `validate:"required"`
	ProtocolVersion    string        `validate:"required"`
	AutoReconnect      bool
	MaxReconnectAttempts int         `validate:"gte=0"`
	InitialBackoff     time.Duration `validate:"gt=0"`
	MaxBackoff         time.Duration `validate:"gt=0"`
	LoginTimeout       time.Duration `validate:"gt=0"`
	AutoHangupSeconds  int           `validate:"gte=0"`
}

// DefaultSignalingConfig returns a SignalingConfig with the timeouts from
// §5: 100ms login timeout, 30s auto-hangup, 8 max reconnect attempts.
func DefaultSignalingConfig(url, token, protocolVersion string) SignalingConfig {
	return SignalingConfig{
		URL:                  url,
		Token:                token,
		ProtocolVersion:      protocolVersion,
		AutoReconnect:        true,
		MaxReconnectAttempts: 8,
		InitialBackoff:       250 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		LoginTimeout:         100 * time.Millisecond,
		AutoHangupSeconds:    30,
	}
}

// KeybindConfig configures the global-hotkey engine.
type KeybindConfig struct {
	Mode string `validate:"required,oneof=VoiceActivation PushToTalk PushToMute RadioIntegration"`
	Code string `validate:"required_unless=Mode VoiceActivation"`
}

var validate = validator.New()

// Validate runs struct-tag validation over any of the config types above.
// It is the one ambient concern config sourcing leaves behind: whatever
// populated the struct (env, flags, a settings dialog), its shape is still
// checked before the subsystem it configures is constructed.
func Validate(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
