package audio

import (
	"fmt"
	"math"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// Role distinguishes an input (capture) device from an output (playback)
// device, since the preferred channel count and default direction differ.
type Role int

const (
	RoleInput Role = iota
	RoleOutput
)

func (r Role) String() string {
	if r == RoleInput {
		return "input"
	}
	return "output"
}

// SampleFormat orders the interleaved sample encodings a stream may use.
// Lower index is more preferred.
type SampleFormat int

const (
	FormatF32 SampleFormat = iota
	FormatI16
	FormatU16
)

// StreamDevice binds a chosen host, device, and stream configuration.
// Immutable once opened.
type StreamDevice struct {
	Role       Role
	host       *portaudio.HostApiInfo
	device     *portaudio.DeviceInfo
	sampleRate float64
	channels   int
	format     SampleFormat
}

func (d *StreamDevice) Name() string          { return d.device.Name }
func (d *StreamDevice) HostName() string      { return d.host.Name }
func (d *StreamDevice) SampleRate() float64   { return d.sampleRate }
func (d *StreamDevice) Channels() int         { return d.channels }
func (d *StreamDevice) Format() SampleFormat  { return d.format }

// NeedsResample reports whether this device's native rate differs from the
// engine's internal 48kHz convention, and therefore needs a resampler
// bridging the delta.
func (d *StreamDevice) NeedsResample() bool {
	return int(d.sampleRate) != SampleRate
}

// Selector enumerates hosts and devices and picks the best stream
// configuration for a requested role, per the fallback algorithm in the
// device-selection specification: exact host match, then substring match,
// then host default; same fallback order for the device; then the
// lowest-scoring stream configuration across every device on the host if
// the preferred device has none.
type Selector struct{}

// NewSelector constructs a device Selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Open resolves a StreamDevice for role, honoring preferredHost and
// preferredDevice as hints. The returned bool is true when the selection
// fell back from the caller's preference.
func (s *Selector) Open(role Role, preferredHost, preferredDevice string) (*StreamDevice, bool, error) {
	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, false, vacserr.NewDeviceError("enumerate hosts", err)
	}
	if len(hosts) == 0 {
		return nil, false, vacserr.NewDeviceError("enumerate hosts", fmt.Errorf("no audio hosts available"))
	}

	host, hostFallback := selectHost(hosts, preferredHost)

	devices := devicesForRole(host, role)
	if len(devices) == 0 {
		return nil, false, vacserr.NewDeviceError("enumerate devices",
			fmt.Errorf("host %q has no %s devices", host.Name, role))
	}

	device, deviceFallback := selectDevice(host, devices, preferredDevice, role)

	cfg, scoreOK := bestConfig(device, role)
	if !scoreOK {
		// Preferred device has no viable configuration; scan every device
		// on the host for the globally lowest-scoring configuration.
		best, bestCfg, found := scanHostForBestConfig(devices, role)
		if !found {
			return nil, false, vacserr.NewDeviceError("select stream config",
				fmt.Errorf("no device on host %q supports role %s", host.Name, role))
		}
		device = best
		cfg = bestCfg
		deviceFallback = true
	}

	sd := &StreamDevice{
		Role:       role,
		host:       host,
		device:     device,
		sampleRate: cfg.sampleRate,
		channels:   cfg.channels,
		format:     cfg.format,
	}
	return sd, hostFallback || deviceFallback, nil
}

func selectHost(hosts []*portaudio.HostApiInfo, preferred string) (*portaudio.HostApiInfo, bool) {
	if preferred != "" {
		for _, h := range hosts {
			if strings.EqualFold(h.Name, preferred) {
				return h, false
			}
		}
		for _, h := range hosts {
			if strings.Contains(strings.ToLower(h.Name), strings.ToLower(preferred)) {
				return h, true
			}
		}
	}
	def, err := portaudio.DefaultHostApi()
	if err == nil && def != nil {
		return def, preferred != ""
	}
	return hosts[0], preferred != ""
}

func devicesForRole(host *portaudio.HostApiInfo, role Role) []*portaudio.DeviceInfo {
	var out []*portaudio.DeviceInfo
	for _, d := range host.Devices {
		if role == RoleInput && d.MaxInputChannels > 0 {
			out = append(out, d)
		}
		if role == RoleOutput && d.MaxOutputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}

func selectDevice(host *portaudio.HostApiInfo, devices []*portaudio.DeviceInfo, preferred string, role Role) (*portaudio.DeviceInfo, bool) {
	if preferred != "" {
		for _, d := range devices {
			if strings.EqualFold(d.Name, preferred) {
				return d, false
			}
		}
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
				return d, true
			}
		}
	}
	if role == RoleInput && host.DefaultInputDevice != nil {
		return host.DefaultInputDevice, preferred != ""
	}
	if role == RoleOutput && host.DefaultOutputDevice != nil {
		return host.DefaultOutputDevice, preferred != ""
	}
	return devices[0], preferred != ""
}

type streamConfig struct {
	sampleRate float64
	channels   int
	format     SampleFormat
}

// preferredChannels returns the ideal channel count for a role: mono
// capture, stereo playback.
func preferredChannels(role Role) int {
	if role == RoleInput {
		return 1
	}
	return 2
}

// bestConfig returns the one stream configuration used for a device: its
// default sample rate (48000 when it reports none), the role's preferred
// channel count capped at the device's maximum, and F32 samples. It reports
// false when the device has no channels for the role. The device's other
// supported rates, channel counts and sample formats are not enumerated or
// scored.
func bestConfig(device *portaudio.DeviceInfo, role Role) (streamConfig, bool) {
	maxChannels := device.MaxInputChannels
	if role == RoleOutput {
		maxChannels = device.MaxOutputChannels
	}
	if maxChannels == 0 {
		return streamConfig{}, false
	}

	preferred := preferredChannels(role)
	channels := preferred
	if channels > maxChannels {
		channels = maxChannels
	}

	rate := device.DefaultSampleRate
	if rate <= 0 {
		rate = SampleRate
	}

	return streamConfig{
		sampleRate: resolveRate(rate),
		channels:   channels,
		format:     FormatF32,
	}, true
}

// resolveRate returns the device's native rate, or 48000 when the native
// rate is not positive. The rate is not checked against or clamped to a
// supported rate range.
func resolveRate(native float64) float64 {
	if native <= 0 {
		return SampleRate
	}
	return native
}

func scanHostForBestConfig(devices []*portaudio.DeviceInfo, role Role) (*portaudio.DeviceInfo, streamConfig, bool) {
	var (
		best      *portaudio.DeviceInfo
		bestCfg   streamConfig
		bestScore = math.Inf(1)
		found     bool
	)
	preferred := preferredChannels(role)
	for _, d := range devices {
		cfg, ok := bestConfig(d, role)
		if !ok {
			continue
		}
		score := math.Abs(cfg.sampleRate-SampleRate)*1000 + math.Abs(float64(cfg.channels-preferred))*10 + float64(cfg.format)
		if score < bestScore {
			bestScore = score
			best = d
			bestCfg = cfg
			found = true
		}
	}
	return best, bestCfg, found
}
