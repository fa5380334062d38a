package audio

import (
	"testing"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selectHost/selectDevice fall back to portaudio.DefaultHostApi(), which
// needs a real initialized portaudio session; these tests stick to the
// pure, struct-only scoring helpers that don't touch the C bridge.

func TestDevicesForRoleFiltersByChannelCount(t *testing.T) {
	mic := &portaudio.DeviceInfo{Name: "mic", MaxInputChannels: 1}
	speaker := &portaudio.DeviceInfo{Name: "speaker", MaxOutputChannels: 2}
	both := &portaudio.DeviceInfo{Name: "headset", MaxInputChannels: 1, MaxOutputChannels: 2}
	host := &portaudio.HostApiInfo{Name: "host", Devices: []*portaudio.DeviceInfo{mic, speaker, both}}

	inputs := devicesForRole(host, RoleInput)
	assert.ElementsMatch(t, []*portaudio.DeviceInfo{mic, both}, inputs)

	outputs := devicesForRole(host, RoleOutput)
	assert.ElementsMatch(t, []*portaudio.DeviceInfo{speaker, both}, outputs)
}

func TestBestConfigPrefersRoleChannelCountClampedToMax(t *testing.T) {
	device := &portaudio.DeviceInfo{MaxInputChannels: 1, DefaultSampleRate: 48000}
	cfg, ok := bestConfig(device, RoleInput)
	require.True(t, ok)
	assert.Equal(t, 1, cfg.channels)
	assert.Equal(t, float64(48000), cfg.sampleRate)
	assert.Equal(t, FormatF32, cfg.format)

	// Output prefers stereo but clamps to whatever the device actually has.
	mono := &portaudio.DeviceInfo{MaxOutputChannels: 1, DefaultSampleRate: 44100}
	cfg, ok = bestConfig(mono, RoleOutput)
	require.True(t, ok)
	assert.Equal(t, 1, cfg.channels)
}

func TestBestConfigRejectsDeviceWithNoChannelsForRole(t *testing.T) {
	device := &portaudio.DeviceInfo{MaxOutputChannels: 2}
	_, ok := bestConfig(device, RoleInput)
	assert.False(t, ok)
}

func TestBestConfigFallsBackToEngineRateWhenDeviceReportsNone(t *testing.T) {
	device := &portaudio.DeviceInfo{MaxInputChannels: 1, DefaultSampleRate: 0}
	cfg, ok := bestConfig(device, RoleInput)
	require.True(t, ok)
	assert.Equal(t, float64(SampleRate), cfg.sampleRate)
}

func TestScanHostForBestConfigPicksClosestToEngineDefaults(t *testing.T) {
	far := &portaudio.DeviceInfo{Name: "far", MaxInputChannels: 4, DefaultSampleRate: 96000}
	near := &portaudio.DeviceInfo{Name: "near", MaxInputChannels: 1, DefaultSampleRate: 48000}
	none := &portaudio.DeviceInfo{Name: "none", MaxOutputChannels: 2}

	best, cfg, found := scanHostForBestConfig([]*portaudio.DeviceInfo{far, none, near}, RoleInput)
	require.True(t, found)
	assert.Same(t, near, best)
	assert.Equal(t, float64(48000), cfg.sampleRate)
}

func TestScanHostForBestConfigReportsNotFoundWhenNoDeviceFitsRole(t *testing.T) {
	onlyOutput := &portaudio.DeviceInfo{Name: "speaker", MaxOutputChannels: 2}
	_, _, found := scanHostForBestConfig([]*portaudio.DeviceInfo{onlyOutput}, RoleInput)
	assert.False(t, found)
}

func TestStreamDeviceNeedsResample(t *testing.T) {
	sd := &StreamDevice{sampleRate: float64(SampleRate)}
	assert.False(t, sd.NeedsResample())

	sd = &StreamDevice{sampleRate: 44100}
	assert.True(t, sd.NeedsResample())
}
