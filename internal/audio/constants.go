package audio

import "time"

// Engine-wide audio frame conventions: all engine-internal audio is mono
// f32 at 48kHz, framed to the Opus grid of 20ms / 960 samples.
const (
	SampleRate   = 48000
	FrameSamples = 960 // 20ms at 48kHz
	FrameDur     = 20 * time.Millisecond

	// MaxOpusFrameBytes is the largest possible Opus packet, per RFC 6716
	// §3.2.1.
	MaxOpusFrameBytes = 1275

	// RingMinDurationMs is the minimum duration (in ms) the capture ring
	// buffer must hold to absorb scheduling jitter between the host
	// callback and the capture worker.
	RingMinDurationMs = 100

	// PlaybackRingMinDurationMs is the minimum duration an OpusSource's
	// decode ring must hold.
	PlaybackRingMinDurationMs = 200

	// MixerCommandRingCapacity bounds queued mixer mutations (add/remove/
	// start/stop/restart/volume) drained per playback callback.
	MixerCommandRingCapacity = 256
	// MixerCommandsPerCallback is the max mixer commands drained in one
	// playback callback invocation.
	MixerCommandsPerCallback = 32

	// VolumeOpRingCapacity bounds queued volume operations a CaptureStream
	// worker drains per iteration.
	VolumeOpRingCapacity    = 16
	VolumeOpsPerIteration   = 16

	// OutboundChannelCapacity is the default bound on the encoded-frame
	// channel between CaptureStream and the Peer sender.
	OutboundChannelCapacity = 512
)
