package audio

import (
	"github.com/gordonklaus/portaudio"

	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// PlaybackStream drives device's output callback from a Mixer. The host
// callback thread calls Mixer.Mix directly, so Mix must never block or
// allocate, same constraint as CaptureStream's callback.
type PlaybackStream struct {
	stream *portaudio.Stream
	mixer  *Mixer
	logger logging.Logger
}

// StartPlayback opens device for output and begins mixing mixer's active
// sources into the host callback on every buffer.
func StartPlayback(device *StreamDevice, mixer *Mixer, logger logging.Logger) (*PlaybackStream, error) {
	logger.Debugf("starting output playback stream on device %q", device.Name())

	var scratch []float32

	callback := func(out []float32) {
		if cap(scratch) < len(out) {
			scratch = make([]float32, len(out))
		}
		scratch = scratch[:len(out)]
		mixer.Mix(scratch)
		copy(out, scratch)
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   deviceInfoOf(device),
			Channels: device.Channels(),
			Latency:  deviceInfoOf(device).DefaultLowInputLatency,
		},
		SampleRate:      device.SampleRate(),
		FramesPerBuffer: portaudio.FramesPerBufferUseDefault,
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, vacserr.NewDeviceError("open output stream", err)
	}
	if err := stream.Start(); err != nil {
		return nil, vacserr.NewDeviceError("start output stream", err)
	}

	logger.Infow("output playback stream started", "device", device.Name(), "sampleRate", device.SampleRate())
	return &PlaybackStream{stream: stream, mixer: mixer, logger: logger}, nil
}

// Deafen toggles equilibrium output without tearing down any registered
// source, so calls resume exactly where they left off once undeafened.
func (ps *PlaybackStream) Deafen(deafen bool) {
	ps.mixer.SetDeafen(deafen)
}

// Close stops and releases the host output stream.
func (ps *PlaybackStream) Close() error {
	if err := ps.stream.Stop(); err != nil {
		ps.logger.Warnw("failed to stop output stream", "error", err)
	}
	return ps.stream.Close()
}
