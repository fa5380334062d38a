package audio

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// SincResampler bridges a device's native sample rate to the engine's 48kHz
// mono convention using a fixed-input sinc interpolator: cutoff 0.95,
// blackman-harris window, matching the resampling quality the capture
// pipeline specifies.
type SincResampler struct {
	inner    *resampler.SincFixedIn
	channels int
}

// NewSincResampler builds a resampler converting fromRate to 48kHz for the
// given channel count. chunkSize is the nominal number of input frames
// processed per call; the resampler may request a slightly different count
// via InputFramesNext.
func NewSincResampler(fromRate float64, channels, chunkSize int) (*SincResampler, error) {
	ratio := float64(SampleRate) / fromRate
	params := resampler.SincInterpolationParameters{
		SincLen:            128,
		FCutoff:            0.95,
		OversamplingFactor: 256,
		Window:             resampler.WindowBlackmanHarris,
		InterpolationType:  resampler.InterpolationLinear,
	}

	inner, err := resampler.NewSincFixedIn(ratio, 1.0, params, chunkSize, channels)
	if err != nil {
		return nil, vacserr.NewDeviceError("create resampler", err)
	}
	return &SincResampler{inner: inner, channels: channels}, nil
}

// InputFramesNext returns how many input frames the resampler needs before
// it can produce the next output chunk.
func (r *SincResampler) InputFramesNext() int {
	return r.inner.InputFramesNext()
}

// Process resamples one chunk of mono input (length must equal
// InputFramesNext) into mono 48kHz output. Errors are not fatal to the
// pipeline: callers log and discard the chunk, per the capture worker's
// failure semantics.
func (r *SincResampler) Process(in []float32) ([]float32, error) {
	out, err := r.inner.Process([][]float32{in}, nil)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("resample: no output channel produced")
	}
	return out[0], nil
}
