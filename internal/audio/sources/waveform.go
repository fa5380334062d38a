package sources

import (
	"math"
	"sync/atomic"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
)

// Waveform selects the oscillator shape a WaveformSource generates.
type Waveform int

const (
	WaveformSine Waveform = iota
	WaveformTriangle
)

// PlayMode controls whether a WaveformSource plays once and goes silent, or
// loops for as long as it is active. Used respectively for one-shot chimes
// and clicks versus looping ring/ringback tones.
type PlayMode int

const (
	PlayOnce PlayMode = iota
	PlayPeriodic
)

// WaveformSource synthesises a tone (ring, ringback, chime, click) rather
// than decoding remote audio. Phase and envelope reset to zero on every
// Restart so the tone always begins its attack from silence.
type WaveformSource struct {
	waveform   Waveform
	mode       PlayMode
	freqHz     float64
	fadeIn     int // samples
	fadeOut    int // samples
	periodLen  int // samples; 0 means a continuous tone with no fade-out

	phase      float64
	pos        int
	active     atomic.Bool
	volumeBits atomic.Uint32
}

// NewWaveformSource builds a tone generator. fadeIn/fadeOut are durations
// in samples over which the envelope ramps to/from unity gain, avoiding
// audible clicks at tone boundaries. periodSamples is the one-shot or
// repeat-cycle length; 0 disables the periodic envelope for a pure
// continuous tone (e.g. a held ringback).
func NewWaveformSource(waveform Waveform, mode PlayMode, freqHz float64, fadeIn, fadeOut, periodSamples int) *WaveformSource {
	s := &WaveformSource{
		waveform:  waveform,
		mode:      mode,
		freqHz:    freqHz,
		fadeIn:    fadeIn,
		fadeOut:   fadeOut,
		periodLen: periodSamples,
	}
	s.volumeBits.Store(math.Float32bits(1.0))
	return s
}

// MixInto adds this tone's next len(buf)/channels frames, duplicated across
// every interleaved channel, advancing phase and envelope position. Once a
// one-shot tone completes its envelope it goes silent and deactivates
// itself without requiring an explicit Stop.
func (s *WaveformSource) MixInto(buf []float32) {
	if !s.active.Load() {
		return
	}
	channels := 2
	if len(buf)%2 != 0 {
		channels = 1
	}
	gain := math.Float32frombits(s.volumeBits.Load())
	step := 2 * math.Pi * s.freqHz / audio.SampleRate

	frames := len(buf) / channels
	for f := 0; f < frames; f++ {
		if s.mode == PlayOnce && s.periodLen > 0 && s.pos >= s.periodLen {
			s.active.Store(false)
			return
		}

		raw := s.oscillate()
		env := s.envelope()
		v := float32(raw*env) * gain

		for c := 0; c < channels; c++ {
			buf[f*channels+c] += v
		}

		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		s.pos++
		if s.mode == PlayPeriodic && s.periodLen > 0 && s.pos >= s.periodLen {
			s.pos = 0
		}
	}
}

func (s *WaveformSource) oscillate() float64 {
	switch s.waveform {
	case WaveformTriangle:
		// Map phase in [0, 2pi) to a triangle wave in [-1, 1].
		norm := s.phase / (2 * math.Pi)
		return 4*math.Abs(norm-math.Floor(norm+0.75)+0.25) - 1
	default:
		return math.Sin(s.phase)
	}
}

// envelope applies the fade-in ramp at the start of the tone and the
// fade-out ramp at the end of a bounded (one-shot or periodic) tone.
func (s *WaveformSource) envelope() float64 {
	if s.fadeIn > 0 && s.pos < s.fadeIn {
		return float64(s.pos) / float64(s.fadeIn)
	}
	if s.periodLen > 0 && s.fadeOut > 0 {
		remaining := s.periodLen - s.pos
		if remaining < s.fadeOut {
			return float64(remaining) / float64(s.fadeOut)
		}
	}
	return 1.0
}

// Start marks the tone as active; it resumes from its current phase and
// position rather than restarting the envelope.
func (s *WaveformSource) Start() { s.active.Store(true) }

// Stop silences the tone without resetting phase or position.
func (s *WaveformSource) Stop() { s.active.Store(false) }

// Restart resets phase and envelope position to zero and reactivates the
// tone, so every new ring/ringback/chime begins its attack cleanly.
func (s *WaveformSource) Restart() {
	s.phase = 0
	s.pos = 0
	s.active.Store(true)
}

// SetVolume sets this tone's gain, clamped to [0, 1].
func (s *WaveformSource) SetVolume(volume float32) {
	v := volume
	if v > 1.0 {
		v = 1.0
	}
	if v < 0 {
		v = 0
	}
	s.volumeBits.Store(math.Float32bits(v))
}
