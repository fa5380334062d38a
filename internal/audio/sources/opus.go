// Package sources implements the AudioSource contributors the mixer plays
// out: decoded remote Opus streams and synthesised tones.
package sources

import (
	"math"
	"sync"
	"sync/atomic"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
	"github.com/vatsim-vacs/vacs-client/internal/audio/ring"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
)

// OpusSource decodes an incoming Opus packet stream on its own goroutine
// and exposes the decoded mono 48kHz audio for the mixer's callback thread
// to pop from a lock-free ring and duplicate across output channels.
type OpusSource struct {
	decoder *opus.Decoder
	pcm     *ring.Ring[float32]

	volume atomic.Uint32 // float32 bits
	active atomic.Bool

	cancel func()
	wg     sync.WaitGroup
	logger logging.Logger

	decodeBuf []float32
}

// ringCapacity is the decode ring's sample capacity: at least
// PlaybackRingMinDurationMs of 48kHz mono audio.
const ringCapacity = audio.SampleRate * audio.PlaybackRingMinDurationMs / 1000

// NewOpusSource builds an OpusSource reading packets from in until in is
// closed or Close is called. The source starts active with volume 1.0.
func NewOpusSource(in <-chan audio.EncodedAudioFrame, logger logging.Logger) (*OpusSource, error) {
	dec, err := opus.NewDecoder(audio.SampleRate, 1)
	if err != nil {
		return nil, err
	}

	s := &OpusSource{
		decoder:   dec,
		pcm:       ring.New[float32](ringCapacity),
		decodeBuf: make([]float32, audio.FrameSamples),
		logger:    logger,
	}
	s.volume.Store(math.Float32bits(1.0))
	s.active.Store(true)

	done := make(chan struct{})
	s.cancel = sync.OnceFunc(func() { close(done) })

	s.wg.Add(1)
	go s.decodeLoop(in, done)

	return s, nil
}

func (s *OpusSource) decodeLoop(in <-chan audio.EncodedAudioFrame, done <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-done:
			return
		case packet, ok := <-in:
			if !ok {
				return
			}
			n, err := s.decoder.DecodeFloat32(packet, s.decodeBuf)
			if err != nil {
				s.logger.Warnw("failed to decode inbound opus packet, dropping", "error", err)
				continue
			}
			for i := 0; i < n; i++ {
				if !s.pcm.TryPush(s.decodeBuf[i]) {
					// Ring full: the mixer callback is falling behind, or the
					// call was paused. Drop the oldest-unplayed tail rather
					// than block the decode goroutine.
					s.pcm.TryPop()
					s.pcm.TryPush(s.decodeBuf[i])
				}
			}
		}
	}
}

// MixInto adds this source's decoded audio into buf, duplicating the mono
// decode across every interleaved output channel. Silence (equilibrium) is
// contributed, i.e. nothing is added, once the ring runs dry or the source
// is inactive — it never blocks waiting for more decoded audio.
func (s *OpusSource) MixInto(buf []float32) {
	if !s.active.Load() {
		return
	}
	channels := 2
	if len(buf)%2 != 0 {
		channels = 1
	}
	gain := math.Float32frombits(s.volume.Load())

	frames := len(buf) / channels
	for f := 0; f < frames; f++ {
		sample, ok := s.pcm.TryPop()
		if !ok {
			return
		}
		v := sample * gain
		for c := 0; c < channels; c++ {
			buf[f*channels+c] += v
		}
	}
}

// Start marks the source as contributing audio.
func (s *OpusSource) Start() { s.active.Store(true) }

// Stop marks the source as silent without tearing down the decode
// goroutine; used when a call is held.
func (s *OpusSource) Stop() { s.active.Store(false) }

// Restart clears any buffered audio and resumes contributing. Used when a
// held call resumes, so stale audio from the hold period isn't played.
func (s *OpusSource) Restart() {
	s.pcm.Clear()
	s.active.Store(true)
}

// SetVolume sets this source's playback gain, clamped to [0, 1].
func (s *OpusSource) SetVolume(volume float32) {
	v := volume
	if v > 1.0 {
		v = 1.0
	}
	if v < 0 {
		v = 0
	}
	s.volume.Store(math.Float32bits(v))
}

// Close stops the decode goroutine and waits for it to exit.
func (s *OpusSource) Close() {
	s.cancel()
	s.wg.Wait()
}
