package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
	"github.com/vatsim-vacs/vacs-client/internal/audio/sources"
	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
)

// callAudioChannelBuffer bounds the FIFO between capture/peer and
// peer/decode; a full channel drops the newest frame rather than blocking.
const callAudioChannelBuffer = 512

// Tone timing, in 48kHz samples. Ring and ringback pulse via the envelope's
// fade in/out rather than true silence gaps, so a plain WaveformSource can
// drive them without a separate on/off scheduler.
const (
	ringFreqHz      = 440.0
	ringPeriod      = audio.SampleRate     // 1s pulse cycle
	ringFade        = audio.SampleRate / 10 // 100ms

	ringbackFreqHz = 425.0
	ringbackPeriod = 2 * audio.SampleRate // 2s pulse cycle
	ringbackFade   = audio.SampleRate / 10

	chimeFreqHz   = 600.0
	chimeDuration = audio.SampleRate / 6 // ~167ms one-shot
	chimeFade     = audio.SampleRate / 20

	clickFreqHz   = 4000.0
	clickDuration = audio.SampleRate / 50 // 20ms one-shot, per spec's click cue
	clickFade     = audio.SampleRate / 200
)

var errCallAlreadyAttached = errors.New("dispatch: a call is already attached to the audio engine")

// callAudio is the subset of *CallAudio the dispatcher drives. Tests
// substitute a fake so call-control logic can be exercised without real
// mixer/device plumbing.
type callAudio interface {
	StartRing()
	StopRing()
	StartRingback()
	StopRingback()
	PlayChime()
	PlayClick()
	AttachCall(ctx context.Context, peerID string) (<-chan audio.EncodedAudioFrame, chan<- audio.EncodedAudioFrame, error)
	DetachCall(peerID string)
	SetMuted(muted bool)
}

// CallAudio wires the call dispatcher to the audio engine: the ring,
// ringback, chime and click cues live on the mixer permanently (started and
// stopped as calls progress); a single active call's CaptureStream and
// OpusSource are attached and detached around its connected lifetime.
type CallAudio struct {
	mixer       *audio.Mixer
	inputDevice *audio.StreamDevice
	audioCfg    config.AudioConfig
	logger      logging.Logger

	ringID, ringbackID, chimeID, clickID audio.SourceID

	mu        sync.Mutex
	attached  bool
	peerID    string
	capture   *audio.CaptureStream
	opusID    audio.SourceID
	opusSrc   *sources.OpusSource
}

// NewCallAudio registers the four tone sources on mixer (stopped) and
// returns a CallAudio ready to attach/detach a call's live audio.
func NewCallAudio(mixer *audio.Mixer, inputDevice *audio.StreamDevice, audioCfg config.AudioConfig, logger logging.Logger) *CallAudio {
	ring := sources.NewWaveformSource(sources.WaveformSine, sources.PlayPeriodic, ringFreqHz, ringFade, ringFade, ringPeriod)
	ringback := sources.NewWaveformSource(sources.WaveformSine, sources.PlayPeriodic, ringbackFreqHz, ringbackFade, ringbackFade, ringbackPeriod)
	chime := sources.NewWaveformSource(sources.WaveformSine, sources.PlayOnce, chimeFreqHz, chimeFade, chimeFade, chimeDuration)
	click := sources.NewWaveformSource(sources.WaveformTriangle, sources.PlayOnce, clickFreqHz, clickFade, clickFade, clickDuration)

	c := &CallAudio{
		mixer:       mixer,
		inputDevice: inputDevice,
		audioCfg:    audioCfg,
		logger:      logger,
		ringID:      mixer.Add(ring),
		ringbackID:  mixer.Add(ringback),
		chimeID:     mixer.Add(chime),
		clickID:     mixer.Add(click),
	}
	mixer.Stop(c.ringID)
	mixer.Stop(c.ringbackID)
	mixer.Stop(c.chimeID)
	mixer.Stop(c.clickID)
	return c
}

func (c *CallAudio) StartRing()     { c.mixer.Restart(c.ringID) }
func (c *CallAudio) StopRing()      { c.mixer.Stop(c.ringID) }
func (c *CallAudio) StartRingback() { c.mixer.Restart(c.ringbackID) }
func (c *CallAudio) StopRingback()  { c.mixer.Stop(c.ringbackID) }
func (c *CallAudio) PlayChime()     { c.mixer.Restart(c.chimeID) }
func (c *CallAudio) PlayClick()     { c.mixer.Restart(c.clickID) }

// AttachCall starts a fresh CaptureStream on the configured input device and
// registers a new OpusSource on the mixer for the given peer, returning the
// two channels a webrtc.Peer.Start call needs: inRx (captured frames for the
// sender to transmit) and outTx (the peer's decoded remote frames, consumed
// by the new OpusSource). Only one call may be attached at a time; callers
// are responsible for detaching the previous one first (holding a call
// detaches it, see Dispatcher.HoldCall).
func (c *CallAudio) AttachCall(ctx context.Context, peerID string) (<-chan audio.EncodedAudioFrame, chan<- audio.EncodedAudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return nil, nil, errCallAlreadyAttached
	}

	remoteCh := make(chan audio.EncodedAudioFrame, callAudioChannelBuffer)
	opusSrc, err := sources.NewOpusSource(remoteCh, c.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: create opus source for peer %s: %w", peerID, err)
	}
	opusID := c.mixer.Add(opusSrc)

	captureCh := make(chan audio.EncodedAudioFrame, callAudioChannelBuffer)
	capture, err := audio.StartCapture(ctx, c.inputDevice, captureCh, c.audioCfg.InputVolume, linearFromDB(c.audioCfg.InputAmpDB), c.logger)
	if err != nil {
		c.mixer.Remove(opusID)
		opusSrc.Close()
		return nil, nil, fmt.Errorf("dispatch: start capture for peer %s: %w", peerID, err)
	}

	c.attached = true
	c.peerID = peerID
	c.capture = capture
	c.opusID = opusID
	c.opusSrc = opusSrc

	return captureCh, remoteCh, nil
}

// DetachCall tears down the attached call's CaptureStream and OpusSource if
// peerID is the one currently attached; otherwise it is a no-op, since a
// call being cleaned up may never have reached the Connected state that
// attaches audio in the first place.
func (c *CallAudio) DetachCall(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached || c.peerID != peerID {
		return
	}

	if err := c.capture.Close(); err != nil {
		c.logger.Warnw("failed to close capture stream", "peerId", peerID, "error", err)
	}
	c.mixer.Remove(c.opusID)
	c.opusSrc.Close()

	c.attached = false
	c.peerID = ""
	c.capture = nil
	c.opusSrc = nil
}

// SetMuted toggles the mute gate on the currently attached call's capture
// stream, if any.
func (c *CallAudio) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		c.capture.SetMuted(muted)
	}
}

// linearFromDB converts a decibel trim into the linear multiplier
// CaptureStream's amp parameter expects.
func linearFromDB(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}
