package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/vatsim-vacs/vacs-client/internal/audio/ring"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// EncodedAudioFrame is an opaque immutable byte buffer carrying exactly one
// Opus packet.
type EncodedAudioFrame []byte

type volumeOp func(*float32)

// CaptureStream converts interleaved device frames into a lossy stream of
// Opus packets on out. It owns one host audio callback (which must never
// block) and one worker goroutine (which does the resampling, gain, and
// Opus encode).
//
// Construction starts the callback and the worker; Close cancels the
// worker then stops the callback, guaranteeing release on every exit path.
type CaptureStream struct {
	stream    *portaudio.Stream
	volumeOps *ring.Ring[volumeOp]
	muted     atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logging.Logger
}

// StartCapture opens device for capture and begins streaming Opus frames
// onto out. amp is a fixed device-level trim applied in addition to the
// runtime-adjustable volume.
func StartCapture(ctx context.Context, device *StreamDevice, out chan<- EncodedAudioFrame, volume, amp float32, logger logging.Logger) (*CaptureStream, error) {
	logger.Debugf("starting input capture stream on device %q", device.Name())

	ringBufSize := (int(device.SampleRate()) / 10)
	if ringBufSize < 4096 {
		ringBufSize = 4096
	}
	inputRing := ring.New[float32](ringBufSize)

	var monoBuf []float32
	var overflowCount atomic.Uint64

	cs := &CaptureStream{logger: logger}

	realCallback := func(in []float32) {
		var mono []float32
		if device.Channels() > 1 {
			downmixInterleavedToMono(in, device.Channels(), &monoBuf)
			mono = monoBuf
		} else {
			mono = in
		}

		muted := cs.muted.Load()
		overflows := 0
		for _, sample := range mono {
			v := sample
			if muted {
				v = 0
			}
			if !inputRing.TryPush(v) {
				overflows++
			}
		}
		if overflows > 0 {
			n := overflowCount.Add(uint64(overflows))
			if n%100 < uint64(overflows) {
				logger.Warnw("input buffer overflow, tail samples dropped", "overflows", overflows)
			}
		}
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   deviceInfoOf(device),
			Channels: device.Channels(),
			Latency:  deviceInfoOf(device).DefaultLowInputLatency,
		},
		SampleRate:      device.SampleRate(),
		FramesPerBuffer: portaudio.FramesPerBufferUseDefault,
	}

	stream, err := portaudio.OpenStream(params, realCallback)
	if err != nil {
		return nil, vacserr.NewDeviceError("open input stream", err)
	}
	if err := stream.Start(); err != nil {
		return nil, vacserr.NewDeviceError("start input stream", err)
	}

	opsRing := ring.New[volumeOp](VolumeOpRingCapacity)
	cs.stream = stream
	cs.volumeOps = opsRing

	workerCtx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel

	framer, err := newOpusFramer(out, logger)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	cs.wg.Add(1)
	go cs.runWorker(workerCtx, device, inputRing, opsRing, framer, volume, amp)

	logger.Infow("input capture stream started", "device", device.Name(), "sampleRate", device.SampleRate())
	return cs, nil
}

func (cs *CaptureStream) runWorker(ctx context.Context, device *StreamDevice, in *ring.Ring[float32], ops *ring.Ring[volumeOp], framer *opusFramer, volume, amp float32) {
	defer cs.wg.Done()

	var resampler *SincResampler
	if device.NeedsResample() {
		r, err := NewSincResampler(device.SampleRate(), 1, 1024)
		if err != nil {
			cs.logger.Warnw("failed to build capture resampler, passing samples through unresampled", "error", err)
		} else {
			resampler = r
		}
	}

	buf := make([]float32, 0, 8192)
	stash := make([]float32, 1024)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		for i := 0; i < VolumeOpsPerIteration; i++ {
			op, ok := ops.TryPop()
			if !ok {
				break
			}
			op(&volume)
		}
		gain := clampGain(amp * volume)

		if resampler != nil {
			need := resampler.InputFramesNext()
			for len(buf) < need {
				if s, ok := in.TryPop(); ok {
					buf = append(buf, s)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(resamplerBufferWait):
				}
			}
			chunk := append([]float32(nil), buf[:need]...)
			buf = buf[need:]

			resampled, err := resampler.Process(chunk)
			if err != nil {
				cs.logger.Warnw("failed to resample input, discarding chunk", "error", err)
				continue
			}
			framer.pushSlice(resampled, gain)
		} else {
			n := 0
			for {
				s, ok := in.TryPop()
				if !ok {
					break
				}
				if n == len(stash) {
					framer.pushSlice(stash[:n], gain)
					n = 0
				}
				stash[n] = s
				n++
			}
			if n > 0 {
				framer.pushSlice(stash[:n], gain)
			} else {
				select {
				case <-ctx.Done():
					return
				case <-time.After(resamplerBufferWait):
				}
			}
		}
	}
}

const resamplerBufferWait = 500 * time.Microsecond

func clampGain(gain float32) float32 {
	if gain > 1.0 {
		return 1.0
	}
	return gain
}

// SetMuted toggles the mute gate. Transition latency is bounded by one
// callback period since the host callback samples this atomic directly.
func (cs *CaptureStream) SetMuted(muted bool) {
	cs.muted.Store(muted)
}

// IsMuted reports the current mute gate state.
func (cs *CaptureStream) IsMuted() bool {
	return cs.muted.Load()
}

// SetVolume queues a volume change to be applied by the worker on its next
// iteration. Volume is clamped to [0, 1].
func (cs *CaptureStream) SetVolume(volume float32) {
	v := volume
	if v > 1.0 {
		v = 1.0
	}
	if v < 0 {
		v = 0
	}
	if !cs.volumeOps.TryPush(func(vol *float32) { *vol = v }) {
		cs.logger.Warnw("failed to queue capture volume op, ring full")
	}
}

// Close cancels the worker, waits for it to exit, then stops and closes the
// host stream.
func (cs *CaptureStream) Close() error {
	cs.cancel()
	cs.wg.Wait()
	if err := cs.stream.Stop(); err != nil {
		cs.logger.Warnw("failed to stop input stream", "error", err)
	}
	return cs.stream.Close()
}

// opusFramer packs incoming samples into 960-sample frames and Opus-encodes
// each, sending the result non-blockingly onto out.
type opusFramer struct {
	frame   [FrameSamples]float32
	pos     int
	encoder *opus.Encoder
	encoded []byte
	out     chan<- EncodedAudioFrame
	logger  logging.Logger
}

func newOpusFramer(out chan<- EncodedAudioFrame, logger logging.Logger) (*opusFramer, error) {
	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, vacserr.NewDeviceError("create opus encoder", err)
	}
	if err := enc.SetBitrateToMax(); err != nil {
		return nil, vacserr.NewDeviceError("set opus bitrate", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, vacserr.NewDeviceError("set opus inband fec", err)
	}
	if err := enc.SetVBR(false); err != nil {
		return nil, vacserr.NewDeviceError("set opus vbr", err)
	}

	return &opusFramer{
		encoder: enc,
		encoded: make([]byte, MaxOpusFrameBytes),
		out:     out,
		logger:  logger,
	}, nil
}

func (f *opusFramer) pushSlice(samples []float32, gain float32) {
	for _, sample := range samples {
		v := sample * gain
		if v > 1.0 {
			v = 1.0
		}
		f.frame[f.pos] = v
		f.pos++
		if f.pos == FrameSamples {
			n, err := f.encoder.EncodeFloat32(f.frame[:], f.encoded)
			if err != nil {
				f.logger.Warnw("failed to encode input audio frame", "error", err)
			} else {
				packet := make([]byte, n)
				copy(packet, f.encoded[:n])
				select {
				case f.out <- packet:
				default:
					f.logger.Warnw("outbound audio channel full, dropping frame")
				}
			}
			f.pos = 0
		}
	}
}

func deviceInfoOf(d *StreamDevice) *portaudio.DeviceInfo {
	return d.device
}
