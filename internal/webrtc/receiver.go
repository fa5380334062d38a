package webrtc

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
)

// receiver reads RTP packets off one remote track and forwards their Opus
// payloads onto an output channel, for as long as the track or the call
// lives, whichever ends first. It survives pause/resume: pion only fires
// OnTrack once per remote track, so the receiver registered on first Start
// must stay alive across a hold — pause just stops forwarding, resume
// swaps in the next call's output channel.
type receiver struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	out    chan<- audio.EncodedAudioFrame
	paused bool
}

func newReceiver(ctx context.Context, pc *pionwebrtc.PeerConnection, out chan<- audio.EncodedAudioFrame, logger logging.Logger) *receiver {
	recvCtx, cancel := context.WithCancel(ctx)
	r := &receiver{cancel: cancel, out: out}

	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		r.wg.Add(1)
		go r.readTrack(recvCtx, track, logger)
	})

	return r
}

func (r *receiver) readTrack(ctx context.Context, track *pionwebrtc.TrackRemote, logger logging.Logger) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var packet *rtp.Packet
		var err error
		packet, _, err = track.ReadRTP()
		if err != nil {
			logger.Warnw("failed to read rtp packet from remote track", "error", err)
			return
		}

		out, paused := r.target()
		if paused {
			continue
		}

		select {
		case out <- audio.EncodedAudioFrame(packet.Payload):
		case <-ctx.Done():
			return
		default:
			logger.Warnw("inbound audio channel full, dropping rtp payload")
		}
	}
}

func (r *receiver) target() (chan<- audio.EncodedAudioFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out, r.paused
}

// pause stops forwarding without tearing down the track reader, so a
// subsequent resume picks back up on the same OnTrack registration.
func (r *receiver) pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

// resume reattaches out as the forwarding target and clears paused.
func (r *receiver) resume(out chan<- audio.EncodedAudioFrame) {
	r.mu.Lock()
	r.out = out
	r.paused = false
	r.mu.Unlock()
}

// stop permanently shuts the receiver down; used only when the peer itself
// is closing, never for a hold.
func (r *receiver) stop() {
	r.cancel()
	r.wg.Wait()
}
