package webrtc

import (
	"context"
	"sync"

	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
)

// sender drains an encoded-frame channel onto the local Opus track for the
// lifetime of one call. One instance per Peer.start.
type sender struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSender(ctx context.Context, track *pionwebrtc.TrackLocalStaticSample, in <-chan audio.EncodedAudioFrame, logger logging.Logger) *sender {
	sendCtx, cancel := context.WithCancel(ctx)
	s := &sender{cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-sendCtx.Done():
				return
			case frame, ok := <-in:
				if !ok {
					return
				}
				sample := media.Sample{Data: frame, Duration: audio.FrameDur}
				if err := track.WriteSample(sample); err != nil {
					logger.Warnw("failed to write sample to local track", "error", err)
				}
			}
		}
	}()

	return s
}

func (s *sender) stop() {
	s.cancel()
	s.wg.Wait()
}
