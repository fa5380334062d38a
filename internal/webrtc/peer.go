// Package webrtc implements the peer session: one pion PeerConnection, one
// local Opus track, and the Sender/Receiver tasks that bridge it to the
// audio engine's encoded-frame channels.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
	webrtcinternal "github.com/vatsim-vacs/vacs-client/internal/webrtc/internal"
	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// Peer owns one WebRTC peer connection for the duration of a call: its
// local Opus track, and, once started, one Sender and one Receiver task.
// Lifecycle events are published on a broadcast stream rather than held as
// a reverse handle back to whatever owns this Peer, avoiding a cyclic
// ownership between Peer and its dispatcher.
type Peer struct {
	mu sync.Mutex

	pc    *pionwebrtc.PeerConnection
	track *pionwebrtc.TrackLocalStaticSample

	events *webrtcinternal.Broadcaster

	sender   *sender
	receiver *receiver

	logger logging.Logger
}

// New builds a Peer configured with the given ICE servers. The peer
// connection is created but no call is active until Start is called.
func New(ctx context.Context, iceServers []config.ICEServerConfig, logger logging.Logger) (*Peer, error) {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: webrtcinternal.OpusSampleRate,
			Channels:  webrtcinternal.OpusChannels,
		},
		PayloadType: webrtcinternal.OpusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(
		pionwebrtc.WithMediaEngine(mediaEngine),
		pionwebrtc.WithInterceptorRegistry(registry),
	)

	iceConfig := pionwebrtc.Configuration{ICEServers: make([]pionwebrtc.ICEServer, len(iceServers))}
	for i, srv := range iceServers {
		iceConfig.ICEServers[i] = pionwebrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		}
	}

	pc, err := api.NewPeerConnection(iceConfig)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeOpus, ClockRate: webrtcinternal.OpusSampleRate, Channels: webrtcinternal.OpusChannels},
		webrtcinternal.TrackID, webrtcinternal.TrackStreamID,
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add local track: %w", err)
	}

	p := &Peer{
		pc:     pc,
		track:  track,
		events: webrtcinternal.NewBroadcaster(),
		logger: logger,
	}

	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		p.events.Publish(webrtcinternal.PeerEvent{Kind: webrtcinternal.EventConnectionState, State: mapState(state)})
	})
	pc.OnICECandidate(func(c *pionwebrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.events.Publish(webrtcinternal.PeerEvent{Kind: webrtcinternal.EventICECandidate, Text: c.ToJSON().Candidate})
	})

	return p, nil
}

func mapState(state pionwebrtc.PeerConnectionState) webrtcinternal.ConnectionState {
	switch state {
	case pionwebrtc.PeerConnectionStateNew:
		return webrtcinternal.StateNew
	case pionwebrtc.PeerConnectionStateConnecting:
		return webrtcinternal.StateConnecting
	case pionwebrtc.PeerConnectionStateConnected:
		return webrtcinternal.StateConnected
	case pionwebrtc.PeerConnectionStateDisconnected:
		return webrtcinternal.StateDisconnected
	case pionwebrtc.PeerConnectionStateFailed:
		return webrtcinternal.StateFailed
	default:
		return webrtcinternal.StateClosed
	}
}

// Subscribe registers a new lifecycle-event listener. Callers that fall
// behind the broadcast buffer have their channel closed out from under
// them — the caller must treat channel closure the same as a disconnect.
func (p *Peer) Subscribe() (int, <-chan PeerEvent) {
	return p.events.Subscribe()
}

// Unsubscribe removes a previously registered listener.
func (p *Peer) Unsubscribe(id int) {
	p.events.Unsubscribe(id)
}

// CreateOffer creates a local SDP offer, sets it as the local description,
// blocks until ICE gathering completes, and returns the gathered offer's
// SDP so it can be sent over signaling with every candidate already
// attached (non-trickle semantics for the initial offer).
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return pc.LocalDescription().SDP, nil
}

// AcceptOffer sets remote as the offer, creates a local answer, blocks
// until ICE gathering completes, and returns the gathered answer's SDP.
func (p *Peer) AcceptOffer(ctx context.Context, remoteSDP string) (string, error) {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: remoteSDP}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return pc.LocalDescription().SDP, nil
}

// AcceptAnswer sets remote as the call's answer.
func (p *Peer) AcceptAnswer(remoteSDP string) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeAnswer, SDP: remoteSDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddRemoteICECandidate feeds a trickled remote candidate in, used by
// callers opting into trickle ICE after the initial offer/answer exchange.
func (p *Peer) AddRemoteICECandidate(candidate string) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	if err := pc.AddICECandidate(pionwebrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Start begins streaming: outbound captured frames from inRx onto the
// local track, and inbound Opus payloads from the remote track onto
// outTx. Call once the peer connection has completed negotiation, and
// again after every Pause to resume a held call. Returns ErrCallActive if
// a call is already active on this Peer.
//
// The receiver is only ever constructed once: pion fires OnTrack at most
// once per remote track, so a receiver created by an earlier Start must
// survive any intervening Pause and simply be resumed here, rather than
// rebuilt.
func (p *Peer) Start(ctx context.Context, inRx <-chan audio.EncodedAudioFrame, outTx chan<- audio.EncodedAudioFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sender != nil {
		return vacserr.ErrCallActive
	}

	if p.receiver == nil {
		p.receiver = newReceiver(ctx, p.pc, outTx, p.logger)
	} else {
		p.receiver.resume(outTx)
	}
	p.sender = newSender(ctx, p.track, inRx, p.logger)
	return nil
}

// Pause stops the Sender task and stops the Receiver task from forwarding,
// without tearing down the receiver's track reader or the peer connection.
// Used when a call is placed on hold; a subsequent Start resumes it.
func (p *Peer) Pause() {
	p.mu.Lock()
	sender, receiver := p.sender, p.receiver
	p.sender = nil
	p.mu.Unlock()

	if sender != nil {
		sender.stop()
	}
	if receiver != nil {
		receiver.pause()
	}
}

// Close tears down the Sender/Receiver tasks, the event broadcaster, and
// the underlying peer connection. Unlike Pause, this permanently stops the
// receiver's track reader.
func (p *Peer) Close() error {
	p.mu.Lock()
	sender, receiver := p.sender, p.receiver
	p.sender, p.receiver = nil, nil
	pc := p.pc
	p.mu.Unlock()

	if sender != nil {
		sender.stop()
	}
	// Closing the connection first ends the receiver's blocking ReadRTP,
	// which receiver.stop waits for.
	err := pc.Close()
	if receiver != nil {
		receiver.stop()
	}
	p.events.Close()

	return err
}
