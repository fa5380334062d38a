// Package dispatch implements the call dispatcher: the state machine that
// sits on top of a signaling.Client and turns its call-control messages
// into webrtc.Peer lifecycles and CallAudio attachments.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
	"github.com/vatsim-vacs/vacs-client/internal/protocol"
	webrtcpeer "github.com/vatsim-vacs/vacs-client/internal/webrtc"
	"github.com/vatsim-vacs/vacs-client/internal/signaling"
	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// UIEvents is the dispatcher's one-way notification surface to whatever
// presents the call list and connection state to a human — a CLI printer,
// a desktop window, a test spy. The dispatcher never blocks waiting on it.
type UIEvents interface {
	CallListAdd(peerID string, incoming bool)
	CallConnected(peerID string)
	CallDisconnected(peerID string)
	CallEnded(peerID string)
	CallError(peerID string, isLocal bool, reason vacserr.CallErrorReason)
}

// peerHandle is the subset of *webrtc.Peer the dispatcher drives. Tests
// substitute a fake implementation so call-control logic can be exercised
// without a real ICE gathering cycle.
type peerHandle interface {
	CreateOffer(ctx context.Context) (string, error)
	AcceptOffer(ctx context.Context, remoteSDP string) (string, error)
	AcceptAnswer(remoteSDP string) error
	AddRemoteICECandidate(candidate string) error
	Start(ctx context.Context, inRx <-chan audio.EncodedAudioFrame, outTx chan<- audio.EncodedAudioFrame) error
	Pause()
	Close() error
	Subscribe() (int, <-chan webrtcpeer.PeerEvent)
	Unsubscribe(id int)
}

type peerState struct {
	peer peerHandle
}

// Dispatcher owns the call-control state machine described by the
// signaling protocol: at most one active call, any number of held calls,
// at most one outgoing invite awaiting an accept, and any number of
// incoming invites awaiting a local accept/reject.
type Dispatcher struct {
	client     *signaling.Client
	iceServers []config.ICEServerConfig
	autoHangup time.Duration
	audio      callAudio
	ui         UIEvents
	logger     logging.Logger
	newPeer    func(ctx context.Context, iceServers []config.ICEServerConfig, logger logging.Logger) (peerHandle, error)

	mu             sync.Mutex
	activePeerID   string
	activePeer     *peerState
	heldCalls      map[string]*peerState
	outgoingPeerID string
	incoming       map[string]struct{}
	autoRejectAt   map[string]*time.Timer
	unansweredAt   map[string]*time.Timer

	wg sync.WaitGroup
}

// NewDispatcher builds a Dispatcher bound to client. Run must be called to
// start processing inbound signaling messages.
func NewDispatcher(client *signaling.Client, iceServers []config.ICEServerConfig, autoHangup time.Duration, audioEngine callAudio, ui UIEvents, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		client:       client,
		iceServers:   iceServers,
		autoHangup:   autoHangup,
		audio:        audioEngine,
		ui:           ui,
		logger:       logger,
		newPeer:      newRealPeer,
		heldCalls:    make(map[string]*peerState),
		incoming:     make(map[string]struct{}),
		autoRejectAt: make(map[string]*time.Timer),
		unansweredAt: make(map[string]*time.Timer),
	}
}

// newRealPeer is the Dispatcher's default peer constructor, wrapping
// webrtc.New so its *Peer satisfies peerHandle.
func newRealPeer(ctx context.Context, iceServers []config.ICEServerConfig, logger logging.Logger) (peerHandle, error) {
	return webrtcpeer.New(ctx, iceServers, logger)
}

// Run processes inbound call-control messages until ctx is cancelled. It
// does not return until then, so callers typically run it in its own
// goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	id, ch := d.client.Subscribe()
	defer d.client.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case msg, ok := <-ch:
			if !ok {
				d.logger.Warnw("dispatcher fell behind the signaling event stream, resubscribing")
				id, ch = d.client.Subscribe()
				continue
			}
			d.handleMessage(ctx, msg)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg protocol.SignalingMessage) {
	switch m := msg.(type) {
	case protocol.CallInviteMessage:
		d.handleInvite(ctx, m.PeerID)
	case protocol.CallAcceptMessage:
		d.handleAccept(ctx, m.PeerID)
	case protocol.CallOfferMessage:
		d.handleOffer(ctx, m.PeerID, m.SDP)
	case protocol.CallAnswerMessage:
		d.handleAnswer(m.PeerID, m.SDP)
	case protocol.CallRejectMessage:
		d.handleReject(m.PeerID)
	case protocol.CallEndMessage:
		d.handleRemoteEnd(m.PeerID)
	case protocol.CallIceCandidateMessage:
		d.handleRemoteICECandidate(m.PeerID, m.Candidate)
	case protocol.CallErrorMessage:
		d.handleRemoteCallError(m.PeerID, m.Reason)
	}
}

// InviteCall starts an outgoing call: sends CallInvite, starts ringback and
// the unanswered-call timer, and records peerID as the outgoing call.
func (d *Dispatcher) InviteCall(ctx context.Context, peerID string) error {
	d.mu.Lock()
	if d.activePeer != nil || d.outgoingPeerID != "" {
		d.mu.Unlock()
		return errors.New("dispatch: already in or starting a call")
	}
	d.outgoingPeerID = peerID
	d.mu.Unlock()

	if err := d.client.Send(ctx, protocol.CallInviteMessage{PeerID: peerID}); err != nil {
		d.mu.Lock()
		d.outgoingPeerID = ""
		d.mu.Unlock()
		return err
	}

	d.ui.CallListAdd(peerID, false)
	d.startUnansweredTimer(peerID)
	d.audio.StartRingback()
	return nil
}

// AcceptInvite accepts an incoming call invite: sends CallAccept and
// reserves peerID as the pending active call, awaiting its CallOffer.
func (d *Dispatcher) AcceptInvite(ctx context.Context, peerID string) error {
	d.mu.Lock()
	if _, ok := d.incoming[peerID]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("dispatch: no incoming invite from %s", peerID)
	}
	if d.activePeer != nil {
		d.mu.Unlock()
		return errors.New("dispatch: already in a call")
	}
	delete(d.incoming, peerID)
	empty := len(d.incoming) == 0
	d.activePeerID = peerID
	d.mu.Unlock()

	d.stopAutoRejectTimer(peerID)
	if empty {
		d.audio.StopRing()
	}
	return d.client.Send(ctx, protocol.CallAcceptMessage{PeerID: peerID})
}

// RejectCall rejects an incoming call invite: sends CallReject and removes
// peerID from the incoming set.
func (d *Dispatcher) RejectCall(ctx context.Context, peerID string) error {
	d.mu.Lock()
	if _, ok := d.incoming[peerID]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("dispatch: no incoming invite from %s", peerID)
	}
	delete(d.incoming, peerID)
	empty := len(d.incoming) == 0
	d.mu.Unlock()

	d.stopAutoRejectTimer(peerID)
	if empty {
		d.audio.StopRing()
	}
	return d.client.Send(ctx, protocol.CallRejectMessage{PeerID: peerID})
}

// HangUp ends an established (active or held) call, or withdraws a pending
// outgoing invite or incoming invite, and notifies the remote peer.
func (d *Dispatcher) HangUp(ctx context.Context, peerID string) error {
	d.mu.Lock()
	_, isIncoming := d.incoming[peerID]
	isOutgoing := d.outgoingPeerID == peerID
	_, isHeld := d.heldCalls[peerID]
	isActive := d.activePeerID == peerID
	d.mu.Unlock()

	switch {
	case isIncoming:
		return d.RejectCall(ctx, peerID)
	case isOutgoing:
		d.stopUnansweredTimer(peerID)
		d.audio.StopRingback()
		d.mu.Lock()
		d.outgoingPeerID = ""
		d.mu.Unlock()
		return d.client.Send(ctx, protocol.CallEndMessage{PeerID: peerID})
	case isActive || isHeld:
		if err := d.client.Send(ctx, protocol.CallEndMessage{PeerID: peerID}); err != nil {
			d.logger.Warnw("failed to send CallEnd", "peerId", peerID, "error", err)
		}
		d.cleanupCall(peerID)
		d.ui.CallEnded(peerID)
		if isActive {
			d.promoteNextHeld(ctx)
		}
		return nil
	default:
		return fmt.Errorf("dispatch: no call with peer %s", peerID)
	}
}

// HoldCall parks the active call in heldCalls, pausing its Peer and
// detaching its audio without tearing down the peer connection.
func (d *Dispatcher) HoldCall() error {
	d.mu.Lock()
	if d.activePeer == nil {
		d.mu.Unlock()
		return errors.New("dispatch: no active call to hold")
	}
	peerID := d.activePeerID
	ps := d.activePeer
	d.heldCalls[peerID] = ps
	d.activePeerID = ""
	d.activePeer = nil
	d.mu.Unlock()

	ps.peer.Pause()
	d.audio.DetachCall(peerID)
	d.ui.CallDisconnected(peerID)
	return nil
}

// ResumeCall promotes a held call back to active, reattaching audio.
func (d *Dispatcher) ResumeCall(ctx context.Context, peerID string) error {
	d.mu.Lock()
	ps, ok := d.heldCalls[peerID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("dispatch: no held call for peer %s", peerID)
	}
	if d.activePeer != nil {
		d.mu.Unlock()
		return errors.New("dispatch: already in a call; hold it first")
	}
	delete(d.heldCalls, peerID)
	d.activePeerID = peerID
	d.activePeer = ps
	d.mu.Unlock()

	return d.resumeAudio(ctx, peerID, ps.peer)
}

func (d *Dispatcher) resumeAudio(ctx context.Context, peerID string, peer peerHandle) error {
	inRx, outTx, err := d.audio.AttachCall(ctx, peerID)
	if err != nil {
		d.logger.Warnw("failed to attach call audio", "peerId", peerID, "error", err)
		return err
	}
	if err := peer.Start(ctx, inRx, outTx); err != nil {
		d.logger.Warnw("failed to start peer audio", "peerId", peerID, "error", err)
		d.audio.DetachCall(peerID)
		return err
	}
	d.ui.CallConnected(peerID)
	return nil
}

func (d *Dispatcher) promoteNextHeld(ctx context.Context) {
	d.mu.Lock()
	var nextID string
	var next *peerState
	for id, ps := range d.heldCalls {
		nextID, next = id, ps
		break
	}
	if next != nil {
		delete(d.heldCalls, nextID)
		d.activePeerID = nextID
		d.activePeer = next
	}
	d.mu.Unlock()

	if next == nil {
		return
	}
	if err := d.resumeAudio(ctx, nextID, next.peer); err != nil {
		d.cleanupCall(nextID)
		d.ui.CallEnded(nextID)
	}
}

func (d *Dispatcher) handleInvite(ctx context.Context, peerID string) {
	d.mu.Lock()
	busy := d.activePeer != nil || d.outgoingPeerID != ""
	if busy {
		d.mu.Unlock()
		if err := d.client.Send(ctx, protocol.CallRejectMessage{PeerID: peerID}); err != nil {
			d.logger.Warnw("failed to reject call while busy", "peerId", peerID, "error", err)
		}
		return
	}
	d.incoming[peerID] = struct{}{}
	d.mu.Unlock()

	d.ui.CallListAdd(peerID, true)
	d.audio.StartRing()
	d.startAutoRejectTimer(peerID)
}

func (d *Dispatcher) handleAccept(ctx context.Context, peerID string) {
	d.mu.Lock()
	if d.outgoingPeerID != peerID {
		d.mu.Unlock()
		d.logger.Warnw("received CallAccept for a peer we did not invite", "peerId", peerID)
		return
	}
	d.mu.Unlock()

	d.stopUnansweredTimer(peerID)
	d.audio.StopRingback()

	peer, err := d.newPeer(ctx, d.iceServers, d.logger)
	if err != nil {
		d.logger.Warnw("failed to create peer for outgoing call", "peerId", peerID, "error", err)
		d.sendCallError(ctx, peerID, vacserr.CallWebrtcFailure)
		d.clearOutgoing(peerID)
		return
	}

	sdp, err := peer.CreateOffer(ctx)
	if err != nil {
		d.logger.Warnw("failed to create offer", "peerId", peerID, "error", err)
		peer.Close()
		d.sendCallError(ctx, peerID, vacserr.CallWebrtcFailure)
		d.clearOutgoing(peerID)
		return
	}

	ps := &peerState{peer: peer}
	d.watchPeer(ctx, peerID, peer)

	d.mu.Lock()
	d.outgoingPeerID = ""
	d.activePeerID = peerID
	d.activePeer = ps
	d.mu.Unlock()

	if err := d.client.Send(ctx, protocol.CallOfferMessage{PeerID: peerID, SDP: sdp}); err != nil {
		d.logger.Warnw("failed to send call offer", "peerId", peerID, "error", err)
		d.cleanupCall(peerID)
	}
}

func (d *Dispatcher) handleOffer(ctx context.Context, peerID, sdp string) {
	d.mu.Lock()
	pending := d.activePeerID == peerID && d.activePeer == nil
	d.mu.Unlock()
	if !pending {
		d.logger.Warnw("received CallOffer for unexpected peer", "peerId", peerID)
		return
	}

	peer, err := d.newPeer(ctx, d.iceServers, d.logger)
	if err != nil {
		d.logger.Warnw("failed to create peer for incoming call", "peerId", peerID, "error", err)
		d.sendCallError(ctx, peerID, vacserr.CallWebrtcFailure)
		d.clearActive(peerID)
		return
	}

	answer, err := peer.AcceptOffer(ctx, sdp)
	if err != nil {
		d.logger.Warnw("failed to accept offer", "peerId", peerID, "error", err)
		peer.Close()
		d.sendCallError(ctx, peerID, vacserr.CallWebrtcFailure)
		d.clearActive(peerID)
		return
	}

	d.watchPeer(ctx, peerID, peer)
	d.mu.Lock()
	d.activePeer = &peerState{peer: peer}
	d.mu.Unlock()

	if err := d.client.Send(ctx, protocol.CallAnswerMessage{PeerID: peerID, SDP: answer}); err != nil {
		d.logger.Warnw("failed to send call answer", "peerId", peerID, "error", err)
		d.cleanupCall(peerID)
	}
}

func (d *Dispatcher) handleAnswer(peerID, sdp string) {
	d.mu.Lock()
	active := d.activePeerID == peerID
	ps := d.activePeer
	d.mu.Unlock()
	if !active || ps == nil {
		d.logger.Warnw("received CallAnswer for unexpected peer", "peerId", peerID)
		return
	}
	if err := ps.peer.AcceptAnswer(sdp); err != nil {
		d.logger.Warnw("failed to accept answer", "peerId", peerID, "error", err)
	}
}

func (d *Dispatcher) handleReject(peerID string) {
	d.clearOutgoing(peerID)
	d.ui.CallEnded(peerID)
}

func (d *Dispatcher) handleRemoteEnd(peerID string) {
	d.cleanupCall(peerID)
	d.ui.CallEnded(peerID)
}

func (d *Dispatcher) handleRemoteICECandidate(peerID, candidate string) {
	d.mu.Lock()
	var target peerHandle
	if d.activePeerID == peerID && d.activePeer != nil {
		target = d.activePeer.peer
	} else if ps, ok := d.heldCalls[peerID]; ok {
		target = ps.peer
	}
	d.mu.Unlock()

	if target == nil {
		d.logger.Warnw("received ICE candidate for unknown peer", "peerId", peerID)
		return
	}
	if err := target.AddRemoteICECandidate(candidate); err != nil {
		d.logger.Warnw("failed to add remote ICE candidate", "peerId", peerID, "error", err)
	}
}

func (d *Dispatcher) handleRemoteCallError(peerID string, reason protocol.CallErrorReason) {
	d.logger.Warnw("peer reported a call error", "peerId", peerID, "reason", reason)
	d.cleanupCall(peerID)
	d.ui.CallError(peerID, false, vacserr.CallErrorReason(reason))
}

// watchPeer spawns the per-call goroutine that turns a Peer's broadcast
// event stream into signaling traffic (ICE candidates) and connection-state
// driven audio attach/detach.
func (d *Dispatcher) watchPeer(ctx context.Context, peerID string, peer peerHandle) {
	_, events := peer.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range events {
			switch ev.Kind {
			case webrtcpeer.EventConnectionState:
				d.onPeerState(ctx, peerID, ev.State)
			case webrtcpeer.EventICECandidate:
				if err := d.client.Send(ctx, protocol.CallIceCandidateMessage{PeerID: peerID, Candidate: ev.Text}); err != nil {
					d.logger.Warnw("failed to send ICE candidate", "peerId", peerID, "error", err)
				}
			case webrtcpeer.EventError:
				d.logger.Warnw("peer reported an error event", "peerId", peerID, "error", ev.Text)
			}
		}
	}()
}

func (d *Dispatcher) onPeerState(ctx context.Context, peerID string, state webrtcpeer.ConnectionState) {
	switch state {
	case webrtcpeer.StateConnected:
		d.mu.Lock()
		isActive := d.activePeerID == peerID && d.activePeer != nil
		ps := d.activePeer
		_, isHeld := d.heldCalls[peerID]
		d.mu.Unlock()

		if isActive {
			if err := d.resumeAudio(ctx, peerID, ps.peer); err != nil {
				d.sendCallError(ctx, peerID, vacserr.CallAudioFailure)
				d.cleanupCall(peerID)
			}
		} else if isHeld {
			d.logger.Infow("held peer connection reconnected", "peerId", peerID)
			d.ui.CallConnected(peerID)
		}

	case webrtcpeer.StateDisconnected:
		d.mu.Lock()
		isActive := d.activePeerID == peerID
		d.mu.Unlock()

		if isActive {
			d.mu.Lock()
			ps := d.activePeer
			d.mu.Unlock()
			if ps != nil {
				ps.peer.Pause()
			}
			d.audio.DetachCall(peerID)
			d.promoteNextHeld(ctx)

			// A held call took over the active slot: park the disconnected
			// call in the held map so a later Connected, Failed or Closed
			// still finds it.
			d.mu.Lock()
			if ps != nil && d.activePeerID != peerID {
				d.heldCalls[peerID] = ps
			}
			d.mu.Unlock()
		}
		d.ui.CallDisconnected(peerID)

	case webrtcpeer.StateFailed:
		d.cleanupCall(peerID)
		d.sendCallError(ctx, peerID, vacserr.CallWebrtcFailure)
		d.ui.CallError(peerID, true, vacserr.CallWebrtcFailure)

	case webrtcpeer.StateClosed:
		d.cleanupCall(peerID)
		d.ui.CallEnded(peerID)
	}
}

func (d *Dispatcher) sendCallError(ctx context.Context, peerID string, reason vacserr.CallErrorReason) {
	if err := d.client.Send(ctx, protocol.CallErrorMessage{PeerID: peerID, Reason: protocol.CallErrorReason(reason)}); err != nil {
		d.logger.Warnw("failed to send call error", "peerId", peerID, "error", err)
	}
}

func (d *Dispatcher) clearOutgoing(peerID string) {
	d.mu.Lock()
	if d.outgoingPeerID == peerID {
		d.outgoingPeerID = ""
	}
	d.mu.Unlock()
	d.stopUnansweredTimer(peerID)
	d.audio.StopRingback()
}

func (d *Dispatcher) clearActive(peerID string) {
	d.mu.Lock()
	if d.activePeerID == peerID {
		d.activePeerID = ""
		d.activePeer = nil
	}
	d.mu.Unlock()
}

// cleanupCall tears down peerID wherever it lives (active or held), closing
// its Peer and detaching audio if it was the active call. It is a no-op for
// a peerID that matches none of active/held/incoming/outgoing.
func (d *Dispatcher) cleanupCall(peerID string) {
	d.mu.Lock()
	var ps *peerState
	wasActive := false
	if d.activePeerID == peerID && d.activePeer != nil {
		ps = d.activePeer
		d.activePeer = nil
		d.activePeerID = ""
		wasActive = true
	} else if held, ok := d.heldCalls[peerID]; ok {
		ps = held
		delete(d.heldCalls, peerID)
	}
	delete(d.incoming, peerID)
	if d.outgoingPeerID == peerID {
		d.outgoingPeerID = ""
	}
	d.mu.Unlock()

	d.stopAutoRejectTimer(peerID)
	d.stopUnansweredTimer(peerID)

	if wasActive {
		d.audio.DetachCall(peerID)
	}
	if ps != nil {
		if err := ps.peer.Close(); err != nil {
			d.logger.Warnw("failed to close peer", "peerId", peerID, "error", err)
		}
	}
}

// CleanupSignaling tears down every in-progress call (active, held,
// incoming, outgoing) and stops the ring/ringback cues. Called by the
// reconnection policy before each fresh login so no call survives a
// signaling disconnect.
func (d *Dispatcher) CleanupSignaling() {
	d.mu.Lock()
	var toClose []string
	if d.activePeerID != "" {
		toClose = append(toClose, d.activePeerID)
	}
	for id := range d.heldCalls {
		toClose = append(toClose, id)
	}
	d.incoming = make(map[string]struct{})
	d.outgoingPeerID = ""
	d.mu.Unlock()

	d.audio.StopRing()
	d.audio.StopRingback()

	for _, id := range toClose {
		d.cleanupCall(id)
		d.ui.CallEnded(id)
	}
}

func (d *Dispatcher) startAutoRejectTimer(peerID string) {
	t := time.AfterFunc(d.autoHangup, func() {
		d.mu.Lock()
		_, pending := d.incoming[peerID]
		if pending {
			delete(d.incoming, peerID)
		}
		empty := len(d.incoming) == 0
		d.mu.Unlock()
		if !pending {
			return
		}
		if empty {
			d.audio.StopRing()
		}
		if err := d.client.Send(context.Background(), protocol.CallRejectMessage{PeerID: peerID}); err != nil {
			d.logger.Warnw("failed to auto-reject unanswered invite", "peerId", peerID, "error", err)
		}
		d.ui.CallEnded(peerID)
	})
	d.mu.Lock()
	d.autoRejectAt[peerID] = t
	d.mu.Unlock()
}

func (d *Dispatcher) stopAutoRejectTimer(peerID string) {
	d.mu.Lock()
	t, ok := d.autoRejectAt[peerID]
	delete(d.autoRejectAt, peerID)
	d.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// startUnansweredTimer fires when an outgoing invite goes unanswered: the
// caller locally ends the call, stops ringback, and best-effort notifies
// the callee in case it is merely slow to show the invite in its UI.
func (d *Dispatcher) startUnansweredTimer(peerID string) {
	t := time.AfterFunc(d.autoHangup, func() {
		d.mu.Lock()
		pending := d.outgoingPeerID == peerID
		if pending {
			d.outgoingPeerID = ""
		}
		d.mu.Unlock()
		if !pending {
			return
		}
		d.audio.StopRingback()
		if err := d.client.Send(context.Background(), protocol.CallEndMessage{PeerID: peerID}); err != nil {
			d.logger.Warnw("failed to send courtesy CallEnd for unanswered invite", "peerId", peerID, "error", err)
		}
		d.ui.CallEnded(peerID)
	})
	d.mu.Lock()
	d.unansweredAt[peerID] = t
	d.mu.Unlock()
}

func (d *Dispatcher) stopUnansweredTimer(peerID string) {
	d.mu.Lock()
	t, ok := d.unansweredAt[peerID]
	delete(d.unansweredAt, peerID)
	d.mu.Unlock()
	if ok {
		t.Stop()
	}
}
