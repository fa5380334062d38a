package webrtc

import webrtcinternal "github.com/vatsim-vacs/vacs-client/internal/webrtc/internal"

// ConnectionState, EventKind and PeerEvent are re-exported from the
// internal broadcaster package so callers outside this package's own tree
// (the call dispatcher, tests) can observe a Peer's event stream without
// reaching into an internal/ package they are not allowed to import.
type (
	ConnectionState = webrtcinternal.ConnectionState
	EventKind       = webrtcinternal.EventKind
	PeerEvent       = webrtcinternal.PeerEvent
)

const (
	StateNew        = webrtcinternal.StateNew
	StateConnecting = webrtcinternal.StateConnecting
	StateConnected  = webrtcinternal.StateConnected
	StateDisconnected = webrtcinternal.StateDisconnected
	StateFailed     = webrtcinternal.StateFailed
	StateClosed     = webrtcinternal.StateClosed

	EventConnectionState = webrtcinternal.EventConnectionState
	EventICECandidate    = webrtcinternal.EventICECandidate
	EventError           = webrtcinternal.EventError
)
