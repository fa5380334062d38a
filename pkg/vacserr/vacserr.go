// Package vacserr defines the six typed error kinds the rest of VACS
// surfaces across subsystem façades. Callers use errors.As against these
// concrete types rather than matching on error strings; raw underlying
// errors are wrapped via Unwrap so %w chains and errors.Is still work.
package vacserr

import (
	"errors"
	"fmt"
)

// TransportOp names the websocket operation a TransportError originated from.
type TransportOp string

const (
	TransportSend    TransportOp = "send"
	TransportReceive TransportOp = "receive"
	TransportClose   TransportOp = "close"
)

// TransportError reports a websocket send/recv/close failure.
type TransportError struct {
	Op  TransportOp
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a TransportError for the given operation.
func NewTransportError(op TransportOp, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// ProtocolError reports a malformed message, unexpected discriminator,
// missing required field, or incompatible protocol version.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError builds a ProtocolError with no underlying cause.
func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

// WrapProtocolError builds a ProtocolError wrapping an underlying cause.
func WrapProtocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// LoginFailureReason enumerates why a login attempt was rejected by the
// signaling server. Values match the wire protocol's LoginFailure.reason.
type LoginFailureReason string

const (
	LoginUnauthorized               LoginFailureReason = "Unauthorized"
	LoginDuplicateID                LoginFailureReason = "DuplicateId"
	LoginInvalidCredentials         LoginFailureReason = "InvalidCredentials"
	LoginNoActiveVatsimConnection   LoginFailureReason = "NoActiveVatsimConnection"
	LoginTimeout                    LoginFailureReason = "Timeout"
	LoginIncompatibleProtocolVersion LoginFailureReason = "IncompatibleProtocolVersion"
)

// Retryable reports whether the reconnect loop should attempt another login
// after this failure. Unauthorized, DuplicateId, InvalidCredentials, and
// IncompatibleProtocolVersion are permanent for the current credentials.
func (r LoginFailureReason) Retryable() bool {
	switch r {
	case LoginUnauthorized, LoginDuplicateID, LoginInvalidCredentials, LoginIncompatibleProtocolVersion:
		return false
	default:
		return true
	}
}

// LoginError reports a rejected login attempt.
type LoginError struct {
	Reason LoginFailureReason
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed: %s", e.Reason)
}

// NewLoginError builds a LoginError for the given reason.
func NewLoginError(reason LoginFailureReason) *LoginError {
	return &LoginError{Reason: reason}
}

// CallErrorReason enumerates why a call failed, matching the wire
// protocol's CallError.reason.
type CallErrorReason string

const (
	CallWebrtcFailure    CallErrorReason = "WebrtcFailure"
	CallAudioFailure     CallErrorReason = "AudioFailure"
	CallFailure          CallErrorReason = "CallFailure"
	CallSignalingFailure CallErrorReason = "SignalingFailure"
	CallOther            CallErrorReason = "Other"
)

// CallError reports a per-call fault. PeerID identifies which call failed
// so the dispatcher can clean up that call alone and preserve others.
type CallError struct {
	PeerID string
	Reason CallErrorReason
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call error with peer %s: %s", e.PeerID, e.Reason)
}

// NewCallError builds a CallError for the given peer and reason.
func NewCallError(peerID string, reason CallErrorReason) *CallError {
	return &CallError{PeerID: peerID, Reason: reason}
}

// DeviceError reports a host audio layer failure: no supported stream
// configuration, or a device disappearing mid-stream.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error during %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NewDeviceError wraps err as a DeviceError for the given operation.
func NewDeviceError(op string, err error) *DeviceError {
	return &DeviceError{Op: op, Err: err}
}

// ErrCallActive is returned by Peer.Start when a call is already active on
// that peer (a sender already exists). Mirrors the original's
// WebrtcError::CallActive, which carries no payload of its own.
var ErrCallActive = errors.New("webrtc: call already active")

// KeybindError reports a platform keybind runtime failure: a missing
// keybind for the configured mode, a startup timeout, or a native listener
// error.
type KeybindError struct {
	Op  string
	Err error
}

func (e *KeybindError) Error() string {
	return fmt.Sprintf("keybind error during %s: %v", e.Op, e.Err)
}

func (e *KeybindError) Unwrap() error { return e.Err }

// NewKeybindError wraps err as a KeybindError for the given operation.
func NewKeybindError(op string, err error) *KeybindError {
	return &KeybindError{Op: op, Err: err}
}
