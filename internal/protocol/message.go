// Package protocol implements the signaling wire format: JSON messages over
// a single websocket, discriminated by a "type" field with camelCase
// envelope keys and PascalCase enum variants. Every SignalingMessage variant
// round-trips Marshal/Unmarshal byte-for-byte, matching the exact framing
// the signaling server and every other client on the wire expect.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ClientInfo is a client as observed by the signaling server: its id (the
// VATSIM CID), display name (ATC callsign), and primary frequency.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Frequency   string `json:"frequency"`
}

// LoginFailureReason enumerates why the server rejected a Login message.
type LoginFailureReason string

const (
	LoginFailureUnauthorized                 LoginFailureReason = "Unauthorized"
	LoginFailureDuplicateID                  LoginFailureReason = "DuplicateId"
	LoginFailureInvalidCredentials           LoginFailureReason = "InvalidCredentials"
	LoginFailureNoActiveVatsimConnection     LoginFailureReason = "NoActiveVatsimConnection"
	LoginFailureTimeout                      LoginFailureReason = "Timeout"
	LoginFailureIncompatibleProtocolVersion  LoginFailureReason = "IncompatibleProtocolVersion"
)

// CallErrorReason enumerates why a CallError message was raised.
type CallErrorReason string

const (
	CallErrorWebrtcFailure    CallErrorReason = "WebrtcFailure"
	CallErrorAudioFailure     CallErrorReason = "AudioFailure"
	CallErrorCallFailure      CallErrorReason = "CallFailure"
	CallErrorSignalingFailure CallErrorReason = "SignalingFailure"
	CallErrorOther            CallErrorReason = "Other"
)

// ErrorReasonKind is the discriminator of an ErrorReason. Two kinds
// (Internal, UnexpectedMessage) carry a string payload; the other two
// (MalformedMessage, PeerConnection) are unit variants.
type ErrorReasonKind string

const (
	ErrorReasonMalformedMessage  ErrorReasonKind = "MalformedMessage"
	ErrorReasonInternal         ErrorReasonKind = "Internal"
	ErrorReasonPeerConnection   ErrorReasonKind = "PeerConnection"
	ErrorReasonUnexpectedMessage ErrorReasonKind = "UnexpectedMessage"
)

// ErrorReason mirrors the wire protocol's mixed unit/tuple-payload enum:
// unit variants serialize as a bare JSON string ("MalformedMessage"),
// payload-carrying variants serialize as a single-key tagged object
// ({"UnexpectedMessage":"..."}).
type ErrorReason struct {
	Kind   ErrorReasonKind
	Detail string
}

// NewUnitErrorReason builds an ErrorReason for a payload-less kind.
func NewUnitErrorReason(kind ErrorReasonKind) ErrorReason {
	return ErrorReason{Kind: kind}
}

// NewDetailedErrorReason builds an ErrorReason carrying a string payload.
func NewDetailedErrorReason(kind ErrorReasonKind, detail string) ErrorReason {
	return ErrorReason{Kind: kind, Detail: detail}
}

func (r ErrorReason) hasPayload() bool {
	return r.Kind == ErrorReasonInternal || r.Kind == ErrorReasonUnexpectedMessage
}

// MarshalJSON implements json.Marshaler.
func (r ErrorReason) MarshalJSON() ([]byte, error) {
	if !r.hasPayload() {
		return json.Marshal(string(r.Kind))
	}
	detail, err := json.Marshal(r.Detail)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(string(r.Kind))
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(kind)+len(detail)+3))
	buf.WriteByte('{')
	buf.Write(kind)
	buf.WriteByte(':')
	buf.Write(detail)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ErrorReason) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var kind string
		if err := json.Unmarshal(trimmed, &kind); err != nil {
			return err
		}
		r.Kind = ErrorReasonKind(kind)
		r.Detail = ""
		return nil
	}

	var obj map[string]string
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	if len(obj) != 1 {
		return fmt.Errorf("protocol: ErrorReason object must have exactly one key, got %d", len(obj))
	}
	for k, v := range obj {
		r.Kind = ErrorReasonKind(k)
		r.Detail = v
	}
	return nil
}

// SignalingMessage is implemented by every concrete message variant. The
// marker method keeps arbitrary types from satisfying the interface.
type SignalingMessage interface {
	signalingMessage()
}

type (
	// LoginMessage authenticates the client with the signaling server.
	LoginMessage struct {
		Token           string `json:"token"`
		ProtocolVersion string `json:"protocolVersion"`
	}

	// LoginFailureMessage is the server's rejection of a LoginMessage.
	LoginFailureMessage struct {
		Reason LoginFailureReason `json:"reason"`
	}

	// LogoutMessage is a one-shot graceful-disconnect notice.
	LogoutMessage struct{}

	// CallInviteMessage initiates a call with peerId (target when sent,
	// source when received — the server rewrites peerId on delivery).
	CallInviteMessage struct {
		PeerID string `json:"peerId"`
	}

	// ClientInfoMessage carries a connected client's (possibly own)
	// current info. own=true on the reply to a successful Login.
	ClientInfoMessage struct {
		Own  bool       `json:"own"`
		Info ClientInfo `json:"info"`
	}

	// CallAcceptMessage accepts an incoming CallInvite.
	CallAcceptMessage struct {
		PeerID string `json:"peerId"`
	}

	// CallRejectMessage rejects an incoming CallInvite.
	CallRejectMessage struct {
		PeerID string `json:"peerId"`
	}

	// CallOfferMessage carries the WebRTC offer SDP.
	CallOfferMessage struct {
		SDP    string `json:"sdp"`
		PeerID string `json:"peerId"`
	}

	// CallAnswerMessage carries the WebRTC answer SDP.
	CallAnswerMessage struct {
		SDP    string `json:"sdp"`
		PeerID string `json:"peerId"`
	}

	// CallEndMessage gracefully ends an active call.
	CallEndMessage struct {
		PeerID string `json:"peerId"`
	}

	// CallErrorMessage reports a per-call fault to the other peer.
	CallErrorMessage struct {
		PeerID string          `json:"peerId"`
		Reason CallErrorReason `json:"reason"`
	}

	// CallIceCandidateMessage trickles one ICE candidate to the peer.
	CallIceCandidateMessage struct {
		Candidate string `json:"candidate"`
		PeerID    string `json:"peerId"`
	}

	// PeerNotFoundMessage is the server's reply when peerId is unknown.
	PeerNotFoundMessage struct {
		PeerID string `json:"peerId"`
	}

	// ClientConnectedMessage is broadcast when a new client logs in.
	ClientConnectedMessage struct {
		Client ClientInfo `json:"client"`
	}

	// ClientDisconnectedMessage is broadcast when a client disconnects.
	ClientDisconnectedMessage struct {
		ID string `json:"id"`
	}

	// ListClientsMessage requests the full connected-client list.
	ListClientsMessage struct{}

	// ClientListMessage is the full connected-client list, sent after
	// login and in reply to ListClientsMessage.
	ClientListMessage struct {
		Clients []ClientInfo `json:"clients"`
	}

	// ErrorMessage is a generic protocol-level fault report.
	ErrorMessage struct {
		Reason ErrorReason `json:"reason"`
		PeerID *string     `json:"peerId"`
	}
)

func (LoginMessage) signalingMessage()            {}
func (LoginFailureMessage) signalingMessage()     {}
func (LogoutMessage) signalingMessage()           {}
func (CallInviteMessage) signalingMessage()       {}
func (ClientInfoMessage) signalingMessage()       {}
func (CallAcceptMessage) signalingMessage()       {}
func (CallRejectMessage) signalingMessage()       {}
func (CallOfferMessage) signalingMessage()        {}
func (CallAnswerMessage) signalingMessage()       {}
func (CallEndMessage) signalingMessage()          {}
func (CallErrorMessage) signalingMessage()        {}
func (CallIceCandidateMessage) signalingMessage() {}
func (PeerNotFoundMessage) signalingMessage()     {}
func (ClientConnectedMessage) signalingMessage()  {}
func (ClientDisconnectedMessage) signalingMessage() {}
func (ListClientsMessage) signalingMessage()      {}
func (ClientListMessage) signalingMessage()       {}
func (ErrorMessage) signalingMessage()            {}

// messageType returns the wire "type" discriminator for a concrete message.
func messageType(msg SignalingMessage) (string, error) {
	switch msg.(type) {
	case LoginMessage:
		return "Login", nil
	case LoginFailureMessage:
		return "LoginFailure", nil
	case LogoutMessage:
		return "Logout", nil
	case CallInviteMessage:
		return "CallInvite", nil
	case ClientInfoMessage:
		return "ClientInfo", nil
	case CallAcceptMessage:
		return "CallAccept", nil
	case CallRejectMessage:
		return "CallReject", nil
	case CallOfferMessage:
		return "CallOffer", nil
	case CallAnswerMessage:
		return "CallAnswer", nil
	case CallEndMessage:
		return "CallEnd", nil
	case CallErrorMessage:
		return "CallError", nil
	case CallIceCandidateMessage:
		return "CallIceCandidate", nil
	case PeerNotFoundMessage:
		return "PeerNotFound", nil
	case ClientConnectedMessage:
		return "ClientConnected", nil
	case ClientDisconnectedMessage:
		return "ClientDisconnected", nil
	case ListClientsMessage:
		return "ListClients", nil
	case ClientListMessage:
		return "ClientList", nil
	case ErrorMessage:
		return "Error", nil
	default:
		return "", fmt.Errorf("protocol: unknown SignalingMessage type %T", msg)
	}
}

// Marshal serializes a SignalingMessage into its wire JSON form: the "type"
// discriminator first, followed by the variant's own fields in declared
// order — matching the envelope the signaling server emits byte-for-byte.
func Marshal(msg SignalingMessage) ([]byte, error) {
	typ, err := messageType(msg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
	}

	typeField, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}

	if string(payload) == "{}" {
		return []byte(`{"type":` + string(typeField) + `}`), nil
	}
	// payload always starts with '{' for a struct; splice the type field
	// in as the first key and keep every other field in its original order.
	return []byte(`{"type":` + string(typeField) + `,` + string(payload[1:])), nil
}

// Unmarshal parses a wire JSON message into its concrete SignalingMessage
// variant based on the "type" discriminator. Unknown variants are rejected
// as a protocol-level error rather than silently ignored.
func Unmarshal(data []byte) (SignalingMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("protocol: malformed envelope: %w", err)
	}

	switch envelope.Type {
	case "Login":
		var m LoginMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "LoginFailure":
		var m LoginFailureMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "Logout":
		return LogoutMessage{}, nil
	case "CallInvite":
		var m CallInviteMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "ClientInfo":
		var m ClientInfoMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "CallAccept":
		var m CallAcceptMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "CallReject":
		var m CallRejectMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "CallOffer":
		var m CallOfferMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "CallAnswer":
		var m CallAnswerMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "CallEnd":
		var m CallEndMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "CallError":
		var m CallErrorMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "CallIceCandidate":
		var m CallIceCandidateMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "PeerNotFound":
		var m PeerNotFoundMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "ClientConnected":
		var m ClientConnectedMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "ClientDisconnected":
		var m ClientDisconnectedMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "ListClients":
		return ListClientsMessage{}, nil
	case "ClientList":
		var m ClientListMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "Error":
		var m ErrorMessage
		if err := unmarshalInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("protocol: unknown message type %q", envelope.Type)
	}
}

func unmarshalInto[T any](data []byte, dst *T) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("protocol: malformed payload: %w", err)
	}
	return nil
}
