package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalLogin(t *testing.T) {
	msg := LoginMessage{Token: "token1", ProtocolVersion: "0.0.0"}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Login","token":"token1","protocolVersion":"0.0.0"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestMarshalLoginFailure(t *testing.T) {
	msg := LoginFailureMessage{Reason: LoginFailureDuplicateID}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"LoginFailure","reason":"DuplicateId"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestMarshalLogout(t *testing.T) {
	out, err := Marshal(LogoutMessage{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Logout"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, LogoutMessage{}, back)
}

func TestMarshalCallOffer(t *testing.T) {
	msg := CallOfferMessage{SDP: "sdp1", PeerID: "client1"}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"CallOffer","sdp":"sdp1","peerId":"client1"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestMarshalCallAnswer(t *testing.T) {
	msg := CallAnswerMessage{SDP: "sdp1", PeerID: "client1"}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"CallAnswer","sdp":"sdp1","peerId":"client1"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestMarshalCallReject(t *testing.T) {
	msg := CallRejectMessage{PeerID: "client1"}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"CallReject","peerId":"client1"}`, string(out))
}

func TestMarshalCallEnd(t *testing.T) {
	msg := CallEndMessage{PeerID: "client1"}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"CallEnd","peerId":"client1"}`, string(out))
}

func TestMarshalCallIceCandidate(t *testing.T) {
	msg := CallIceCandidateMessage{Candidate: "candidate1", PeerID: "client1"}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"CallIceCandidate","candidate":"candidate1","peerId":"client1"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestMarshalClientConnected(t *testing.T) {
	msg := ClientConnectedMessage{Client: ClientInfo{ID: "client1", DisplayName: "station1", Frequency: "100.000"}}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"ClientConnected","client":{"id":"client1","displayName":"station1","frequency":"100.000"}}`,
		string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestMarshalClientDisconnected(t *testing.T) {
	msg := ClientDisconnectedMessage{ID: "client1"}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ClientDisconnected","id":"client1"}`, string(out))
}

func TestMarshalListClients(t *testing.T) {
	out, err := Marshal(ListClientsMessage{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ListClients"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, ListClientsMessage{}, back)
}

func TestMarshalClientList(t *testing.T) {
	msg := ClientListMessage{Clients: []ClientInfo{
		{ID: "client1", DisplayName: "station1", Frequency: "100.000"},
		{ID: "client2", DisplayName: "station2", Frequency: "200.000"},
	}}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"ClientList","clients":[{"id":"client1","displayName":"station1","frequency":"100.000"},{"id":"client2","displayName":"station2","frequency":"200.000"}]}`,
		string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	got, ok := back.(ClientListMessage)
	require.True(t, ok)
	assert.Len(t, got.Clients, 2)
	assert.Equal(t, "client1", got.Clients[0].ID)
	assert.Equal(t, "client2", got.Clients[1].ID)
}

func TestMarshalErrorNoPeer(t *testing.T) {
	msg := ErrorMessage{Reason: NewUnitErrorReason(ErrorReasonMalformedMessage), PeerID: nil}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Error","reason":"MalformedMessage","peerId":null}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	got, ok := back.(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, ErrorReasonMalformedMessage, got.Reason.Kind)
	assert.Nil(t, got.PeerID)
}

func TestMarshalErrorWithPeer(t *testing.T) {
	peerID := "client1"
	msg := ErrorMessage{Reason: NewDetailedErrorReason(ErrorReasonUnexpectedMessage, "error1"), PeerID: &peerID}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Error","reason":{"UnexpectedMessage":"error1"},"peerId":"client1"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	got, ok := back.(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, ErrorReasonUnexpectedMessage, got.Reason.Kind)
	assert.Equal(t, "error1", got.Reason.Detail)
	require.NotNil(t, got.PeerID)
	assert.Equal(t, "client1", *got.PeerID)
}

func TestUnmarshalUnknownTypeRejected(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"TotallyMadeUp"}`))
	assert.Error(t, err)
}

func TestUnmarshalMalformedEnvelopeRejected(t *testing.T) {
	_, err := Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestClientInfoMessageRoundTrip(t *testing.T) {
	msg := ClientInfoMessage{Own: true, Info: ClientInfo{ID: "c1", DisplayName: "KJFK_APP", Frequency: "125.350"}}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ClientInfo","own":true,"info":{"id":"c1","displayName":"KJFK_APP","frequency":"125.350"}}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestCallErrorMessageRoundTrip(t *testing.T) {
	msg := CallErrorMessage{PeerID: "c2", Reason: CallErrorWebrtcFailure}

	out, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"CallError","peerId":"c2","reason":"WebrtcFailure"}`, string(out))

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}
