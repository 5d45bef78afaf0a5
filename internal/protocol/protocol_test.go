package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode(EventCodeChange, CodeChangePayload{RoomID: "r1", Code: "x = 1"})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, EventCodeChange, env.Event)

	var payload CodeChangePayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "x = 1", payload.Code)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err, "missing event name")
}

func TestJoinPayloadValidation(t *testing.T) {
	valid := JoinPayload{RoomID: "r1", Username: "alice", UserID: "u1"}
	assert.NoError(t, valid.Validate())

	// userId is optional; room and username are not.
	assert.NoError(t, (&JoinPayload{RoomID: "r1", Username: "alice"}).Validate())
	assert.Error(t, (&JoinPayload{Username: "alice"}).Validate())
	assert.Error(t, (&JoinPayload{RoomID: "r1"}).Validate())
}

func TestClientInfoNullUserID(t *testing.T) {
	data, err := json.Marshal(ClientInfo{SocketID: "s1", Username: "Anonymous"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"socketId":"s1","username":"Anonymous","userId":null}`, string(data))
}
