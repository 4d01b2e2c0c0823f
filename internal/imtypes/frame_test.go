package imtypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeFrame(t *testing.T) {
	env, err := NewEnvelope(TargetRoom, "c1", EventMessage, MessageEvent{Action: ActionUpdate, Channel: "c1", MessageID: "m1"})
	require.NoError(t, err)

	raw, err := env.Frame()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, EventMessage, frame.Event)
	assert.JSONEq(t, `{"action":"update","channel":"c1","messageId":"m1"}`, string(frame.Data))
}

func TestEnvelopeRoundTripsOverTheWire(t *testing.T) {
	env, err := NewEnvelope(TargetUser, "u1", EventFriendRequest, FriendEvent{Name: "Bob"})
	require.NoError(t, err)
	env.ExceptSession = "s1"

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TargetUser, decoded.Target)
	assert.Equal(t, "u1", decoded.To)
	assert.Equal(t, "s1", decoded.ExceptSession)
	assert.JSONEq(t, `{"name":"Bob"}`, string(decoded.Data))
}
