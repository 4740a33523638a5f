package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := Encode(KindCallIncoming, CallIncoming{
		From:      "u-1",
		FromName:  "Alice",
		FromPhoto: "https://example.org/a.png",
	})
	require.NoError(t, err)

	evt, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, KindCallIncoming, evt.Kind)
	require.NotNil(t, evt.Incoming)
	assert.Equal(t, "u-1", evt.Incoming.From)
	assert.Equal(t, "Alice", evt.Incoming.FromName)
}

func TestDecodeRoster(t *testing.T) {
	raw, err := Encode(KindUsersOnline, []User{
		{ID: "a1", DisplayName: "Alice"},
		{ID: "b1", DisplayName: "Bob"},
	})
	require.NoError(t, err)

	evt, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Len(t, evt.Roster, 2)
	assert.Equal(t, "b1", evt.Roster[1].ID)
}

func TestDecodeCallEndedEmptyPayload(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"kind":"call:ended"}`))
	require.NoError(t, err)
	require.NotNil(t, evt.Ended)
	assert.Empty(t, evt.Ended.From)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"kind":"call:bogus","data":{}}`))
	assert.Error(t, err)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `{{{`,
		"incoming no from":    `{"kind":"call:incoming","data":{"fromName":"x"}}`,
		"chat no sender":      `{"kind":"message:received","data":{"content":"hi"}}`,
		"rtc offer no from":   `{"kind":"rtc:offer","data":{"payload":{}}}`,
		"roster wrong shape":  `{"kind":"users:online","data":{"id":"a"}}`,
		"incoming bad struct": `{"kind":"call:incoming","data":[1,2]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeRTCPayloadOpaque(t *testing.T) {
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
	raw, err := Encode(KindRTCOffer, RTCSignal{To: "b1", From: "a1", Payload: payload})
	require.NoError(t, err)

	evt, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, evt.RTC)
	assert.JSONEq(t, string(payload), string(evt.RTC.Payload))
}
