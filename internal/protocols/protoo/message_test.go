package protoo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	for _, ca := range []struct {
		name string
		msg  Message
	}{
		{
			"request",
			Message{
				Request: true,
				ID:      12,
				Method:  "join",
				Data:    json.RawMessage(`{"displayName":"A"}`),
			},
		},
		{
			"response ok",
			Message{
				Response: true,
				ID:       12,
				OK:       true,
				Data:     json.RawMessage(`{"peers":[]}`),
			},
		},
		{
			"response error",
			Message{
				Response:    true,
				ID:          12,
				ErrorCode:   500,
				ErrorReason: "unknown request.method 'foo'",
			},
		},
		{
			"notification",
			Message{
				Notification: true,
				Method:       "peerClosed",
				Data:         json.RawMessage(`{"peerId":"a"}`),
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			byts, err := ca.msg.marshal()
			require.NoError(t, err)

			dec, err := ParseMessage(byts)
			require.NoError(t, err)
			require.Equal(t, &ca.msg, dec)
		})
	}
}

func TestMessageParseErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		enc  string
		err  string
	}{
		{
			"invalid JSON",
			`{`,
			"unexpected end of JSON input",
		},
		{
			"no flag",
			`{"id":1,"method":"join"}`,
			"missing message flag",
		},
		{
			"request without method",
			`{"request":true,"id":1}`,
			"missing request method",
		},
		{
			"request without id",
			`{"request":true,"method":"join"}`,
			"missing request id",
		},
		{
			"response without id",
			`{"response":true,"ok":true}`,
			"missing response id",
		},
		{
			"notification without method",
			`{"notification":true}`,
			"missing notification method",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(ca.enc))
			var perr InvalidMessageError
			require.ErrorAs(t, err, &perr)
			require.EqualError(t, err, "invalid envelope: "+ca.err)
		})
	}
}
