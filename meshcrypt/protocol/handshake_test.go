package protocol

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestHandshakeEncodeDecode(t *testing.T) {
	require := require.New(t)

	in := Handshake{Type: MessageTypeSyncKey, Sender: 5}
	for i := range in.Payload {
		in.Payload[i] = 1
	}
	b, err := EncodeHandshake(in)
	require.NoError(err)
	require.Less(len(b), 64, "a handshake must fit a small radio frame")

	// Decrypted frames carry zero padding up to the block boundary.
	padded := append(append([]byte(nil), b...), make([]byte, 24)...)
	out, err := DecodeHandshake(padded)
	require.NoError(err)
	require.Equal(in, out)
}

func TestHandshakeFieldNames(t *testing.T) {
	require := require.New(t)

	b, err := EncodeHandshake(Handshake{Type: MessageTypeSyncIV, Sender: 1})
	require.NoError(err)

	var m map[string]any
	require.NoError(cbor.Unmarshal(b, &m))
	require.Contains(m, "type")
	require.Contains(m, "sender")
	require.Contains(m, "payload")
	require.EqualValues(1, m["type"])
}

func TestHandshakePayloadIsIntegerArray(t *testing.T) {
	require := require.New(t)

	in := Handshake{Type: MessageTypeSyncKey, Sender: 5}
	for i := range in.Payload {
		in.Payload[i] = byte(200 + i)
	}
	b, err := EncodeHandshake(in)
	require.NoError(err)

	var m map[string]any
	require.NoError(cbor.Unmarshal(b, &m))
	arr, ok := m["payload"].([]any)
	require.True(ok, "payload must be a CBOR array, got %T", m["payload"])
	require.Len(arr, HandshakePayloadSize)
	for i, v := range arr {
		require.EqualValues(200+i, v)
	}

	// A peer that sends the payload as an integer array in a plain map.
	other, err := cbor.Marshal(map[string]any{"type": 2, "sender": 5, "payload": arr})
	require.NoError(err)
	out, err := DecodeHandshake(other)
	require.NoError(err)
	require.Equal(in, out)
}

func TestHandshakeRejects(t *testing.T) {
	require := require.New(t)

	_, err := EncodeHandshake(Handshake{Type: 7})
	require.ErrorIs(err, ErrInvalidType)

	short, err := cbor.Marshal(map[string]any{"type": 1, "sender": 1, "payload": []int{1, 2, 3}})
	require.NoError(err)
	_, err = DecodeHandshake(short)
	require.ErrorIs(err, ErrMalformedHandshake)

	unknown, err := cbor.Marshal(map[string]any{"type": 9, "sender": 1, "payload": make([]int, 16)})
	require.NoError(err)
	_, err = DecodeHandshake(unknown)
	require.ErrorIs(err, ErrInvalidType)

	wide, err := cbor.Marshal(map[string]any{"type": 1, "sender": 1, "payload": []int{256, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}})
	require.NoError(err)
	_, err = DecodeHandshake(wide)
	require.ErrorIs(err, ErrMalformedHandshake)

	_, err = DecodeHandshake(make([]byte, 32))
	require.ErrorIs(err, ErrMalformedHandshake)

	_, err = DecodeHandshake(nil)
	require.ErrorIs(err, ErrMalformedHandshake)
}
