package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// HandshakePayloadSize is the size of the announced IV or key.
const HandshakePayloadSize = 16

var ErrMalformedHandshake = errors.New("protocol: malformed handshake")

// Handshake announces a node's IV or key to the server, and is echoed back by
// the server as confirmation.
type Handshake struct {
	Type    MessageType
	Sender  uint8
	Payload [HandshakePayloadSize]byte
}

// The payload travels as an array of 16 integers, not a byte string, so
// peers that speak the integer array form interoperate.
var handshakeEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{ByteArray: cbor.ByteArrayToArray}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type wireHandshake struct {
	Type    uint8                      `cbor:"type"`
	Sender  uint8                      `cbor:"sender"`
	Payload [HandshakePayloadSize]byte `cbor:"payload"`
}

// rawHandshake keeps the payload length so short or long payloads can be
// told apart from valid ones.
type rawHandshake struct {
	Type    uint8   `cbor:"type"`
	Sender  uint8   `cbor:"sender"`
	Payload []uint8 `cbor:"payload"`
}

func EncodeHandshake(h Handshake) ([]byte, error) {
	if h.Type != MessageTypeSyncIV && h.Type != MessageTypeSyncKey {
		return nil, ErrInvalidType
	}
	return handshakeEncMode.Marshal(wireHandshake{
		Type:    uint8(h.Type),
		Sender:  h.Sender,
		Payload: h.Payload,
	})
}

// DecodeHandshake decodes the first CBOR item of b. Anything after it, such as
// the zero padding of a decrypted frame, is ignored.
func DecodeHandshake(b []byte) (Handshake, error) {
	var w rawHandshake
	if _, err := cbor.UnmarshalFirst(b, &w); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrMalformedHandshake, err)
	}
	mt := MessageType(w.Type)
	if mt != MessageTypeSyncIV && mt != MessageTypeSyncKey {
		return Handshake{}, fmt.Errorf("%w: %d", ErrInvalidType, w.Type)
	}
	if len(w.Payload) != HandshakePayloadSize {
		return Handshake{}, fmt.Errorf("%w: payload is %d bytes", ErrMalformedHandshake, len(w.Payload))
	}
	h := Handshake{Type: mt, Sender: w.Sender}
	copy(h.Payload[:], w.Payload)
	return h, nil
}
