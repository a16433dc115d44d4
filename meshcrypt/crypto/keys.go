package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize is the size of an AES-128 key and of a CBC initialization vector.
	KeySize = 16
)

var ErrInvalidKeyMaterial = errors.New("crypto: invalid key material")

// Key is an AES-128 key.
type Key [KeySize]byte

// IV is a CBC initialization vector.
type IV [KeySize]byte

// KeyMaterial is the key/IV pair used to frame traffic.
type KeyMaterial struct {
	Key Key
	IV  IV
}

// defaultKeyMaterial is shared by every node of the network and only protects
// the bootstrap handshake.
var defaultKeyMaterial = KeyMaterial{
	Key: Key{63, 5, 221, 227, 216, 136, 34, 84, 133, 20, 241, 251, 65, 101, 242, 148},
	IV:  IV{},
}

// DefaultKeyMaterial returns the compiled-in network-wide key/IV pair.
// It must not be used once a node has synchronized its personal material.
func DefaultKeyMaterial() KeyMaterial { return defaultKeyMaterial }

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func (iv IV) String() string { return hex.EncodeToString(iv[:]) }

// ParseKeyHex parses a hex encoded 16 byte key.
func ParseKeyHex(s string) (Key, error) {
	var k Key
	if err := decodeHex16(s, k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// ParseIVHex parses a hex encoded 16 byte IV.
func ParseIVHex(s string) (IV, error) {
	var iv IV
	if err := decodeHex16(s, iv[:]); err != nil {
		return IV{}, err
	}
	return iv, nil
}

func decodeHex16(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if len(b) != KeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyMaterial, len(b), KeySize)
	}
	copy(dst, b)
	return nil
}
