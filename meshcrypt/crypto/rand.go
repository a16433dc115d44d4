package crypto

import (
	"crypto/rand"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// Source supplies the bytes used for generated keys and IVs. The choice of
// source decides the strength of the personal key material.
type Source = io.Reader

// SystemSource returns the operating system CSPRNG.
func SystemSource() Source { return rand.Reader }

// SeededSource is a deterministic ChaCha20 keystream. It stands in for the
// seeded generator of a hardware node and is only as strong as its seed.
type SeededSource struct {
	mu     sync.Mutex
	stream *chacha20.Cipher
}

// NewSeededSource creates a keystream source from a 32 byte seed.
func NewSeededSource(seed [32]byte) *SeededSource {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed by the types above.
		panic("crypto: chacha20: " + err.Error())
	}
	return &SeededSource{stream: c}
}

func (s *SeededSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(p)
	s.stream.XORKeyStream(p, p)
	return len(p), nil
}

// FillKey reads a fresh key from src.
func FillKey(src Source) (Key, error) {
	var k Key
	if _, err := io.ReadFull(src, k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// FillIV reads a fresh IV from src.
func FillIV(src Source) (IV, error) {
	var iv IV
	if _, err := io.ReadFull(src, iv[:]); err != nil {
		return IV{}, err
	}
	return iv, nil
}
