package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// BlockSize is the AES block size.
const BlockSize = aes.BlockSize

var ErrBufferOverflow = errors.New("crypto: buffer overflow")

// BlockCount returns the number of cipher blocks a message of length l occupies
// on the wire. A trailing block is always reserved, even when l is already a
// multiple of BlockSize.
func BlockCount(l int) int {
	return l/BlockSize + 1
}

// FramedLen returns the block-aligned length of a message of length l.
func FramedLen(l int) int {
	return BlockCount(l) * BlockSize
}

func checkFrame(buf []byte, l int) (int, error) {
	if l < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrBufferOverflow, l)
	}
	n := FramedLen(l)
	if n > len(buf) {
		return 0, fmt.Errorf("%w: %d bytes framed into a %d byte buffer", ErrBufferOverflow, n, len(buf))
	}
	return n, nil
}

// EncryptInPlace encrypts the first FramedLen(l) bytes of buf and returns that
// length. Bytes of buf between l and FramedLen(l) are encrypted as they are;
// callers zero them beforehand so the padding is reproducible.
func EncryptInPlace(buf []byte, l int, km KeyMaterial) (int, error) {
	n, err := checkFrame(buf, l)
	if err != nil {
		return 0, err
	}
	block, err := aes.NewCipher(km.Key[:])
	if err != nil {
		return 0, err
	}
	cipher.NewCBCEncrypter(block, km.IV[:]).CryptBlocks(buf[:n], buf[:n])
	return n, nil
}

// DecryptInPlace decrypts the first FramedLen(l) bytes of buf. l is the length
// reported by the link; the framing cannot recover the original plaintext
// length, so l is returned unchanged.
func DecryptInPlace(buf []byte, l int, km KeyMaterial) (int, error) {
	n, err := checkFrame(buf, l)
	if err != nil {
		return 0, err
	}
	block, err := aes.NewCipher(km.Key[:])
	if err != nil {
		return 0, err
	}
	cipher.NewCBCDecrypter(block, km.IV[:]).CryptBlocks(buf[:n], buf[:n])
	return l, nil
}
