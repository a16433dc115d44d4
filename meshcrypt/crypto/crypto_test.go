package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeyMaterial() KeyMaterial {
	var km KeyMaterial
	for i := range km.Key {
		km.Key[i] = byte(i)
		km.IV[i] = byte(0xf0 - i)
	}
	return km
}

func TestBlockCount(t *testing.T) {
	require := require.New(t)

	cases := []struct {
		l      int
		blocks int
	}{
		{0, 1},
		{1, 1},
		{15, 1},
		{16, 2},
		{17, 2},
		{32, 3},
		{240, 16},
		{255, 16},
	}
	for _, c := range cases {
		require.Equal(c.blocks, BlockCount(c.l), "length %d", c.l)
		require.Equal(c.blocks*BlockSize, FramedLen(c.l), "length %d", c.l)
	}
}

func TestFramingRoundTrip(t *testing.T) {
	require := require.New(t)
	km := testKeyMaterial()

	for l := 0; l <= 240; l++ {
		plaintext := make([]byte, l)
		for i := range plaintext {
			plaintext[i] = byte(i*7 + l)
		}

		// The receiver decrypts by the reported length, which earns one
		// more block than the sender framed.
		buf := make([]byte, FramedLen(FramedLen(l)))
		copy(buf, plaintext)

		n, err := EncryptInPlace(buf, l, km)
		require.NoError(err)
		require.Equal(FramedLen(l), n)
		require.Zero(n % BlockSize)

		got, err := DecryptInPlace(buf, n, km)
		require.NoError(err)
		require.Equal(n, got)
		require.True(bytes.Equal(plaintext, buf[:l]), "length %d", l)
		require.Equal(make([]byte, n-l), buf[l:n], "padding must decrypt to zero at length %d", l)
		require.Len(buf, n+BlockSize)
	}
}

func TestEncryptMatchesReferenceCBC(t *testing.T) {
	require := require.New(t)
	km := DefaultKeyMaterial()

	msg := []byte("reference frame for the default key")
	buf := make([]byte, 256)
	copy(buf, msg)
	n, err := EncryptInPlace(buf, len(msg), km)
	require.NoError(err)
	require.Equal(48, n)

	want := make([]byte, 48)
	copy(want, msg)
	block, err := aes.NewCipher(km.Key[:])
	require.NoError(err)
	cipher.NewCBCEncrypter(block, km.IV[:]).CryptBlocks(want, want)
	require.Equal(want, buf[:n])
}

func TestDefaultKeyMaterial(t *testing.T) {
	require := require.New(t)
	km := DefaultKeyMaterial()
	require.Equal("3f05dde3d88822548514f1fb4165f294", km.Key.String())
	require.Equal(IV{}, km.IV)
}

func TestFramingOverflow(t *testing.T) {
	require := require.New(t)
	km := testKeyMaterial()

	buf := make([]byte, 32)
	_, err := EncryptInPlace(buf, 32, km)
	require.ErrorIs(err, ErrBufferOverflow)

	_, err = DecryptInPlace(buf, 40, km)
	require.ErrorIs(err, ErrBufferOverflow)

	_, err = EncryptInPlace(buf, -1, km)
	require.ErrorIs(err, ErrBufferOverflow)

	n, err := EncryptInPlace(buf, 31, km)
	require.NoError(err)
	require.Equal(32, n)
}

func TestParseHex(t *testing.T) {
	require := require.New(t)

	k, err := ParseKeyHex("000102030405060708090a0b0c0d0e0f")
	require.NoError(err)
	require.Equal(byte(0x0f), k[15])

	_, err = ParseIVHex("0001")
	require.ErrorIs(err, ErrInvalidKeyMaterial)

	_, err = ParseKeyHex("zz")
	require.ErrorIs(err, ErrInvalidKeyMaterial)
}

func BenchmarkEncryptInPlace(b *testing.B) {
	km := testKeyMaterial()
	buf := make([]byte, 256)
	b.SetBytes(240)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = EncryptInPlace(buf, 239, km)
	}
}
