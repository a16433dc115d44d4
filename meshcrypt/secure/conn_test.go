package secure

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/keystore"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport/memory"
)

func referenceCBC(t *testing.T, km crypto.KeyMaterial, plaintext []byte) []byte {
	out := make([]byte, crypto.FramedLen(len(plaintext)))
	copy(out, plaintext)
	block, err := aes.NewCipher(km.Key[:])
	require.NoError(t, err)
	cipher.NewCBCEncrypter(block, km.IV[:]).CryptBlocks(out, out)
	return out
}

func newPair(t *testing.T) (*memory.Network, *memory.Endpoint, *memory.Endpoint) {
	ctx := context.Background()
	nw := memory.NewNetwork()
	a := nw.Endpoint(5)
	b := nw.Endpoint(1)
	require.NoError(t, a.Init(ctx))
	require.NoError(t, b.Init(ctx))
	return nw, a, b
}

func TestSendUnsyncedUsesDefaultKeys(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	_, a, b := newPair(t)

	conn := NewConn(a, keystore.New(nil), Options{})
	msg := []byte("hello mesh")
	res, err := conn.SendTo(ctx, msg, 1)
	require.NoError(err)
	require.Equal(transport.ResultSuccess, res)

	raw := make([]byte, FrameCapacity)
	n, src, _, ok := b.RecvFromAck(raw)
	require.True(ok)
	require.Equal(transport.Address(5), src)
	require.Equal(16, n)
	require.Equal(referenceCBC(t, crypto.DefaultKeyMaterial(), msg), raw[:n])
}

func TestSendSyncedUsesPersonalKeys(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	_, a, b := newPair(t)

	keys := keystore.New(nil)
	personal := crypto.KeyMaterial{Key: crypto.Key{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}}
	require.NoError(keys.SetKey(personal.Key))
	require.NoError(keys.SetIV(personal.IV))
	keys.MarkSynced()

	conn := NewConn(a, keys, Options{})
	msg := make([]byte, 16)
	res, err := conn.SendTo(ctx, msg, 1)
	require.NoError(err)
	require.Equal(transport.ResultSuccess, res)

	raw := make([]byte, FrameCapacity)
	n, _, _, ok := b.RecvFromAck(raw)
	require.True(ok)
	require.Equal(32, n, "an exact block multiple still gains a trailing block")
	require.Equal(referenceCBC(t, personal, msg), raw[:n])
}

func TestSendResultPassThrough(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	nw, a, _ := newPair(t)

	conn := NewConn(a, keystore.New(nil), Options{})
	res, err := conn.SendTo(ctx, []byte{1}, 77)
	require.NoError(err)
	require.Equal(transport.ResultNoRoute, res)

	nw.SetLinkDown(5, 1, true)
	res, err = conn.SendTo(ctx, []byte{1}, 1)
	require.NoError(err)
	require.Equal(transport.ResultUnableToDeliver, res)
}

func TestSendOverflow(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	_, a, b := newPair(t)

	conn := NewConn(a, keystore.New(nil), Options{})
	res, err := conn.SendTo(ctx, make([]byte, 256), 1)
	require.ErrorIs(err, ErrBufferOverflow)
	require.Equal(transport.ResultInvalidLength, res)

	_, _, _, ok := b.RecvFromAck(make([]byte, FrameCapacity))
	require.False(ok, "nothing reaches the transport")

	res, err = conn.SendTo(ctx, make([]byte, 255), 1)
	require.NoError(err)
	require.Equal(transport.ResultSuccess, res)
}

func TestRoundTripAllLengths(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	_, a, b := newPair(t)

	sender := NewConn(a, keystore.New(nil), Options{})
	receiver := NewConn(b, keystore.New(nil), Options{})

	out := make([]byte, FrameCapacity)
	for l := 0; l <= 240; l++ {
		msg := bytes.Repeat([]byte{byte(l)}, l)
		res, err := sender.SendTo(ctx, msg, 1)
		require.NoError(err)
		require.Equal(transport.ResultSuccess, res)

		d, ok, err := receiver.RecvFromAck(out)
		require.NoError(err)
		require.True(ok)
		require.Equal(crypto.FramedLen(l), d.Len)
		require.Equal(transport.Address(5), d.Source)
		require.Equal(transport.Address(1), d.Dest)
		require.Equal(msg, out[:l], "length %d", l)
	}
}

func TestRecvIntoShortBuffer(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	_, a, b := newPair(t)

	sender := NewConn(a, keystore.New(nil), Options{})
	receiver := NewConn(b, keystore.New(nil), Options{})

	_, err := sender.SendTo(ctx, make([]byte, 20), 1)
	require.NoError(err)

	_, ok, err := receiver.RecvFromAck(make([]byte, 16))
	require.ErrorIs(err, ErrBufferOverflow)
	require.False(ok)
}

func TestRecvFromAckEmpty(t *testing.T) {
	require := require.New(t)
	_, _, b := newPair(t)

	receiver := NewConn(b, keystore.New(nil), Options{})
	_, ok, err := receiver.RecvFromAck(make([]byte, FrameCapacity))
	require.NoError(err)
	require.False(ok)
}

// silentTransport never delivers anything and does not implement Notifier.
type silentTransport struct{}

func (silentTransport) Init(context.Context) error  { return nil }
func (silentTransport) Address() transport.Address { return 3 }
func (silentTransport) AssignAddress(context.Context) (transport.Address, error) {
	return 3, nil
}
func (silentTransport) SendToWaitAck(context.Context, []byte, transport.Address) transport.ResultCode {
	return transport.ResultSuccess
}
func (silentTransport) RecvFromAck([]byte) (int, transport.Address, transport.Address, bool) {
	return 0, 0, 0, false
}

func TestRecvTimeoutBound(t *testing.T) {
	const timeout = 500 * time.Millisecond
	const slack = 250 * time.Millisecond

	for name, tr := range map[string]transport.Transport{
		"polling":  silentTransport{},
		"notifier": memory.NewNetwork().Endpoint(4),
	} {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			conn := NewConn(tr, keystore.New(nil), Options{})

			start := time.Now()
			_, ok, err := conn.RecvFromAckTimeout(context.Background(), make([]byte, FrameCapacity), timeout)
			elapsed := time.Since(start)

			require.NoError(err)
			require.False(ok)
			require.GreaterOrEqual(elapsed, timeout)
			require.Less(elapsed, timeout+slack)
		})
	}
}

func TestRecvTimeoutDelivers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	_, a, b := newPair(t)

	sender := NewConn(a, keystore.New(nil), Options{})
	receiver := NewConn(b, keystore.New(nil), Options{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = sender.SendTo(ctx, []byte("late"), 1)
	}()

	out := make([]byte, FrameCapacity)
	start := time.Now()
	d, ok, err := receiver.RecvFromAckTimeout(ctx, out, time.Second)
	require.NoError(err)
	require.True(ok)
	require.Less(time.Since(start), 500*time.Millisecond)
	require.Equal("late", string(out[:4]))
	require.Equal(16, d.Len)
}

func TestRecvTimeoutCancelled(t *testing.T) {
	require := require.New(t)

	conn := NewConn(silentTransport{}, keystore.New(nil), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := conn.RecvFromAckTimeout(ctx, make([]byte, FrameCapacity), time.Minute)
	require.ErrorIs(err, context.Canceled)
	require.False(ok)
}

func TestConcurrentSendsDoNotShareBuffers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	nw := memory.NewNetwork(memory.WithInboxSize(64))
	a := nw.Endpoint(5)
	b := nw.Endpoint(1)
	require.NoError(a.Init(ctx))
	require.NoError(b.Init(ctx))

	sender := NewConn(a, keystore.New(nil), Options{})
	receiver := NewConn(b, keystore.New(nil), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := bytes.Repeat([]byte{byte(i + 1)}, 1+i%40)
			_, _ = sender.SendTo(ctx, msg, 1)
		}(i)
	}
	wg.Wait()

	out := make([]byte, FrameCapacity)
	for i := 0; i < 32; i++ {
		d, ok, err := receiver.RecvFromAck(out)
		require.NoError(err)
		require.True(ok)
		v := out[0]
		l := 1 + int(v-1)%40
		require.Equal(bytes.Repeat([]byte{v}, l), out[:l])
		require.Equal(make([]byte, d.Len-l), out[l:d.Len])
	}
}

func TestSealOpen(t *testing.T) {
	require := require.New(t)

	km := crypto.DefaultKeyMaterial()
	frame := make([]byte, FrameCapacity+crypto.BlockSize)
	n, err := Seal(frame[:FrameCapacity], []byte("abc"), km)
	require.NoError(err)
	require.Equal(16, n)

	_, err = Open(frame, n, km)
	require.NoError(err)
	require.Equal("abc", string(frame[:3]))

	_, err = Seal(make([]byte, 16), make([]byte, 16), km)
	require.ErrorIs(err, ErrBufferOverflow)
}
