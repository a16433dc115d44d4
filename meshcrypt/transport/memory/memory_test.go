package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

func TestSendAndReceive(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	nw := NewNetwork()
	a := nw.Endpoint(1)
	b := nw.Endpoint(2)
	require.NoError(a.Init(ctx))
	require.NoError(b.Init(ctx))

	require.Equal(transport.ResultSuccess, a.SendToWaitAck(ctx, []byte("hi"), 2))

	select {
	case <-b.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	buf := make([]byte, 16)
	n, src, dst, ok := b.RecvFromAck(buf)
	require.True(ok)
	require.Equal("hi", string(buf[:n]))
	require.Equal(transport.Address(1), src)
	require.Equal(transport.Address(2), dst)

	_, _, _, ok = b.RecvFromAck(buf)
	require.False(ok)
}

func TestResultCodes(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	nw := NewNetwork(WithInboxSize(1))
	a := nw.Endpoint(1)
	b := nw.Endpoint(2)
	require.NoError(a.Init(ctx))
	require.NoError(b.Init(ctx))

	require.Equal(transport.ResultNoRoute, a.SendToWaitAck(ctx, []byte{1}, 9))
	require.Equal(transport.ResultInvalidLength, a.SendToWaitAck(ctx, make([]byte, transport.MaxMessageLen+1), 2))

	nw.SetLinkDown(1, 2, true)
	require.Equal(transport.ResultUnableToDeliver, a.SendToWaitAck(ctx, []byte{1}, 2))
	nw.SetLinkDown(2, 1, false)

	require.Equal(transport.ResultSuccess, a.SendToWaitAck(ctx, []byte{1}, 2))
	require.Equal(transport.ResultUnableToDeliver, a.SendToWaitAck(ctx, []byte{2}, 2), "inbox full")

	require.NoError(b.Close())
	require.Equal(transport.ResultNoRoute, a.SendToWaitAck(ctx, []byte{1}, 2))
}

func TestAssignAddress(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	nw := NewNetwork(WithAddressPool(5))
	server := nw.Endpoint(1)
	require.NoError(server.Init(ctx))

	e := nw.Endpoint(transport.Unassigned)
	require.NoError(e.Init(ctx))
	require.Equal(transport.Unassigned, e.Address())

	addr, err := e.AssignAddress(ctx)
	require.NoError(err)
	require.Equal(transport.Address(5), addr)
	require.Equal(addr, e.Address())

	e2 := nw.Endpoint(transport.Unassigned)
	addr2, err := e2.AssignAddress(ctx)
	require.NoError(err)
	require.Equal(transport.Address(6), addr2)

	dup := nw.Endpoint(5)
	require.ErrorIs(dup.Init(ctx), ErrAddressInUse)
	require.ElementsMatch([]transport.Address{1, 5, 6}, nw.Addresses())
}

func TestBroadcast(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	nw := NewNetwork()
	eps := []*Endpoint{nw.Endpoint(1), nw.Endpoint(2), nw.Endpoint(3)}
	for _, e := range eps {
		require.NoError(e.Init(ctx))
	}

	require.Equal(transport.ResultSuccess, eps[0].SendToWaitAck(ctx, []byte("all"), transport.BroadcastAddress))

	buf := make([]byte, 8)
	_, _, _, ok := eps[0].RecvFromAck(buf)
	require.False(ok, "sender does not hear itself")
	for _, e := range eps[1:] {
		n, src, dst, ok := e.RecvFromAck(buf)
		require.True(ok)
		require.Equal("all", string(buf[:n]))
		require.Equal(transport.Address(1), src)
		require.Equal(transport.BroadcastAddress, dst)
	}
}
